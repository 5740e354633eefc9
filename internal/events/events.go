// Package events implements the event bus listener (C5): it turns raw
// VICI event deliveries into the enriched JSON payloads the control
// channel publishes, and detects IKE-SA failure to drive the failover
// controller.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/viciadapter"
)

// Publisher delivers a fully-formed JSON event payload to the control
// channel. Emission failures are the publisher's problem to log and
// discard; they must never propagate back into the listener.
type Publisher interface {
	PublishEvent(payload []byte)
}

// FailureHandler is invoked when an IKE SA is destroyed without ever
// reaching ESTABLISHED (the failover controller, in production).
type FailureHandler interface {
	HandleConnectionFailure(ikeSAName, currentRemoteAddr string)
}

// ResetHandler is invoked on every successful establishment (an IKE SA
// coming up, or a child SA reported as tunnel_up), to clear a connection's
// retry budget.
type ResetHandler interface {
	ResetRetryCount(name string)
}

// Source streams raw VICI events, as produced by (*viciadapter.Adapter).Subscribe.
type Source interface {
	Subscribe(ctx context.Context, events ...string) (<-chan viciadapter.RawEvent, error)
}

// Listener is the event bus listener (C5).
type Listener struct {
	source    Source
	publisher Publisher
	failover  FailureHandler
	reset     ResetHandler

	mu             sync.Mutex
	everEstablished map[string]bool
}

// New constructs a Listener wired to the given event source, publisher,
// and failover controller.
func New(source Source, publisher Publisher, failover FailureHandler, reset ResetHandler) *Listener {
	return &Listener{
		source:          source,
		publisher:       publisher,
		failover:        failover,
		reset:           reset,
		everEstablished: make(map[string]bool),
	}
}

// Run subscribes to the four SA-lifecycle event names and processes
// deliveries until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	raw, err := l.source.Subscribe(ctx, "ike-updown", "child-updown", "ike-rekey", "child-rekey")
	if err != nil {
		return err
	}
	for ev := range raw {
		l.dispatch(ev)
	}
	return nil
}

func (l *Listener) dispatch(ev viciadapter.RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", ev.Name).Msg("recovered from panic processing vici event")
		}
	}()

	switch ev.Name {
	case "ike-updown":
		l.handleIkeUpdown(ev.Message)
	case "child-updown":
		l.handleChildUpdown(ev.Message, false)
	case "ike-rekey":
		l.handleIkeRekey(ev.Message)
	case "child-rekey":
		l.handleChildRekey(ev.Message)
	default:
		log.Debug().Str("event", ev.Name).Msg("unrecognized vici event, dropped")
	}
}

func (l *Listener) handleIkeUpdown(msg *vici.Message) {
	sa, name, ok := firstIKESA(msg)
	if !ok {
		return
	}
	up := stringField(sa, "state") == "ESTABLISHED" || stringField(sa, "up") == "yes"

	l.mu.Lock()
	if up {
		l.everEstablished[name] = true
	} else {
		established := l.everEstablished[name]
		delete(l.everEstablished, name)
		l.mu.Unlock()

		kind := "ike_sa_down"
		l.publish(map[string]any{
			"event":       kind,
			"ike_sa_name": name,
			"state":       stringField(sa, "state"),
		})

		if !established {
			if l.failover != nil {
				l.failover.HandleConnectionFailure(name, stringField(sa, "remote-host"))
			}
			return
		}
		return
	}
	l.mu.Unlock()

	l.publish(map[string]any{
		"event":       "ike_sa_up",
		"ike_sa_name": name,
		"state":       stringField(sa, "state"),
	})
	if l.reset != nil {
		l.reset.ResetRetryCount(name)
	}
}

func (l *Listener) handleChildUpdown(msg *vici.Message, synthesizeUp bool) {
	sa, ikeName, ok := firstIKESA(msg)
	if !ok {
		return
	}
	child, childName, ok := firstChildSA(sa)
	if !ok {
		return
	}

	up := synthesizeUp || stringField(child, "state") == "INSTALLED"
	kind := "tunnel_down"
	if up {
		kind = "tunnel_up"
	}

	local, remote := firstTSPair(child)

	l.publish(map[string]any{
		"event":          kind,
		"ike_sa_name":    ikeName,
		"child_sa_name":  childName,
		"ike_sa_state":   stateNumber(stringField(sa, "state")),
		"child_sa_state": stateNumber(stringField(child, "state")),
		"spi":            spiNumber(stringField(child, "spi-in")),
		"proto":          protoString(stringField(child, "protocol")),
		"mode":           modeString(stringField(child, "mode")),
		"enc_alg":        "unknown",
		"integ_alg":      "unknown",
		"src":            stringField(sa, "local-host"),
		"dst":            stringField(sa, "remote-host"),
		"local_ts":       local,
		"remote_ts":      remote,
		"direction":      "out",
		"policy_action":  "protect",
	})
	if up && l.reset != nil {
		l.reset.ResetRetryCount(ikeName)
	}
}

func (l *Listener) handleIkeRekey(msg *vici.Message) {
	sa, _, ok := firstIKESA(msg)
	if !ok {
		return
	}
	l.publish(map[string]any{
		"event":             "ike_rekey",
		"old_ike_sa_name":   stringField(sa, "old-name"),
		"new_ike_sa_name":   stringField(sa, "new-name"),
	})
}

func (l *Listener) handleChildRekey(msg *vici.Message) {
	sa, ikeName, ok := firstIKESA(msg)
	if !ok {
		return
	}
	child, _, ok := firstChildSA(sa)
	if !ok {
		return
	}
	l.publish(map[string]any{
		"event":               "child_rekey",
		"ike_sa_name":         ikeName,
		"old_child_sa_name":   stringField(child, "old-name"),
		"new_child_sa_name":   stringField(child, "new-name"),
	})
	// A rekey of a child SA also synthesizes a tunnel_up for the new
	// child, matching the source listener's handle_child_updown(..., TRUE)
	// call after emitting child_rekey.
	l.handleChildUpdown(msg, true)
}

func (l *Listener) publish(fields map[string]any) {
	data, err := json.Marshal(fields)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event payload, discarding")
		return
	}
	if l.publisher != nil {
		l.publisher.PublishEvent(data)
	}
}

func stateNumber(state string) int {
	switch state {
	case "CREATED":
		return 0
	case "CONNECTING":
		return 1
	case "ESTABLISHED", "INSTALLED":
		return 2
	case "REKEYING":
		return 3
	case "REKEYED":
		return 4
	case "DELETING":
		return 5
	case "DESTROYING":
		return 6
	default:
		return -1
	}
}

func spiNumber(hex string) uint32 {
	if hex == "" {
		return 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func protoString(p string) string {
	switch p {
	case "esp", "ESP":
		return "esp"
	case "ah", "AH":
		return "ah"
	default:
		return "unknown"
	}
}

func modeString(m string) string {
	switch m {
	case "tunnel", "TUNNEL":
		return "tunnel"
	case "transport", "TRANSPORT":
		return "transport"
	default:
		return "unknown"
	}
}
