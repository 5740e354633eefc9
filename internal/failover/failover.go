// Package failover implements the SEGW failover controller (C6): on
// connection failure, derive a config targeting the next address in a
// configured list, respect a per-connection retry budget, and re-initiate.
package failover

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/swavlamban/extsockd/internal/config"
)

// MaxRetry bounds the per-connection retry budget (RetryMap[name]).
const MaxRetry = 5

var derivativeSuffix = regexp.MustCompile(`-failover-[^-]+$`)

// Lookup resolves a connection name to its registered PeerConfig, as
// provided by the registry.
type Lookup interface {
	FindByName(name string) (*config.PeerConfig, bool)
}

// Installer installs a derived PeerConfig against charon, as provided by
// the VICI adapter.
type Installer interface {
	Install(ctx context.Context, cfg *config.PeerConfig) error
}

// Controller is the failover controller (C6).
type Controller struct {
	lookup    Lookup
	installer Installer

	mu      sync.Mutex
	active  map[string]string
	retries map[string]int
}

// New constructs a Controller resolving sources via lookup and installing
// derivatives via installer.
func New(lookup Lookup, installer Installer) *Controller {
	return &Controller{
		lookup:    lookup,
		installer: installer,
		active:    make(map[string]string),
		retries:   make(map[string]int),
	}
}

// baseName strips any "-failover-<addr>" suffix so repeated failures of
// successive derivatives still accumulate against the original
// connection's retry budget and address list.
func baseName(ikeSAName string) string {
	return derivativeSuffix.ReplaceAllString(ikeSAName, "")
}

// HandleConnectionFailure implements the §4.6 core algorithm. Every step
// that can fail returns early with a logged diagnostic; no error escapes
// to the caller (the event-processing goroutine), since a stalled
// failover attempt must never block event delivery.
func (c *Controller) HandleConnectionFailure(ikeSAName, currentRemoteAddr string) {
	base := baseName(ikeSAName)

	src, ok := c.lookup.FindByName(base)
	if !ok {
		log.Debug().Str("name", base).Msg("failover: no registered config for failed connection")
		return
	}

	addrs := SplitAddrs(src.IKE.RemoteAddrs)
	if len(addrs) < 2 {
		return
	}

	c.mu.Lock()
	if c.retries[base] >= MaxRetry {
		c.mu.Unlock()
		log.Warn().Str("name", base).Msg("failover: retry budget exhausted")
		return
	}
	c.mu.Unlock()

	next := SelectNextSegw(src.IKE.RemoteAddrs, currentRemoteAddr)
	if next == "" {
		return
	}

	derived := ClonePeerConfigWithRemote(src, next)

	if err := c.installer.Install(context.Background(), derived); err != nil {
		log.Warn().Err(err).Str("name", derived.Name).Msg("failover: install rejected, retry not counted")
		return
	}

	c.mu.Lock()
	c.active[base] = next
	c.retries[base]++
	c.mu.Unlock()

	log.Info().Str("name", base).Str("next", next).Msg("failover: installed derivative")
}

// ResetRetryCount clears name's retry budget, called on every successful
// child establishment observed for name or one of its derivatives.
func (c *Controller) ResetRetryCount(name string) {
	base := baseName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.retries, base)
}

// RetryCount reports the current retry count for name, for tests and
// status reporting.
func (c *Controller) RetryCount(name string) int {
	base := baseName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[base]
}

// SplitAddrs parses a comma-joined address list, trimming whitespace and
// dropping empty entries.
func SplitAddrs(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SelectNextSegw implements the deterministic round-robin selection: parse
// csv into an ordered address list, find current's index (defaulting to 0
// if absent), and return the next entry, wrapping around. Returns "" if
// csv has fewer than two addresses.
func SelectNextSegw(csv, current string) string {
	addrs := SplitAddrs(csv)
	n := len(addrs)
	if n < 2 {
		return ""
	}
	idx := indexOf(addrs, current)
	if idx == -1 {
		idx = 0
	}
	return addrs[(idx+1)%n]
}

func indexOf(addrs []string, v string) int {
	for i, a := range addrs {
		if a == v {
			return i
		}
	}
	return -1
}

// ClonePeerConfigWithRemote produces a failover derivative of src: a deep
// copy named "<src.Name>-failover-<next>" whose IkeConfig.RemoteAddrs is
// the single address next, with every child's start_action forced to
// Start so installation triggers immediate negotiation. Every other field
// is byte-identical to src (Invariant 5).
func ClonePeerConfigWithRemote(src *config.PeerConfig, next string) *config.PeerConfig {
	derived := src.Clone()
	derived.Name = src.Name + "-failover-" + next
	derived.IKE.RemoteAddrs = next
	for i := range derived.Children {
		derived.Children[i].StartAction = config.ActionStart
	}
	return derived
}
