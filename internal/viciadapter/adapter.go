// Package viciadapter is the only component that speaks VICI to charon
// (C3). Other components hold typed configs and pass them here.
package viciadapter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/strongswan/govici/vici"

	"github.com/swavlamban/extsockd/internal/apperrors"
	"github.com/swavlamban/extsockd/internal/config"
	"github.com/swavlamban/extsockd/internal/credstore"
	"github.com/swavlamban/extsockd/internal/registry"
)

// Adapter installs and removes connections against charon over VICI, and
// answers registry lookups on the registry's behalf.
type Adapter struct {
	holder *sessionHolder
	reg    *registry.Registry
	creds  *credstore.Store

	ready atomic.Bool
}

// New constructs an Adapter bound to the given registry and credential
// store, talking to charon at socketPath (default /var/run/charon.vici).
func New(socketPath string, reg *registry.Registry, creds *credstore.Store) *Adapter {
	if socketPath == "" {
		socketPath = "/var/run/charon.vici"
	}
	return &Adapter{
		holder: newSessionHolder(socketPath),
		reg:    reg,
		creds:  creds,
	}
}

// ensureReady lazily connects to charon. Connection failures are retried
// on next use rather than treated as fatal, since charon may not yet be
// running when extsockd starts (mirrors the teacher's
// LinuxManager.Initialize, which warns and continues).
func (a *Adapter) ensureReady(ctx context.Context) (session, error) {
	sess, err := a.holder.get()
	if err != nil {
		a.ready.Store(false)
		return nil, err
	}
	a.ready.Store(true)
	return sess, nil
}

// Install translates cfg into a VICI load-conn request, pushes its
// credentials, registers it in the registry, and initiates every child
// whose start_action is Start.
func (a *Adapter) Install(ctx context.Context, cfg *config.PeerConfig) error {
	sess, err := a.ensureReady(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
	}

	msg, err := buildLoadConnMessage(cfg)
	if err != nil {
		return fmt.Errorf("%w: translate %s: %v", apperrors.ErrConfigInvalid, cfg.Name, err)
	}

	if _, err := sess.CommandRequest("load-conn", msg); err != nil {
		a.holder.invalidate()
		return fmt.Errorf("%w: load-conn %s: %v", apperrors.ErrHostAPIFailure, cfg.Name, err)
	}

	a.creds.Absorb(cfg)
	if err := a.creds.Sync(sess); err != nil {
		log.Warn().Err(err).Str("name", cfg.Name).Msg("credential sync failed, connection still registered")
	}

	a.reg.Register(cfg)

	for _, c := range cfg.Children {
		if c.StartAction != config.ActionStart {
			continue
		}
		if err := a.initiateChild(sess, cfg.Name, c.Name); err != nil {
			log.Warn().Err(err).Str("name", cfg.Name).Str("child", c.Name).Msg("initial initiate failed")
		}
	}

	return nil
}

// Remove unloads the named connection from charon and drops it from the
// registry. It does not terminate any live SA; charon decides that.
func (a *Adapter) Remove(ctx context.Context, name string) error {
	sess, err := a.ensureReady(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
	}

	msg := vici.NewMessage()
	if err := msg.Set("name", name); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	if _, err := sess.CommandRequest("unload-conn", msg); err != nil {
		a.holder.invalidate()
		return fmt.Errorf("%w: unload-conn %s: %v", apperrors.ErrHostAPIFailure, name, err)
	}

	a.reg.Remove(name)
	return nil
}

// StartDPD is a best-effort liveness nudge for the named IKE SA. VICI
// exposes no dedicated "send DPD" command, so this issues an `initiate`
// scoped to the IKE SA alone (no child), which causes charon to confirm
// or re-negotiate liveness — the closest available primitive to the
// source's direct DPD trigger. See DESIGN.md.
func (a *Adapter) StartDPD(ctx context.Context, ikeName string) error {
	sess, err := a.ensureReady(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
	}

	msg := vici.NewMessage()
	if err := msg.Set("ike", ikeName); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	if _, err := sess.StreamedCommandRequest("initiate", "control-log", msg); err != nil {
		a.holder.invalidate()
		return fmt.Errorf("%w: start_dpd %s: %v", apperrors.ErrHostAPIFailure, ikeName, err)
	}
	return nil
}

// InitiateChild unconditionally initiates the named child SA under peer,
// used by the failover controller.
func (a *Adapter) InitiateChild(ctx context.Context, peerName, childName string) error {
	sess, err := a.ensureReady(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrHostAPIFailure, err)
	}
	return a.initiateChild(sess, peerName, childName)
}

func (a *Adapter) initiateChild(sess session, peerName, childName string) error {
	msg := vici.NewMessage()
	if err := msg.Set("child", childName); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfigInvalid, err)
	}
	if _, err := sess.StreamedCommandRequest("initiate", "control-log", msg); err != nil {
		a.holder.invalidate()
		return fmt.Errorf("%w: initiate %s/%s: %v", apperrors.ErrHostAPIFailure, peerName, childName, err)
	}
	return nil
}

// CreatePeerCfgEnumerator answers a backend-style lookup by delegating to
// the registry. Empty identity arguments are treated as wildcards.
func (a *Adapter) CreatePeerCfgEnumerator(localID, remoteID string) []*config.PeerConfig {
	return a.reg.Enumerate(localID, remoteID)
}

// GetPeerCfgByName delegates to the registry.
func (a *Adapter) GetPeerCfgByName(name string) (*config.PeerConfig, bool) {
	return a.reg.FindByName(name)
}

// CreateIkeCfgEnumerator always returns empty: this daemon contributes IKE
// configs only via peer configs. Kept for interface parity with the
// source's backend registration contract (SPEC_FULL §6.3).
func (a *Adapter) CreateIkeCfgEnumerator(localHost, remoteHost string) []struct{} {
	return nil
}

// Close disconnects from charon's VICI socket.
func (a *Adapter) Close() error {
	return a.holder.close()
}
