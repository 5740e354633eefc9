// Package command implements the command router (C8): parses control
// channel verbs and dispatches to the parser and VICI adapter.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/swavlamban/extsockd/internal/apperrors"
	"github.com/swavlamban/extsockd/internal/config"
)

const (
	verbApplyConfig  = "APPLY_CONFIG "
	verbStartDPD     = "START_DPD "
	verbRemoveConfig = "REMOVE_CONFIG "
)

// Installer installs parsed connections against charon (satisfied by
// *viciadapter.Adapter).
type Installer interface {
	Install(ctx context.Context, cfg *config.PeerConfig) error
	Remove(ctx context.Context, name string) error
	StartDPD(ctx context.Context, ikeName string) error
}

// AuditSink records every dispatched command for the ambient audit log.
// Nil is a valid AuditSink (no-op) when auditing is disabled.
type AuditSink interface {
	LogCommand(verb, detail string)
}

// Router is the command router (C8). It implements controlchannel.Handler.
type Router struct {
	installer Installer
	audit     AuditSink
}

// New constructs a Router dispatching through installer, optionally
// recording every command with audit.
func New(installer Installer, audit AuditSink) *Router {
	return &Router{installer: installer, audit: audit}
}

// Handle parses one raw control-channel line and dispatches it. Handler
// errors are returned to the caller (the control channel), which logs
// them and writes a diagnostic back to the client; Handle itself never
// panics.
func (r *Router) Handle(line string) error {
	ctx := context.Background()

	switch {
	case strings.HasPrefix(line, verbApplyConfig):
		payload := strings.TrimPrefix(line, verbApplyConfig)
		r.recordAudit(verbApplyConfig, payload)
		return r.applyConfig(ctx, payload)

	case strings.HasPrefix(line, verbStartDPD):
		name := strings.TrimSpace(strings.TrimPrefix(line, verbStartDPD))
		r.recordAudit(verbStartDPD, name)
		if err := r.installer.StartDPD(ctx, name); err != nil {
			return fmt.Errorf("start_dpd %s: %w", name, err)
		}
		return nil

	case strings.HasPrefix(line, verbRemoveConfig):
		name := strings.TrimSpace(strings.TrimPrefix(line, verbRemoveConfig))
		r.recordAudit(verbRemoveConfig, name)
		if err := r.installer.Remove(ctx, name); err != nil {
			return fmt.Errorf("remove_config %s: %w", name, err)
		}
		return nil

	default:
		verb := line
		if i := strings.IndexByte(line, ' '); i >= 0 {
			verb = line[:i]
		}
		log.Warn().Str("verb", verb).Msg("unrecognized control channel command")
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidCommand, verb)
	}
}

// applyConfig parses payload and installs every connection it contains.
// Parsing is transactional (config.Parse either returns a complete list
// or an error); installation proceeds in document order and is aborted
// on the first failure, per §7's per-connection-atomicity allowance.
func (r *Router) applyConfig(ctx context.Context, payload string) error {
	cfgs, err := config.Parse([]byte(payload))
	if err != nil {
		return err
	}
	for _, cfg := range cfgs {
		if err := r.installer.Install(ctx, cfg); err != nil {
			return fmt.Errorf("apply_config %s: %w", cfg.Name, err)
		}
	}
	return nil
}

func (r *Router) recordAudit(verb, detail string) {
	if r.audit != nil {
		r.audit.LogCommand(strings.TrimSpace(verb), detail)
	}
}
