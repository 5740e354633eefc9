// Package daemon assembles C1–C8 and the ambient components into a single
// running process, and implements the shutdown lifecycle phases from
// SPEC_FULL §9: disconnect from host, drain workers, drop owned state.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swavlamban/extsockd/internal/audit"
	"github.com/swavlamban/extsockd/internal/command"
	"github.com/swavlamban/extsockd/internal/controlchannel"
	"github.com/swavlamban/extsockd/internal/credstore"
	"github.com/swavlamban/extsockd/internal/events"
	"github.com/swavlamban/extsockd/internal/failover"
	"github.com/swavlamban/extsockd/internal/registry"
	"github.com/swavlamban/extsockd/internal/statusapi"
	"github.com/swavlamban/extsockd/internal/viciadapter"
)

// Config collects every tunable the daemon's components need.
type Config struct {
	SocketPath      string
	ViciSocketPath  string
	StatusAddr      string // empty disables the status API
	AuditDBPath     string // empty disables the audit log
	ShutdownTimeout time.Duration
}

// Daemon is the single process-scoped handle that owns every component,
// replacing the source's global mutable plugin-state cell. Components
// receive their collaborators as constructor arguments, not the Daemon.
type Daemon struct {
	cfg Config

	registry *registry.Registry
	creds    *credstore.Store
	adapter  *viciadapter.Adapter
	failover *failover.Controller
	listener *events.Listener
	channel  *controlchannel.Channel
	audit    *audit.Store
	status   *statusapi.Server

	eventsCancel context.CancelFunc
	eventsDone   chan struct{}
}

// multiPublisher fans an emitted event out to the control channel and
// (if enabled) the audit log.
type multiPublisher struct {
	channel *controlchannel.Channel
	audit   *audit.Store
}

func (p multiPublisher) PublishEvent(payload []byte) {
	p.channel.PublishEvent(payload)
	if p.audit != nil {
		p.audit.LogEvent("lifecycle", payload)
	}
}

// New builds every component but does not start any goroutine or network
// listener; call Start for that.
func New(cfg Config) (*Daemon, error) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	reg := registry.New()
	creds := credstore.New()
	adapter := viciadapter.New(cfg.ViciSocketPath, reg, creds)

	var auditStore *audit.Store
	if cfg.AuditDBPath != "" {
		var err error
		auditStore, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
	}

	// auditStore is a concrete *audit.Store that may be nil; wrapping a nil
	// pointer directly in the command.AuditSink interface would produce a
	// non-nil interface value whose methods still panic on first use, so
	// the interface is only populated when auditing is actually enabled.
	var auditSink command.AuditSink
	if auditStore != nil {
		auditSink = auditStore
	}
	router := command.New(adapter, auditSink)
	channel := controlchannel.New(cfg.SocketPath, router)

	failoverCtl := failover.New(reg, adapter)
	publisher := multiPublisher{channel: channel, audit: auditStore}
	listener := events.New(adapter, publisher, failoverCtl, failoverCtl)

	var status *statusapi.Server
	if cfg.StatusAddr != "" {
		status = statusapi.New(reg, auditStore)
	}

	return &Daemon{
		cfg:      cfg,
		registry: reg,
		creds:    creds,
		adapter:  adapter,
		failover: failoverCtl,
		listener: listener,
		channel:  channel,
		audit:    auditStore,
		status:   status,
	}, nil
}

// Start brings up the control channel, the VICI event-stream reader, and
// (if configured) the status API.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.channel.Start(); err != nil {
		return err
	}

	evCtx, cancel := context.WithCancel(ctx)
	d.eventsCancel = cancel
	d.eventsDone = make(chan struct{})
	go func() {
		defer close(d.eventsDone)
		if err := d.listener.Run(evCtx); err != nil {
			log.Error().Err(err).Msg("event listener stopped")
		}
	}()

	if d.status != nil {
		d.status.Start(d.cfg.StatusAddr)
	}

	log.Info().Msg("extsockd started")
	return nil
}

// Shutdown runs the three explicit lifecycle phases in order: no
// component may call back into charon after phase 1 completes.
func (d *Daemon) Shutdown(ctx context.Context) error {
	log.Info().Msg("extsockd shutting down")

	// Phase 1: disconnect from host.
	if d.eventsCancel != nil {
		d.eventsCancel()
	}
	if err := d.adapter.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing vici session")
	}

	// Phase 2: drain workers.
	d.channel.Stop()
	if d.status != nil {
		if err := d.status.Stop(); err != nil {
			log.Warn().Err(err).Msg("error stopping status api")
		}
	}
	if d.eventsDone != nil {
		select {
		case <-d.eventsDone:
		case <-time.After(d.cfg.ShutdownTimeout):
			log.Warn().Msg("event listener drain timed out")
		}
	}

	// Phase 3: drop owned state.
	d.registry.Clear()
	d.creds.Clear()
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing audit store")
		}
	}

	log.Info().Msg("extsockd stopped")
	return nil
}

// Registry exposes the registry for the status API / tests.
func (d *Daemon) Registry() *registry.Registry { return d.registry }
