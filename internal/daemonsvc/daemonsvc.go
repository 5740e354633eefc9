// Package daemonsvc wraps the daemon as a cross-platform system service
// (systemd / launchd / Windows Service), grounded on the teacher's
// internal/agent Service/program wrapper around kardianos/service.
package daemonsvc

import (
	"context"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"

	"github.com/swavlamban/extsockd/internal/daemon"
)

const (
	serviceName        = "extsockd"
	serviceDisplayName = "extsockd IKE control-plane daemon"
	serviceDescription = "External control-plane daemon for strongSwan charon: config push, tunnel events, SEGW failover"
)

// NewService constructs a kardianos/service wrapper that runs a Daemon
// built from cfg for the lifetime of the OS service.
func NewService(cfg daemon.Config) (service.Service, error) {
	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
	}

	prg := &program{cfg: cfg}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// program implements service.Interface.
type program struct {
	cfg    daemon.Config
	d      *daemon.Daemon
	cancel context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	log.Info().Msg("service starting")
	d, err := daemon.New(p.cfg)
	if err != nil {
		return err
	}
	p.d = d

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if err := d.Start(ctx); err != nil {
		return err
	}
	return nil
}

func (p *program) Stop(s service.Service) error {
	log.Info().Msg("service stopping")
	if p.cancel != nil {
		p.cancel()
	}
	if p.d != nil {
		return p.d.Shutdown(context.Background())
	}
	return nil
}
