// Package statusapi exposes a read-only HTTP introspection surface over
// the registry and audit log, for operators — not part of the control
// protocol in §6.1, which remains the Unix control channel.
package statusapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/swavlamban/extsockd/internal/audit"
	"github.com/swavlamban/extsockd/internal/config"
	"github.com/swavlamban/extsockd/internal/registry"
)

// Server wraps the registry and audit store behind an echo HTTP server.
type Server struct {
	reg   *registry.Registry
	audit *audit.Store
	e     *echo.Echo
}

// New constructs a Server over reg and store (store may be nil if
// auditing is disabled).
func New(reg *registry.Registry, store *audit.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	s := &Server{reg: reg, audit: store, e: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.e.GET("/api/health", s.handleHealth)
	s.e.GET("/api/connections", s.handleConnections)
	s.e.GET("/api/connections/:name", s.handleConnection)
	s.e.GET("/api/audit", s.handleAudit)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.reg.Len(),
		"time":        time.Now().UTC(),
	})
}

type connectionSummary struct {
	Name        string `json:"name"`
	RemoteAddrs string `json:"remote_addrs"`
	Children    int    `json:"children"`
}

func (s *Server) handleConnections(c echo.Context) error {
	snapshot := s.reg.Snapshot()
	out := make([]connectionSummary, 0, len(snapshot))
	for _, cfg := range snapshot {
		out = append(out, summarize(cfg))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleConnection(c echo.Context) error {
	name := c.Param("name")
	cfg, ok := s.reg.FindByName(name)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "connection not found"})
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleAudit(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusOK, []audit.Entry{})
	}
	entries, err := s.audit.Recent(100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, entries)
}

func summarize(cfg *config.PeerConfig) connectionSummary {
	return connectionSummary{
		Name:        cfg.Name,
		RemoteAddrs: cfg.IKE.RemoteAddrs,
		Children:    len(cfg.Children),
	}
}

// Start serves the status API on addr until the process exits or Stop is
// called; errors other than http.ErrServerClosed are logged.
func (s *Server) Start(addr string) {
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status api server stopped unexpectedly")
		}
	}()
}

// Stop closes the HTTP server immediately; in-flight requests are not
// drained.
func (s *Server) Stop() error {
	return s.e.Close()
}
