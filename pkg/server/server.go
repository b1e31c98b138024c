// Package server implements the Confab relay server: session registry,
// invitation protocol, relay engines, and connection lifecycle.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/jmhart/confab/pkg/userstore"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string        // TCP bind address for framed connections (e.g. ":9620")
	WSAddr        string        // HTTP bind address for WebSocket connections (empty = disabled)
	MetricsAddr   string        // HTTP bind address for /metrics endpoint (empty = disabled)
	DBPath        string        // SQLite database path for registered usernames
	InviteTimeout time.Duration // bound on waiting for an invitation reply
	AdminConsole  bool          // read admin commands from stdin
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store userstore.Store
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":9620",
		MetricsAddr:   ":9622",
		DBPath:        "confab.db",
		InviteTimeout: 30 * time.Second,
		AdminConsole:  true,
	}
}

// Server is the Confab relay server.
type Server struct {
	cfg      Config
	registry *Registry
	metrics  *Metrics
	store    userstore.Store

	ln     net.Listener
	wsSrv  *http.Server
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
