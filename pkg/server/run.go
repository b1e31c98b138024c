package server

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmhart/confab/pkg/protocol"
)

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.Close() }()

	if err := s.startListener(); err != nil {
		return err
	}
	if err := s.startWS(); err != nil {
		return err
	}
	s.startMetricsHTTP()
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	slog.Info("confab server running",
		"listen", s.cfg.ListenAddr,
		"ws", s.cfg.WSAddr,
		"db", s.cfg.DBPath,
	)

	if s.cfg.AdminConsole {
		go s.adminConsole()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-s.ctx.Done():
	}

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.wsSrv != nil {
		_ = s.wsSrv.Close()
	}
}

// startListener starts the TCP accept loop for framed connections.
func (s *Server) startListener() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln
	slog.Info("listening", "addr", s.cfg.ListenAddr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			ep := protocol.NewConnEndpoint(conn)
			go s.handleConn(ep, ep.RemoteAddr())
		}
	}()
	return nil
}

// adminConsole reads operator commands from stdin, the way the server is
// driven when run interactively: "users" lists online sessions, "quit"
// shuts down.
func (s *Server) adminConsole() {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch sc.Text() {
		case "users":
			snap := s.registry.Snapshot()
			slog.Info("online users", "count", len(snap))
			for _, u := range snap {
				slog.Info("user", "name", u.Name, "busy", u.Busy)
			}
		case "quit", "exit":
			slog.Info("shutdown requested from console")
			s.cancel()
			return
		case "":
		default:
			slog.Info("unknown console command", "cmd", sc.Text(), "valid", "users, quit")
		}
	}
}
