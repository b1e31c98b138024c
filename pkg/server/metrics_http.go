package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// startMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
func (s *Server) startMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("confab_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("confab_connections_active", "Current active connections.", "gauge",
		m.ActiveConnections.Load())
	write("confab_connections_total", "Lifetime connections accepted.", "counter",
		m.TotalConnections.Load())
	write("confab_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("confab_auth_success_total", "Successful authentication attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("confab_auth_failed_total", "Failed authentication attempts.", "counter",
		m.FailedAuths.Load())

	write("confab_invites_sent_total", "Chat and group invitations delivered.", "counter",
		m.InvitesSent.Load())
	write("confab_invites_declined_total", "Invitations declined by the target.", "counter",
		m.InvitesDeclined.Load())
	write("confab_invite_timeouts_total", "Invitations that timed out.", "counter",
		m.InviteTimeouts.Load())

	write("confab_chats_started_total", "Pairwise sessions established.", "counter",
		m.ChatsStarted.Load())
	write("confab_chats_ended_total", "Pairwise sessions fully drained.", "counter",
		m.ChatsEnded.Load())
	write("confab_groups_started_total", "Group sessions established.", "counter",
		m.GroupsStarted.Load())
	write("confab_groups_ended_total", "Group sessions fully drained.", "counter",
		m.GroupsEnded.Load())

	write("confab_messages_relayed_total", "Chat and group messages forwarded.", "counter",
		m.MessagesRelayed.Load())
	write("confab_files_relayed_total", "File transfers forwarded.", "counter",
		m.FilesRelayed.Load())
	write("confab_file_bytes_relayed_total", "File payload bytes forwarded.", "counter",
		m.FileBytesRelayed.Load())
}
