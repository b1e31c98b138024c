package server

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime connections accepted
	ActiveConnections atomic.Int64 // current active connections
	FailedAuths       atomic.Int64 // failed authentication attempts
	SuccessfulAuths   atomic.Int64 // successful authentication attempts
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Invitation counters
	InvitesSent     atomic.Int64 // chat and group invitations delivered
	InvitesDeclined atomic.Int64 // invitations declined by the target
	InviteTimeouts  atomic.Int64 // invitations that timed out

	// Session counters
	ChatsStarted  atomic.Int64 // pairwise sessions established
	ChatsEnded    atomic.Int64 // pairwise sessions fully drained
	GroupsStarted atomic.Int64 // group sessions established
	GroupsEnded   atomic.Int64 // group sessions fully drained

	// Relay counters
	MessagesRelayed  atomic.Int64 // chat and group messages forwarded
	FilesRelayed     atomic.Int64 // file transfers forwarded
	FileBytesRelayed atomic.Int64 // total file payload bytes forwarded
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	InvitesSent     int64 `json:"invites_sent"`
	InvitesDeclined int64 `json:"invites_declined"`
	InviteTimeouts  int64 `json:"invite_timeouts"`

	ChatsStarted  int64 `json:"chats_started"`
	ChatsEnded    int64 `json:"chats_ended"`
	GroupsStarted int64 `json:"groups_started"`
	GroupsEnded   int64 `json:"groups_ended"`

	MessagesRelayed  int64 `json:"messages_relayed"`
	FilesRelayed     int64 `json:"files_relayed"`
	FileBytesRelayed int64 `json:"file_bytes_relayed"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		InvitesSent:       m.InvitesSent.Load(),
		InvitesDeclined:   m.InvitesDeclined.Load(),
		InviteTimeouts:    m.InviteTimeouts.Load(),
		ChatsStarted:      m.ChatsStarted.Load(),
		ChatsEnded:        m.ChatsEnded.Load(),
		GroupsStarted:     m.GroupsStarted.Load(),
		GroupsEnded:       m.GroupsEnded.Load(),
		MessagesRelayed:   m.MessagesRelayed.Load(),
		FilesRelayed:      m.FilesRelayed.Load(),
		FileBytesRelayed:  m.FileBytesRelayed.Load(),
	}
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"chats", s.ChatsStarted,
		"groups", s.GroupsStarted,
		"messages", s.MessagesRelayed,
		"files", s.FilesRelayed,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
