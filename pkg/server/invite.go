package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

type inviteReply int

const (
	replyDeclined inviteReply = iota
	replyAccepted
	replyTimeout
	replyDisconnected
)

// invite is one invitation handshake handed from an initiator's goroutine
// to the target's lifecycle goroutine. Both channels are buffered so
// neither side can block the other: the target writes exactly one reply,
// and the initiator writes exactly one begin value (the session, or nil
// for cancellation) for every invite it managed to deliver.
type invite struct {
	from     string
	members  []string // full member list for group invites, nil for pairwise
	deadline time.Time
	reply    chan inviteReply
	begin    chan session
}

func newInvite(from string, members []string, deadline time.Time) *invite {
	return &invite{
		from:     from,
		members:  members,
		deadline: deadline,
		reply:    make(chan inviteReply, 1),
		begin:    make(chan session, 1),
	}
}

func (inv *invite) isGroup() bool { return inv.members != nil }

// session is an established chat a lifecycle goroutine participates in.
// announce tells one member's client the session has started; run executes
// that member's relay task and blocks until it ends.
type session interface {
	announce(m *client) error
	run(m *client)
}

// handleChatRequest drives the pairwise invitation protocol on the
// initiator's side. The availability check and the busy commit each run
// under the registry lock; the invite handshake itself happens entirely
// outside it.
func (s *Server) handleChatRequest(c *client, target string) {
	if target == c.name {
		c.sendError("cannot chat with yourself")
		return
	}
	targets, err := s.registry.LookupFree(target)
	if err != nil {
		c.sendError(fmt.Sprintf("%s is not available.", target))
		return
	}
	tc := targets[0]

	inv := newInvite(c.name, nil, time.Now().Add(s.cfg.InviteTimeout))
	if !tc.offer(inv) {
		c.sendError(fmt.Sprintf("%s is not available.", target))
		return
	}
	s.metrics.InvitesSent.Add(1)

	var rep inviteReply
	select {
	case rep = <-inv.reply:
	case <-time.After(s.cfg.InviteTimeout):
		rep = replyTimeout
		// A target that went away before dequeuing the invite never
		// answers; report it as gone rather than unresponsive.
		if cur, ok := s.registry.Lookup(target); !ok || cur != tc {
			rep = replyDisconnected
		}
	}

	switch rep {
	case replyAccepted:
		// Commit by name: if the target renamed or got paired meanwhile,
		// this fails and nobody is left busy.
		if err := s.registry.TryMarkBusyPair(c.name, target); err != nil {
			inv.begin <- nil
			c.sendError(fmt.Sprintf("%s is not available.", target))
			return
		}
		sess := s.newPairSession(c, tc)
		inv.begin <- sess
		if err := sess.announce(c); err != nil {
			slog.Debug("chat started write failed", "user", c.name, "err", err)
		}
		sess.run(c)

	case replyDeclined:
		inv.begin <- nil
		s.metrics.InvitesDeclined.Add(1)
		c.sendError(fmt.Sprintf("%s declined the chat.", target))

	case replyTimeout:
		inv.begin <- nil
		s.metrics.InviteTimeouts.Add(1)
		c.sendError(fmt.Sprintf("%s did not respond in time.", target))

	case replyDisconnected:
		inv.begin <- nil
		c.sendError(fmt.Sprintf("%s is not available.", target))
	}
}

// handleGroupChatRequest drives group formation: one atomic free-check,
// then sequential invites. The first decline, timeout, or unreachable
// target aborts the whole request; members that already accepted get a
// cancellation through their still-open handshake channels.
func (s *Server) handleGroupChatRequest(c *client, targets []string) {
	if len(targets) == 0 {
		c.sendError("no targets given")
		return
	}
	seen := map[string]bool{c.name: true}
	for _, t := range targets {
		if seen[t] {
			c.sendError("duplicate or self target in group request")
			return
		}
		seen[t] = true
	}

	clients, err := s.registry.LookupFree(targets...)
	if err != nil {
		c.sendError("one or more users are not available.")
		return
	}

	members := append([]string{c.name}, targets...)

	var offered []*invite
	cancel := func() {
		for _, inv := range offered {
			inv.begin <- nil
		}
	}

	for i, tc := range clients {
		inv := newInvite(c.name, members, time.Now().Add(s.cfg.InviteTimeout))
		if !tc.offer(inv) {
			cancel()
			s.groupFailed(c, fmt.Sprintf("%s is not available.", targets[i]))
			return
		}
		offered = append(offered, inv)
		s.metrics.InvitesSent.Add(1)

		var rep inviteReply
		select {
		case rep = <-inv.reply:
		case <-time.After(s.cfg.InviteTimeout):
			rep = replyTimeout
			if cur, ok := s.registry.Lookup(targets[i]); !ok || cur != tc {
				rep = replyDisconnected
			}
		}

		switch rep {
		case replyAccepted:
			continue
		case replyDeclined:
			cancel()
			s.metrics.InvitesDeclined.Add(1)
			s.groupFailed(c, fmt.Sprintf("%s declined the group chat.", targets[i]))
			return
		case replyTimeout:
			cancel()
			s.metrics.InviteTimeouts.Add(1)
			s.groupFailed(c, fmt.Sprintf("%s did not respond in time.", targets[i]))
			return
		case replyDisconnected:
			cancel()
			s.groupFailed(c, fmt.Sprintf("%s is not available.", targets[i]))
			return
		}
	}

	if err := s.registry.TryMarkBusyGroup(members); err != nil {
		cancel()
		s.groupFailed(c, "one or more users are no longer available.")
		return
	}

	sess := s.newGroupSession(uuid.NewString(), members, append([]*client{c}, clients...))
	for _, inv := range offered {
		inv.begin <- sess
	}
	if err := sess.announce(c); err != nil {
		slog.Debug("group started write failed", "user", c.name, "err", err)
	}
	sess.run(c)
}

func (s *Server) groupFailed(c *client, reason string) {
	_ = c.send(&pb.Message{GroupDeclined: &pb.GroupDeclined{Message: reason}})
}

// handleInvite runs the target's side of an invitation handshake: surface
// the invite to the peer, wait for its accept/decline decision ahead of
// any ordinary traffic, and on acceptance wait for the initiator to start
// or cancel the session. Returns an error only when this connection died.
func (s *Server) handleInvite(c *client, inv *invite) error {
	if time.Now().After(inv.deadline) {
		// Stale: the initiator gave up before we dequeued it.
		return nil
	}

	var prompt *pb.Message
	if inv.isGroup() {
		prompt = &pb.Message{GroupInvite: &pb.GroupInvite{From: inv.from, Members: inv.members}}
	} else {
		prompt = &pb.Message{ChatInvite: &pb.ChatInvite{From: inv.from}}
	}
	if err := c.send(prompt); err != nil {
		inv.reply <- replyDisconnected
		return fmt.Errorf("server: deliver invite: %w", err)
	}

	msg, err := c.receive(s.cfg.InviteTimeout)
	switch {
	case errors.Is(err, ErrPeerDisconnected):
		inv.reply <- replyDisconnected
		return err
	case errors.Is(err, ErrInviteTimeout):
		inv.reply <- replyTimeout
		return nil
	case msg.ChatAccepted != nil || msg.GroupAccepted != nil:
		inv.reply <- replyAccepted
	case msg.ChatDeclined != nil || msg.GroupDeclined != nil:
		inv.reply <- replyDeclined
		return nil
	default:
		// Out-of-state message during the handshake counts as a decline.
		c.sendError("expected an accept or decline")
		inv.reply <- replyDeclined
		return nil
	}

	// Accepted: the initiator always delivers a begin value, so this wait
	// is bounded by the remaining formation steps.
	sess := <-inv.begin
	if sess == nil {
		if inv.isGroup() {
			_ = c.send(&pb.Message{GroupDeclined: &pb.GroupDeclined{Message: "group chat was cancelled"}})
		} else {
			c.sendError("chat could not be started")
		}
		return nil
	}
	if err := sess.announce(c); err != nil {
		slog.Debug("session announce failed", "user", c.name, "err", err)
	}
	sess.run(c)
	return nil
}
