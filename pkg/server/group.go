package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

// groupSession is an established group chat. One listen task runs per
// member; the member list is fixed after creation. Termination is
// cooperative: the first leaver flips the active flag and the other tasks
// observe it at their own next receive. Busy flags for all original
// members clear exactly once, after every task has ended.
type groupSession struct {
	srv     *Server
	id      string
	members []string  // initiator first; fixed
	clients []*client // aligned with members

	active atomic.Bool
	wg     sync.WaitGroup
}

func (s *Server) newGroupSession(id string, members []string, clients []*client) *groupSession {
	sess := &groupSession{srv: s, id: id, members: members, clients: clients}
	sess.active.Store(true)
	sess.wg.Add(len(members))
	go func() {
		sess.wg.Wait()
		s.registry.ClearBusyOwned(clients...)
		s.metrics.GroupsEnded.Add(1)
		slog.Debug("group ended", "group", id)
	}()
	s.metrics.GroupsStarted.Add(1)
	slog.Info("group started", "group", id, "members", members)
	return sess
}

func (sess *groupSession) announce(m *client) error {
	return m.send(&pb.Message{GroupStarted: &pb.GroupStarted{
		GroupID: sess.id,
		Members: sess.members,
	}})
}

// run is one member's listen task. A disconnecting member drops out of
// the fan-out without ending the group; a leave signal ends the group for
// everyone, observed lazily by the others.
func (sess *groupSession) run(m *client) {
	defer sess.wg.Done()

	for {
		if !sess.active.Load() {
			_ = m.send(&pb.Message{GroupLeft: &pb.GroupLeft{}})
			return
		}

		msg, ok := <-m.inbox
		if !ok {
			return
		}

		switch {
		case msg.GroupMsg != nil:
			if msg.GroupMsg.Text == pb.LeaveSentinel {
				sess.leave(m)
				return
			}
			if !sess.active.Load() {
				_ = m.send(&pb.Message{GroupLeft: &pb.GroupLeft{}})
				return
			}
			sess.fanOut(m, msg.GroupMsg.Text)

		case msg.GroupLeft != nil, msg.ChatEnded != nil:
			sess.leave(m)
			return

		default:
			// Not group traffic; drop it.
		}
	}
}

// fanOut forwards text to every other currently-registered member.
// Members who disconnected are silently skipped.
func (sess *groupSession) fanOut(from *client, text string) {
	fwd := &pb.Message{GroupMsg: &pb.GroupMessage{
		From:    from.name,
		GroupID: sess.id,
		Text:    text,
	}}
	for i, name := range sess.members {
		member := sess.clients[i]
		if member == from {
			continue
		}
		// Identity check: the name must still map to the same connection,
		// not to a new login that took it over after a disconnect.
		if current, ok := sess.srv.registry.Lookup(name); !ok || current != member {
			continue
		}
		if err := member.send(fwd); err != nil {
			continue
		}
		sess.srv.metrics.MessagesRelayed.Add(1)
	}
}

// leave ends the group for everyone and acknowledges the leaver.
func (sess *groupSession) leave(m *client) {
	sess.active.Store(false)
	_ = m.send(&pb.Message{GroupLeft: &pb.GroupLeft{}})
}
