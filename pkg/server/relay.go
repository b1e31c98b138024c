package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

// pairSession is an established one-to-one chat. One relay task runs per
// direction; each participant's lifecycle goroutine runs its own outbound
// direction, so every inbox keeps a single consumer. Busy flags clear
// exactly once, after both directions have ended.
type pairSession struct {
	srv  *Server
	a, b *client

	wg    sync.WaitGroup
	ended atomic.Bool // set by the first direction to terminate on an end signal
}

func (s *Server) newPairSession(a, b *client) *pairSession {
	sess := &pairSession{srv: s, a: a, b: b}
	sess.wg.Add(2)
	aName, bName := a.name, b.name
	go func() {
		sess.wg.Wait()
		s.registry.ClearBusyOwned(a, b)
		s.metrics.ChatsEnded.Add(1)
		slog.Debug("chat ended", "a", aName, "b", bName)
	}()
	s.metrics.ChatsStarted.Add(1)
	slog.Info("chat started", "a", aName, "b", bName)
	return sess
}

func (sess *pairSession) announce(m *client) error {
	return m.send(&pb.Message{ChatStarted: &pb.ChatStarted{With: sess.peer(m).name}})
}

func (sess *pairSession) peer(m *client) *client {
	if m == sess.a {
		return sess.b
	}
	return sess.a
}

// run relays messages from m to its peer until m signals the end, m
// disconnects, or the peer becomes unreachable. Ending one direction does
// not preempt the other; the peer's own task keeps running until it
// observes its own end condition.
func (sess *pairSession) run(m *client) {
	defer sess.wg.Done()
	dst := sess.peer(m)

	for {
		msg, ok := <-m.inbox
		if !ok {
			// Source disconnect: asymmetric teardown. The peer finds out
			// lazily, at its own next forward attempt.
			return
		}

		switch {
		case msg.ChatMsg != nil:
			if msg.ChatMsg.Text == pb.LeaveSentinel {
				sess.end(dst)
				return
			}
			fwd := &pb.Message{ChatMsg: &pb.ChatMessage{From: m.name, Text: msg.ChatMsg.Text}}
			if err := dst.send(fwd); err != nil {
				sess.end(m)
				return
			}
			sess.srv.metrics.MessagesRelayed.Add(1)

		case msg.FileTransfer != nil:
			fwd := &pb.Message{FileTransfer: &pb.FileTransfer{
				From:     m.name,
				Filename: msg.FileTransfer.Filename,
				Payload:  msg.FileTransfer.Payload,
			}}
			if err := dst.send(fwd); err != nil {
				sess.end(m)
				return
			}
			sess.srv.metrics.FilesRelayed.Add(1)
			sess.srv.metrics.FileBytesRelayed.Add(int64(len(msg.FileTransfer.Payload)))

		case msg.ChatEnded != nil:
			sess.end(dst)
			return

		default:
			// Anything else is not conversation traffic; drop it.
		}
	}
}

// end notifies to of the session's end, once across both directions: the
// peer of whoever ends first receives exactly one ChatEnded, and the
// second direction terminates silently.
func (sess *pairSession) end(to *client) {
	if sess.ended.CompareAndSwap(false, true) {
		_ = to.send(&pb.Message{ChatEnded: &pb.ChatEnded{}})
	}
}
