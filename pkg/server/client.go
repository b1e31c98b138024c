package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jmhart/confab/pkg/protocol"
	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

var (
	// ErrPeerDisconnected is returned when an endpoint closes mid-operation.
	ErrPeerDisconnected = errors.New("server: peer disconnected")

	// ErrInviteTimeout is returned when an invitation reply does not
	// arrive within the configured bound.
	ErrInviteTimeout = errors.New("server: invite reply timed out")
)

// client is one online user's connection state. The name field is the
// registry key; it is written only under the registry lock, and only by
// the client's own lifecycle goroutine (rename is a menu command, so no
// relay task can be reading it at the same time).
type client struct {
	name   string
	ep     protocol.Endpoint
	remote string

	// inbox carries every message the pump reads from the endpoint. It has
	// a single consumer at any time: the lifecycle goroutine, or the relay
	// task it hands itself to. Closed when the endpoint fails.
	inbox chan *pb.Message

	// invites carries at most one pending invitation handshake from an
	// initiator's goroutine. A full slot means the user is being invited
	// already and further initiators see the target as unavailable.
	invites chan *invite
}

func newClient(name string, ep protocol.Endpoint, remote string) *client {
	return &client{
		name:    name,
		ep:      ep,
		remote:  remote,
		inbox:   make(chan *pb.Message),
		invites: make(chan *invite, 1),
	}
}

// pump moves messages from the endpoint into the inbox until the
// transport fails. A malformed frame is answered with an Error and
// skipped; the connection survives.
func (c *client) pump() {
	defer close(c.inbox)
	for {
		msg, err := c.ep.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				_ = c.send(&pb.Message{Error: &pb.ErrorMessage{Message: "malformed message"}})
				continue
			}
			slog.Debug("connection read ended", "remote", c.remote, "err", err)
			return
		}
		c.inbox <- msg
	}
}

func (c *client) send(msg *pb.Message) error {
	return c.ep.Send(msg)
}

func (c *client) sendError(text string) {
	_ = c.send(&pb.Message{Error: &pb.ErrorMessage{Message: text}})
}

// receive waits for the next inbox message with a bound. Only used during
// invitation handshakes; ordinary traffic blocks without a timeout.
func (c *client) receive(timeout time.Duration) (*pb.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return nil, ErrPeerDisconnected
		}
		return msg, nil
	case <-t.C:
		return nil, ErrInviteTimeout
	}
}

// offer hands an invitation to this client's lifecycle goroutine without
// blocking. Returns false if the invite slot is occupied.
func (c *client) offer(inv *invite) bool {
	select {
	case c.invites <- inv:
		return true
	default:
		return false
	}
}

// failPendingInvites answers any invitation that was handed over but
// never dequeued, so its initiator learns the target is gone instead of
// sitting out the full reply bound.
func (c *client) failPendingInvites() {
	for {
		select {
		case inv := <-c.invites:
			inv.reply <- replyDisconnected
		default:
			return
		}
	}
}
