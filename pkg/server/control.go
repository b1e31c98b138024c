package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmhart/confab/pkg/model"
	"github.com/jmhart/confab/pkg/protocol"
	pb "github.com/jmhart/confab/pkg/protocol/pb"
	"github.com/jmhart/confab/pkg/userstore"
)

// handleConn drives one client connection from authentication through the
// command loop to disconnection.
func (s *Server) handleConn(ep protocol.Endpoint, remote string) {
	defer func() { _ = ep.Close() }()

	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer func() {
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
	}()
	slog.Debug("new connection", "remote", remote)

	c, err := s.authenticate(ep, remote)
	if err != nil {
		slog.Debug("connection ended before auth", "remote", remote, "err", err)
		return
	}
	slog.Info("client authenticated", "user", c.name, "remote", remote)

	go c.pump()
	s.serve(c)

	// An in-flight session's relay tasks observe the closed endpoint on
	// their own; unregistering here never touches their state.
	s.registry.Unregister(c.name)
	c.failPendingInvites()

	// Unblock and retire the pump: a closed endpoint fails its next read,
	// and draining releases a send it may be parked on.
	_ = ep.Close()
	for range c.inbox {
	}
	slog.Info("client disconnected", "user", c.name, "remote", remote)
}

// authenticate loops until a username is accepted or the connection dies.
// The endpoint is read directly here; the inbox pump starts only after
// registration succeeds.
func (s *Server) authenticate(ep protocol.Endpoint, remote string) (*client, error) {
	sendErr := func(text string) {
		_ = ep.Send(&pb.Message{Error: &pb.ErrorMessage{Message: text}})
	}

	for {
		if err := ep.Send(&pb.Message{LoginOrSignup: &pb.LoginOrSignup{}}); err != nil {
			return nil, fmt.Errorf("server: auth prompt: %w", err)
		}

		msg, err := ep.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				sendErr("malformed message")
				continue
			}
			return nil, fmt.Errorf("server: auth read: %w", err)
		}
		if msg.Credentials == nil {
			sendErr("expected credentials")
			continue
		}

		creds := msg.Credentials
		name := strings.TrimSpace(creds.Username)
		if model.ValidateUsername(name) != nil {
			s.metrics.FailedAuths.Add(1)
			_ = ep.Send(&pb.Message{InvalidUsername: &pb.InvalidUsername{}})
			continue
		}

		switch creds.Mode {
		case "signup":
			if _, err := s.store.CreateUser(name); err != nil {
				s.metrics.FailedAuths.Add(1)
				if errors.Is(err, userstore.ErrUserExists) {
					_ = ep.Send(&pb.Message{SignupFailed: &pb.SignupFailed{Message: "username already registered"}})
				} else {
					slog.Error("signup failed", "user", name, "err", err)
					sendErr("internal error")
				}
				continue
			}
		case "login":
			user, err := s.store.GetUser(name)
			if err != nil {
				slog.Error("login lookup failed", "user", name, "err", err)
				sendErr("internal error")
				continue
			}
			if user == nil {
				s.metrics.FailedAuths.Add(1)
				_ = ep.Send(&pb.Message{LoginFailed: &pb.LoginFailed{Message: "unknown username"}})
				continue
			}
		default:
			sendErr("mode must be login or signup")
			continue
		}

		c := newClient(name, ep, remote)
		if err := s.registry.Register(c); err != nil {
			s.metrics.FailedAuths.Add(1)
			_ = ep.Send(&pb.Message{LoginFailed: &pb.LoginFailed{Message: "user already online"}})
			continue
		}

		if err := ep.Send(&pb.Message{UsernameAccepted: &pb.UsernameAccepted{Username: name}}); err != nil {
			s.registry.Unregister(name)
			return nil, fmt.Errorf("server: auth ack: %w", err)
		}
		s.metrics.SuccessfulAuths.Add(1)
		return c, nil
	}
}

// serve is the idle-state command loop. It selects between ordinary
// traffic and invitation handshakes handed over by other connections'
// goroutines.
func (s *Server) serve(c *client) {
	for {
		select {
		case inv := <-c.invites:
			if err := s.handleInvite(c, inv); err != nil {
				return
			}
		case msg, ok := <-c.inbox:
			if !ok {
				return
			}
			if exit := s.dispatch(c, msg); exit {
				return
			}
		}
	}
}

// dispatch handles one command from an idle client. Returns true when the
// connection should terminate.
func (s *Server) dispatch(c *client, msg *pb.Message) bool {
	switch {
	case msg.ShowUsers != nil:
		users := s.registry.ListOnline(c.name)
		_ = c.send(&pb.Message{UserList: &pb.UserList{Users: users}})

	case msg.ChatRequest != nil:
		s.handleChatRequest(c, msg.ChatRequest.Target)

	case msg.GroupChatRequest != nil:
		s.handleGroupChatRequest(c, msg.GroupChatRequest.Targets)

	case msg.Rename != nil:
		oldName := c.name
		newName := strings.TrimSpace(msg.Rename.NewUsername)
		if err := s.registry.Rename(c, newName); err != nil {
			c.sendError("Invalid or taken username.")
			break
		}
		slog.Info("user renamed", "old", oldName, "new", newName)
		_ = c.send(&pb.Message{UsernameChanged: &pb.UsernameChanged{NewUsername: newName}})

	case msg.Exit != nil:
		return true

	default:
		c.sendError("unrecognized command")
	}
	return false
}
