package server

import (
	"testing"
	"time"

	pb "github.com/jmhart/confab/pkg/protocol/pb"
	"github.com/jmhart/confab/pkg/userstore"
)

func newAuthServer(t *testing.T) (*Server, *userstore.MemoryStore) {
	t.Helper()
	st := userstore.NewMemory()
	cfg := DefaultConfig()
	cfg.InviteTimeout = 2 * time.Second
	cfg.AdminConsole = false
	return New(cfg, Dependencies{Store: st}), st
}

// startAuth runs the authentication loop against a fake endpoint and
// reports its outcome on a channel.
func startAuth(srv *Server, ep *fakeEndpoint) <-chan *client {
	out := make(chan *client, 1)
	go func() {
		c, err := srv.authenticate(ep, "test")
		if err != nil {
			out <- nil
			return
		}
		out <- c
	}()
	return out
}

// expectPrompt consumes the LoginOrSignup prompt that opens every
// authentication round.
func expectPrompt(t *testing.T, ep *fakeEndpoint) {
	t.Helper()
	if msg := ep.recv(t); msg.LoginOrSignup == nil {
		t.Fatalf("expected LoginOrSignup prompt, got %+v", msg)
	}
}

func TestAuthenticateSignup(t *testing.T) {
	srv, st := newAuthServer(t)
	ep := newFakeEndpoint()
	done := startAuth(srv, ep)

	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "signup", Username: "newuser"}}

	if msg := ep.recv(t); msg.UsernameAccepted == nil || msg.UsernameAccepted.Username != "newuser" {
		t.Fatalf("expected UsernameAccepted, got %+v", msg)
	}
	c := <-done
	if c == nil || c.name != "newuser" {
		t.Fatalf("authenticate returned %+v", c)
	}
	if _, ok := srv.registry.Lookup("newuser"); !ok {
		t.Fatalf("newuser not registered after signup")
	}
	user, err := st.GetUser("newuser")
	if err != nil || user == nil {
		t.Fatalf("GetUser after signup: user=%v err=%v", user, err)
	}
}

func TestAuthenticateRetriesUntilValid(t *testing.T) {
	srv, st := newAuthServer(t)
	if _, err := st.CreateUser("taken"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ep := newFakeEndpoint()
	done := startAuth(srv, ep)

	// Round 1: malformed username.
	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "signup", Username: "no spaces!"}}
	if msg := ep.recv(t); msg.InvalidUsername == nil {
		t.Fatalf("expected InvalidUsername, got %+v", msg)
	}

	// Round 2: signing up an existing name.
	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "signup", Username: "taken"}}
	if msg := ep.recv(t); msg.SignupFailed == nil {
		t.Fatalf("expected SignupFailed, got %+v", msg)
	}

	// Round 3: logging in an unknown name.
	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "login", Username: "stranger"}}
	if msg := ep.recv(t); msg.LoginFailed == nil || msg.LoginFailed.Message != "unknown username" {
		t.Fatalf("expected LoginFailed, got %+v", msg)
	}

	// Round 4: a bad mode.
	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "register", Username: "taken"}}
	if msg := ep.recv(t); msg.Error == nil {
		t.Fatalf("expected mode error, got %+v", msg)
	}

	// Round 5: a proper login finally lands.
	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "login", Username: "taken"}}
	if msg := ep.recv(t); msg.UsernameAccepted == nil {
		t.Fatalf("expected UsernameAccepted, got %+v", msg)
	}
	if c := <-done; c == nil || c.name != "taken" {
		t.Fatalf("authenticate returned %+v", c)
	}

	if n := srv.metrics.FailedAuths.Load(); n != 3 {
		t.Fatalf("FailedAuths: want 3, got %d", n)
	}
}

func TestAuthenticateRejectsSecondLogin(t *testing.T) {
	srv, st := newAuthServer(t)
	if _, err := st.CreateUser("alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, _ = startTestClient(t, srv, "alice")

	ep := newFakeEndpoint()
	done := startAuth(srv, ep)

	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "login", Username: "alice"}}
	if msg := ep.recv(t); msg.LoginFailed == nil || msg.LoginFailed.Message != "user already online" {
		t.Fatalf("expected online rejection, got %+v", msg)
	}

	// The loop keeps going; sign up under a different name instead.
	expectPrompt(t, ep)
	ep.in <- &pb.Message{Credentials: &pb.Credentials{Mode: "signup", Username: "alice2"}}
	if msg := ep.recv(t); msg.UsernameAccepted == nil {
		t.Fatalf("expected UsernameAccepted, got %+v", msg)
	}
	if c := <-done; c == nil || c.name != "alice2" {
		t.Fatalf("authenticate returned %+v", c)
	}
}

func TestAuthenticateDisconnect(t *testing.T) {
	srv, _ := newAuthServer(t)
	ep := newFakeEndpoint()
	done := startAuth(srv, ep)

	expectPrompt(t, ep)
	close(ep.in)

	select {
	case c := <-done:
		if c != nil {
			t.Fatalf("expected auth failure, got client %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("authenticate did not return after disconnect")
	}
	if srv.registry.Count() != 0 {
		t.Fatalf("registry not empty after failed auth")
	}
}
