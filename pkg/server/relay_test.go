package server

import (
	"bytes"
	"sync"
	"testing"

	pb "github.com/jmhart/confab/pkg/protocol/pb"
)

// startPair wires two clients into an established chat the way the
// invitation path does: both busy, one relay task per direction.
func startPair(t *testing.T, srv *Server) (a, b *client, aep, bep *fakeEndpoint, done *sync.WaitGroup) {
	t.Helper()
	aep, bep = newFakeEndpoint(), newFakeEndpoint()
	a = newClient("alice", aep, "test")
	b = newClient("bob", bep, "test")
	for _, c := range []*client{a, b} {
		if err := srv.registry.Register(c); err != nil {
			t.Fatalf("Register(%s): %v", c.name, err)
		}
		go c.pump()
	}
	if err := srv.registry.TryMarkBusyPair("alice", "bob"); err != nil {
		t.Fatalf("TryMarkBusyPair: %v", err)
	}

	sess := srv.newPairSession(a, b)
	done = &sync.WaitGroup{}
	for _, c := range []*client{a, b} {
		done.Add(1)
		go func(c *client) {
			defer done.Done()
			sess.run(c)
		}(c)
	}
	return a, b, aep, bep, done
}

func TestRelayFileTransfer(t *testing.T) {
	srv := newTestServer(t)
	_, _, aep, bep, done := startPair(t, srv)

	payload := []byte{0x00, 0x01, 0xfe, 0xff, 'p', 'n', 'g'}
	aep.in <- &pb.Message{FileTransfer: &pb.FileTransfer{Filename: "cat.png", Payload: payload}}

	got := bep.recv(t)
	if got.FileTransfer == nil {
		t.Fatalf("expected FileTransfer, got %+v", got)
	}
	if got.FileTransfer.From != "alice" || got.FileTransfer.Filename != "cat.png" {
		t.Fatalf("FileTransfer metadata: %+v", got.FileTransfer)
	}
	if !bytes.Equal(payload, got.FileTransfer.Payload) {
		t.Fatalf("payload mismatch: want %v, got %v", payload, got.FileTransfer.Payload)
	}
	waitFor(t, "file byte counter", func() bool {
		return srv.metrics.FileBytesRelayed.Load() == int64(len(payload))
	})

	aep.in <- &pb.Message{ChatMsg: &pb.ChatMessage{Text: pb.LeaveSentinel}}
	bep.in <- &pb.Message{ChatEnded: &pb.ChatEnded{}}
	done.Wait()
}

func TestRelayExactlyOneChatEnded(t *testing.T) {
	srv := newTestServer(t)
	_, _, aep, bep, done := startPair(t, srv)

	// Both sides leave at once. Exactly one ChatEnded crosses the wire in
	// total, to whichever peer the winning direction was relaying toward.
	aep.in <- &pb.Message{ChatMsg: &pb.ChatMessage{Text: pb.LeaveSentinel}}
	bep.in <- &pb.Message{ChatMsg: &pb.ChatMessage{Text: pb.LeaveSentinel}}
	done.Wait()

	total := 0
	for _, ep := range []*fakeEndpoint{aep, bep} {
		for more := true; more; {
			select {
			case msg := <-ep.out:
				if msg.ChatEnded != nil {
					total++
				}
			default:
				more = false
			}
		}
	}
	if total != 1 {
		t.Fatalf("ChatEnded count: want 1, got %d", total)
	}

	waitFor(t, "busy flags to clear", func() bool {
		return len(srv.registry.ListOnline("")) == 2
	})
}

func TestRelayPeerDisconnect(t *testing.T) {
	srv := newTestServer(t)
	_, _, aep, bep, done := startPair(t, srv)

	// Alice's transport dies. Her direction retires silently; bob finds
	// out at his next forward attempt and gets a ChatEnded.
	aep.Close()
	close(aep.in)

	bep.in <- &pb.Message{ChatMsg: &pb.ChatMessage{Text: "still there?"}}
	ended := bep.recv(t)
	if ended.ChatEnded == nil {
		t.Fatalf("expected ChatEnded after peer disconnect, got %+v", ended)
	}
	bep.in <- &pb.Message{ChatEnded: &pb.ChatEnded{}}
	done.Wait()

	// Alice unregisters on disconnect in the real lifecycle; here only the
	// busy flags matter. Both were cleared exactly once.
	waitFor(t, "busy flags to clear", func() bool {
		return len(srv.registry.ListOnline("")) == 2
	})
	waitFor(t, "ChatsEnded to reach 1", func() bool {
		return srv.metrics.ChatsEnded.Load() == 1
	})
}

func TestRelayDropsNonChatTraffic(t *testing.T) {
	srv := newTestServer(t)
	_, _, aep, bep, done := startPair(t, srv)

	aep.in <- &pb.Message{ShowUsers: &pb.ShowUsers{}}
	aep.in <- &pb.Message{ChatMsg: &pb.ChatMessage{Text: "after noise"}}

	got := bep.recv(t)
	if got.ChatMsg == nil || got.ChatMsg.Text != "after noise" {
		t.Fatalf("expected the chat message, got %+v", got)
	}

	aep.in <- &pb.Message{ChatMsg: &pb.ChatMessage{Text: pb.LeaveSentinel}}
	bep.in <- &pb.Message{ChatEnded: &pb.ChatEnded{}}
	done.Wait()
}
