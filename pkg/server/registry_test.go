package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testClient(name string) *client {
	return newClient(name, newFakeEndpoint(), "test")
}

func TestRegisterUniqueness(t *testing.T) {
	r := NewRegistry()
	a := testClient("alice")
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(testClient("alice")); !errors.Is(err, ErrAlreadyOnline) {
		t.Fatalf("duplicate Register: want ErrAlreadyOnline, got %v", err)
	}
	r.Unregister("alice")
	if err := r.Register(testClient("alice")); err != nil {
		t.Fatalf("Register after Unregister: %v", err)
	}
	r.Unregister("ghost") // idempotent
}

func TestListOnlineExcludesBusyAndCaller(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		if err := r.Register(testClient(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	if err := r.TryMarkBusyGroup([]string{"carol"}); err != nil {
		t.Fatalf("TryMarkBusyGroup: %v", err)
	}

	if diff := cmp.Diff([]string{"bob"}, r.ListOnline("alice")); diff != "" {
		t.Fatalf("ListOnline (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, r.ListOnline("")); diff != "" {
		t.Fatalf("ListOnline no exclude (-want +got):\n%s", diff)
	}
}

func TestTryMarkBusyPairAtomic(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := r.Register(testClient(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	if err := r.TryMarkBusyPair("alice", "bob"); err != nil {
		t.Fatalf("TryMarkBusyPair: %v", err)
	}
	// A losing pair attempt must not leave carol marked.
	if err := r.TryMarkBusyPair("carol", "alice"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("TryMarkBusyPair with busy member: want ErrUnavailable, got %v", err)
	}
	if diff := cmp.Diff([]string{"carol"}, r.ListOnline("")); diff != "" {
		t.Fatalf("ListOnline (-want +got):\n%s", diff)
	}

	r.ClearBusy("alice", "bob")
	if diff := cmp.Diff([]string{"alice", "bob", "carol"}, r.ListOnline("")); diff != "" {
		t.Fatalf("ListOnline after clear (-want +got):\n%s", diff)
	}
}

func TestRacingInitiatorsPairExactlyOnce(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testClient("target")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	initiators := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for _, name := range initiators {
		if err := r.Register(testClient(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	var wg sync.WaitGroup
	wins := make(chan string, len(initiators))
	for _, name := range initiators {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if r.TryMarkBusyPair(name, "target") == nil {
				wins <- name
			}
		}(name)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for name := range wins {
		winners = append(winners, name)
	}
	if len(winners) != 1 {
		t.Fatalf("want exactly one winner, got %v", winners)
	}
	// Everyone but the winner and the target is still free.
	if got := r.ListOnline(""); len(got) != len(initiators)-1 {
		t.Fatalf("ListOnline after race: want %d free, got %v", len(initiators)-1, got)
	}
}

func TestLookupFreeAtomicOverGroup(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := r.Register(testClient(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	if _, err := r.LookupFree("bob", "carol"); err != nil {
		t.Fatalf("LookupFree: %v", err)
	}
	if _, err := r.LookupFree("bob", "dave"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("LookupFree with absent member: want ErrUnavailable, got %v", err)
	}
	if err := r.TryMarkBusyGroup([]string{"carol"}); err != nil {
		t.Fatalf("TryMarkBusyGroup: %v", err)
	}
	if _, err := r.LookupFree("bob", "carol"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("LookupFree with busy member: want ErrUnavailable, got %v", err)
	}
	// LookupFree never marks anyone.
	if diff := cmp.Diff([]string{"alice", "bob"}, r.ListOnline("")); diff != "" {
		t.Fatalf("ListOnline (-want +got):\n%s", diff)
	}
}

func TestRename(t *testing.T) {
	r := NewRegistry()
	a := testClient("alice")
	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(testClient("bob")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Rename(a, "bob"); !errors.Is(err, ErrInvalidOrTaken) {
		t.Fatalf("Rename to taken name: want ErrInvalidOrTaken, got %v", err)
	}
	if err := r.Rename(a, "not valid!"); !errors.Is(err, ErrInvalidOrTaken) {
		t.Fatalf("Rename to invalid name: want ErrInvalidOrTaken, got %v", err)
	}

	if err := r.Rename(a, "alicia"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if a.name != "alicia" {
		t.Fatalf("client name after rename: want alicia, got %s", a.name)
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Fatalf("old name still registered after rename")
	}
	if got, ok := r.Lookup("alicia"); !ok || got != a {
		t.Fatalf("new name not registered to the same client")
	}

	// A client that lost its registration cannot rename a successor.
	r.Unregister("alicia")
	successor := testClient("alicia")
	if err := r.Register(successor); err != nil {
		t.Fatalf("Register successor: %v", err)
	}
	if err := r.Rename(a, "eve"); !errors.Is(err, ErrInvalidOrTaken) {
		t.Fatalf("stale Rename: want ErrInvalidOrTaken, got %v", err)
	}
	if _, ok := r.Lookup("alicia"); !ok {
		t.Fatalf("successor lost its registration")
	}
}

func TestClearBusyOwnedIgnoresSuccessor(t *testing.T) {
	r := NewRegistry()
	old := testClient("alice")
	if err := r.Register(old); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Unregister("alice")

	successor := testClient("alice")
	if err := r.Register(successor); err != nil {
		t.Fatalf("Register successor: %v", err)
	}
	if err := r.TryMarkBusyGroup([]string{"alice"}); err != nil {
		t.Fatalf("TryMarkBusyGroup: %v", err)
	}

	// The old connection's teardown must not free the successor.
	r.ClearBusyOwned(old)
	if got := r.ListOnline(""); len(got) != 0 {
		t.Fatalf("successor freed by stale teardown: %v", got)
	}

	r.ClearBusyOwned(successor)
	if diff := cmp.Diff([]string{"alice"}, r.ListOnline("")); diff != "" {
		t.Fatalf("ListOnline (-want +got):\n%s", diff)
	}
}
