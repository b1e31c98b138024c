package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/jmhart/confab/pkg/model"
)

var (
	// ErrAlreadyOnline is returned by Register when the username is taken
	// by a live connection.
	ErrAlreadyOnline = errors.New("server: user already online")

	// ErrUnavailable is returned when a chat target is absent or busy.
	ErrUnavailable = errors.New("server: user not available")

	// ErrInvalidOrTaken is returned by Rename when the new name is not
	// alphanumeric or is already registered.
	ErrInvalidOrTaken = errors.New("server: invalid or taken username")
)

type clientRecord struct {
	c    *client
	busy bool
}

// Registry is the authoritative mapping of online username to connection
// state. All reads and writes that must observe a consistent snapshot run
// under the single registry lock; no operation blocks on network I/O while
// holding it.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*clientRecord
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*clientRecord)}
}

// Register adds a client under its username. Fails with ErrAlreadyOnline
// if the username is already present.
func (r *Registry) Register(c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[c.name]; exists {
		return ErrAlreadyOnline
	}
	r.clients[c.name] = &clientRecord{c: c}
	return nil
}

// Unregister removes a username. Idempotent: safe to call on a username
// that is not present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
}

// ListOnline returns all non-busy usernames except the caller, sorted.
func (r *Registry) ListOnline(exclude string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name, rec := range r.clients {
		if name == exclude || rec.busy {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the client registered under name, if any.
func (r *Registry) Lookup(name string) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[name]
	if !ok {
		return nil, false
	}
	return rec.c, true
}

// LookupFree returns the clients for the given names if every one of them
// is present and not busy, checked as one atomic query. Does not mark
// anyone busy.
func (r *Registry) LookupFree(names ...string) ([]*client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, len(names))
	for i, name := range names {
		rec, ok := r.clients[name]
		if !ok || rec.busy {
			return nil, ErrUnavailable
		}
		out[i] = rec.c
	}
	return out, nil
}

// TryMarkBusyPair atomically checks that both a and b are present and not
// busy, then marks both busy. The check and the mark happen under one lock
// acquisition so two initiators cannot race to pair with the same target.
func (r *Registry) TryMarkBusyPair(a, b string) error {
	return r.TryMarkBusyGroup([]string{a, b})
}

// TryMarkBusyGroup is TryMarkBusyPair extended to N members.
func (r *Registry) TryMarkBusyGroup(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		rec, ok := r.clients[name]
		if !ok || rec.busy {
			return ErrUnavailable
		}
	}
	for _, name := range names {
		r.clients[name].busy = true
	}
	return nil
}

// ClearBusy marks the given usernames not busy. No-op for usernames no
// longer present.
func (r *Registry) ClearBusy(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if rec, ok := r.clients[name]; ok {
			rec.busy = false
		}
	}
}

// ClearBusyOwned marks the given clients not busy. A username that has
// since been taken over by a different connection is left alone, so a
// draining session can never clear the busy flag of an unrelated login.
// Reading c.name is safe here: it only changes under this same lock.
func (r *Registry) ClearBusyOwned(clients ...*client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range clients {
		if rec, ok := r.clients[c.name]; ok && rec.c == c {
			rec.busy = false
		}
	}
}

// Rename atomically moves a registered client to a new username,
// preserving its endpoint and busy state. Fails with ErrInvalidOrTaken if
// the new name is not alphanumeric or already registered. Invitations in
// flight against the old name resolve their commit step by name and so
// surface as unavailable.
func (r *Registry) Rename(c *client, newName string) error {
	if model.ValidateUsername(newName) != nil {
		return ErrInvalidOrTaken
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.clients[newName]; taken {
		return ErrInvalidOrTaken
	}
	rec, ok := r.clients[c.name]
	if !ok || rec.c != c {
		return ErrInvalidOrTaken
	}
	delete(r.clients, c.name)
	c.name = newName
	r.clients[newName] = rec
	return nil
}

// OnlineUser is one row of the admin snapshot.
type OnlineUser struct {
	Name string
	Busy bool
}

// Snapshot returns every registered user with its busy state, sorted by
// name. Used by the admin console.
func (r *Registry) Snapshot() []OnlineUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OnlineUser, 0, len(r.clients))
	for name, rec := range r.clients {
		out = append(out, OnlineUser{Name: name, Busy: rec.busy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
