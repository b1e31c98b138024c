package userstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmhart/confab/pkg/model"
)

// MemoryStore provides an in-memory Store implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextID          int64
	usersByUsername map[string]*model.User
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextID:          1,
		usersByUsername: make(map[string]*model.User),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateUser registers a new username.
func (s *MemoryStore) CreateUser(username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("userstore: create user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[username]; exists {
		return nil, ErrUserExists
	}
	user := &model.User{
		ID:        s.nextID,
		Username:  username,
		CreatedAt: s.now().UTC(),
	}
	s.nextID++
	s.usersByUsername[username] = user
	cp := *user
	return &cp, nil
}

// GetUser retrieves a user by username. Returns (nil, nil) if not found.
func (s *MemoryStore) GetUser(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

// ListUsers returns all registered users ordered by username.
func (s *MemoryStore) ListUsers() ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}
