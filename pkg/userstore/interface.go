// Package userstore persists the set of registered usernames.
//
// Registration is append-only: usernames are created by signup and never
// deleted. Implementations include the default SQLite store and an
// in-memory store for testing.
package userstore

import (
	"errors"

	"github.com/jmhart/confab/pkg/model"
)

// ErrUserExists is returned by CreateUser when the username is taken.
var ErrUserExists = errors.New("userstore: username already registered")

// Store defines the persistence interface for registered users.
type Store interface {
	// CreateUser registers a new username and returns the user with the
	// assigned ID. Returns ErrUserExists if the username is taken.
	CreateUser(username string) (*model.User, error)

	// GetUser retrieves a user by username. Returns (nil, nil) if not found.
	GetUser(username string) (*model.User, error)

	// ListUsers returns all registered users ordered by username.
	ListUsers() ([]model.User, error)

	// Close closes the underlying storage.
	Close() error
}

// Compile-time checks.
var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
