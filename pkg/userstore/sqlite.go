package userstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmhart/confab/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLiteStore is the default Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database and runs migrations.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("userstore: open db: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: set WAL: %w", err)
	}
	// Avoid "database is locked" under concurrency
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: set busy_timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("userstore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		created_at TEXT    NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser registers a new username.
func (s *SQLiteStore) CreateUser(username string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("userstore: create user: %w", err)
	}

	// Truncate to the stored precision so the returned user matches a
	// later read back.
	createdAt := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.Exec(
		"INSERT INTO users (username, created_at) VALUES (?, ?)",
		username, createdAt.Format(dbTimeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("userstore: create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("userstore: create user: %w", err)
	}

	return &model.User{ID: id, Username: username, CreatedAt: createdAt}, nil
}

// GetUser retrieves a user by username. Returns (nil, nil) if not found.
func (s *SQLiteStore) GetUser(username string) (*model.User, error) {
	row := s.db.QueryRow(
		"SELECT id, username, created_at FROM users WHERE username = ?",
		username,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("userstore: get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all registered users ordered by username.
func (s *SQLiteStore) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query("SELECT id, username, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("userstore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("userstore: list users: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userstore: list users: %w", err)
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var createdAt string
	if err := row.Scan(&u.ID, &u.Username, &createdAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(dbTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	u.CreatedAt = t.UTC()
	return &u, nil
}
