// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/sqlchat/internal/domain"
)

var (
	// ErrUnavailable marks transient store failures (lock contention, busy database).
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned by mutations that target a session that does not exist.
	ErrNotFound = errors.New("session not found")
)

// SessionStore persists conversation sessions keyed by (app, user, session).
type SessionStore interface {
	// GetSession returns the session for key, or nil, nil when it does not exist.
	GetSession(ctx context.Context, key domain.SessionKey) (*domain.Session, error)

	// CreateSession creates a session with the given initial state. Creating an
	// existing key is not an error: the existing session is returned unchanged.
	CreateSession(ctx context.Context, key domain.SessionKey, state map[string]any) (*domain.Session, error)

	// UpdateSessionState replaces the state of an existing session.
	UpdateSessionState(ctx context.Context, key domain.SessionKey, state map[string]any) error

	// DeleteSession removes a session. Deleting a missing session is a no-op.
	DeleteSession(ctx context.Context, key domain.SessionKey) error

	// DeleteExpiredSessions removes sessions not updated within ttl.
	DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// PreferenceStore persists learned per-user preferences.
type PreferenceStore interface {
	// GetPreferences returns all preferences of a user ordered by key.
	GetPreferences(ctx context.Context, userID string) ([]domain.Preference, error)

	// UpsertPreference creates or replaces the preference (user, key).
	UpsertPreference(ctx context.Context, pref *domain.Preference) error
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	SessionStore
	PreferenceStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
