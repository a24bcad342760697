package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := shared.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		app_name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (app_name, user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id TEXT NOT NULL,
		priority_key TEXT NOT NULL,
		priority_value TEXT NOT NULL,
		context TEXT,
		feedback_text TEXT,
		source_query TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, priority_key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by its key.
func (s *SQLiteStore) GetSession(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	query := `
		SELECT app_name, user_id, session_id, state_json, created_at, updated_at
		FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`

	row := s.db.QueryRowContext(ctx, query, key.AppName, key.UserID, key.SessionID)

	var sess domain.Session
	var stateJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&sess.AppName, &sess.UserID, &sess.SessionID, &stateJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get session", err)
	}

	state, err := decodeState(stateJSON)
	if err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", key, err)
	}
	sess.State = state
	sess.CreatedAt = time.UnixMilli(createdAt)
	sess.UpdatedAt = time.UnixMilli(updatedAt)

	return &sess, nil
}

// CreateSession inserts a session unless one already exists for key, then
// returns the stored row.
func (s *SQLiteStore) CreateSession(ctx context.Context, key domain.SessionKey, state map[string]any) (*domain.Session, error) {
	stateJSON, err := encodeState(state)
	if err != nil {
		return nil, fmt.Errorf("encode state of %s: %w", key, err)
	}

	s.writeMu.Lock()
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (app_name, user_id, session_id, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_name, user_id, session_id) DO NOTHING`,
		key.AppName, key.UserID, key.SessionID, stateJSON, now, now,
	)
	s.writeMu.Unlock()
	if err != nil {
		return nil, classify("create session", err)
	}

	return s.GetSession(ctx, key)
}

// UpdateSessionState replaces the state of an existing session.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, key domain.SessionKey, state map[string]any) error {
	stateJSON, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("encode state of %s: %w", key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state_json = ?, updated_at = ?
		WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		stateJSON, time.Now().UnixMilli(), key.AppName, key.UserID, key.SessionID,
	)
	if err != nil {
		return classify("update session state", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update %s: %w", key, ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, key domain.SessionKey) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		key.AppName, key.UserID, key.SessionID,
	)
	if err != nil {
		return classify("delete session", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions idle for longer than ttl.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-ttl).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, classify("delete expired sessions", err)
	}
	return result.RowsAffected()
}

// GetPreferences returns all saved preferences of a user.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) ([]domain.Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, priority_key, priority_value, context, feedback_text, source_query, updated_at
		FROM user_preferences WHERE user_id = ? ORDER BY priority_key`, userID)
	if err != nil {
		return nil, classify("query preferences", err)
	}
	defer func() { _ = rows.Close() }()

	var prefs []domain.Preference
	for rows.Next() {
		var p domain.Preference
		var prefContext, feedback, source sql.NullString
		var updatedAt int64
		if err := rows.Scan(&p.UserID, &p.Key, &p.Value, &prefContext, &feedback, &source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		p.Context = prefContext.String
		p.FeedbackText = feedback.String
		p.SourceQuery = source.String
		p.UpdatedAt = time.UnixMilli(updatedAt)
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

// UpsertPreference creates or updates the preference (user, key).
func (s *SQLiteStore) UpsertPreference(ctx context.Context, pref *domain.Preference) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences
			(user_id, priority_key, priority_value, context, feedback_text, source_query, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, priority_key) DO UPDATE SET
			priority_value = excluded.priority_value,
			context = excluded.context,
			feedback_text = excluded.feedback_text,
			source_query = excluded.source_query,
			updated_at = excluded.updated_at`,
		pref.UserID, pref.Key, pref.Value,
		nullIfEmpty(pref.Context), nullIfEmpty(pref.FeedbackText), nullIfEmpty(pref.SourceQuery),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return classify("upsert preference", err)
	}
	return nil
}

// classify wraps err with op and marks SQLite contention as ErrUnavailable.
func classify(op string, err error) error {
	if shared.IsSQLiteConflictError(err) {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func encodeState(state map[string]any) (string, error) {
	if state == nil {
		return "{}", nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeState(raw string) (map[string]any, error) {
	state := map[string]any{}
	if raw == "" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
