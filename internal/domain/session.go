// Package domain contains core domain types for the hospital SQL chat service.
package domain

import (
	"time"
)

// SessionKey identifies a durable conversation session.
type SessionKey struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// String returns the key as app/user/session.
func (k SessionKey) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// Session is the persisted conversation state for a SessionKey.
type Session struct {
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Key returns the identity triple of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{AppName: s.AppName, UserID: s.UserID, SessionID: s.SessionID}
}

// Well-known state keys written by the agent runtime.
const (
	StateKeyMessages      = "messages"
	StateKeyHistory       = "history"
	StateKeyLastSQLResult = "last_sql_result_json"
)

// Sender values of a TranscriptEntry.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// TranscriptEntry is one normalized message of a session transcript.
type TranscriptEntry struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}
