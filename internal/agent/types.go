// Package agent runs chat turns against an agent runtime and serves the chat API.
package agent

import (
	"time"

	"github.com/ashureev/sqlchat/internal/domain"
)

// EnsureSessionRequest is the body of POST /sessions/ensure.
type EnsureSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// EnsureSessionResponse is returned once the session is known to exist.
type EnsureSessionResponse struct {
	Status        string      `json:"status"`
	SessionExists bool        `json:"session_exists"`
	SessionID     string      `json:"session_id"`
	SessionInfo   SessionInfo `json:"session_info"`
}

// SessionInfo describes a stored session without its state.
type SessionInfo struct {
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserQuery string `json:"user_query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// ChatResponse carries the agent's final answer.
type ChatResponse struct {
	Response string `json:"response"`
}

// ChatErrorResponse is returned when a turn fails. Traceback is only set in debug mode.
type ChatErrorResponse struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

// HistoryResponse is the body of GET /history/{user_id}/{session_id}.
type HistoryResponse struct {
	Messages []domain.TranscriptEntry `json:"messages"`
}

// PreferencesResponse is the body of GET /preferences/{user_id}.
type PreferencesResponse struct {
	Preferences map[string]string `json:"preferences"`
}

// DBTestResponse is the body of GET /debug/db-test.
type DBTestResponse struct {
	DBStatus      string `json:"db_status"`
	TestSessionID string `json:"test_session_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func sessionInfo(s *domain.Session) SessionInfo {
	return SessionInfo{
		AppName:   s.AppName,
		UserID:    s.UserID,
		SessionID: s.SessionID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
