package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/store"
	"github.com/ashureev/sqlchat/internal/transcript"
)

// Service implements the chat API on top of the session store and a TurnExecutor.
type Service struct {
	appName  string
	sessions store.SessionStore
	prefs    store.PreferenceStore
	ensurer  SessionEnsurer
	executor *TurnExecutor
	logger   *slog.Logger
}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	AppName     string
	Sessions    store.SessionStore
	Preferences store.PreferenceStore
	Ensurer     SessionEnsurer
	Executor    *TurnExecutor
	Logger      *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		appName:  cfg.AppName,
		sessions: cfg.Sessions,
		prefs:    cfg.Preferences,
		ensurer:  cfg.Ensurer,
		executor: cfg.Executor,
		logger:   logger,
	}
}

func (s *Service) key(userID, sessionID string) domain.SessionKey {
	return domain.SessionKey{AppName: s.appName, UserID: userID, SessionID: sessionID}
}

// EnsureSession makes sure the session exists and returns it.
func (s *Service) EnsureSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	sess, err := s.ensurer.Ensure(ctx, s.key(userID, sessionID))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("ensure session %s/%s returned no session", userID, sessionID)
	}
	return sess, nil
}

// Chat ensures the session and runs one turn. Returned errors carry a stack
// trace for debug responses.
func (s *Service) Chat(ctx context.Context, userID, sessionID, query string) (string, error) {
	s.logger.Info("Processing chat request", "user_id", userID, "session_id", sessionID)

	sess, err := s.EnsureSession(ctx, userID, sessionID)
	if err != nil {
		return "", errors.Wrap(err, "failed to create or retrieve session")
	}
	s.logger.Debug("Session ensured", "session_id", sess.SessionID)

	response, err := s.executor.RunTurn(ctx, sess.Key(), query)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return response, nil
}

// History returns the normalized transcript of a session. Any failure,
// including a missing session, yields an empty transcript.
func (s *Service) History(ctx context.Context, userID, sessionID string) []domain.TranscriptEntry {
	sess, err := s.sessions.GetSession(ctx, s.key(userID, sessionID))
	if err != nil {
		s.logger.Debug("history: session lookup failed", "user_id", userID, "session_id", sessionID, "error", err)
		return []domain.TranscriptEntry{}
	}
	if sess == nil {
		return []domain.TranscriptEntry{}
	}
	return transcript.Extract(sess.State)
}

// ClearSession deletes a session and its conversation state.
func (s *Service) ClearSession(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.DeleteSession(ctx, s.key(userID, sessionID)); err != nil {
		return fmt.Errorf("clear session %s/%s: %w", userID, sessionID, err)
	}
	s.logger.Info("Session cleared", "user_id", userID, "session_id", sessionID)
	return nil
}

// Preferences returns the learned preferences of a user as key/value pairs.
func (s *Service) Preferences(ctx context.Context, userID string) (map[string]string, error) {
	prefs, err := s.prefs.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get preferences for %s: %w", userID, err)
	}
	out := make(map[string]string, len(prefs))
	for _, p := range prefs {
		out[p.Key] = p.Value
	}
	return out, nil
}

// TestDatabase creates a throwaway session under a separate app name to
// verify the session database accepts writes.
func (s *Service) TestDatabase(ctx context.Context) (string, error) {
	key := domain.SessionKey{
		AppName:   s.appName + "_test",
		UserID:    "test_user",
		SessionID: fmt.Sprintf("test_session_%d", time.Now().UnixNano()),
	}
	sess, err := s.sessions.CreateSession(ctx, key, map[string]any{"test": true})
	if err != nil {
		return "", err
	}
	if err := s.sessions.DeleteSession(ctx, key); err != nil {
		s.logger.Warn("failed to delete db test session", "session_id", key.SessionID, "error", err)
	}
	return sess.SessionID, nil
}
