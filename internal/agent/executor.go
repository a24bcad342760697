package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/session"
)

// Defaults for TurnExecutor.
const (
	DefaultMaxAttempts   = 3
	DefaultRecoveryDelay = 200 * time.Millisecond
	DefaultSettleDelay   = 500 * time.Millisecond
)

// errTurnExhausted is only returned if the attempt loop exits without a decision.
var errTurnExhausted = errors.New("agent turn failed after all recovery attempts")

// Recovery outcomes reported to the TurnObserver.
const (
	RecoveryRecreated = "recreated"
	RecoveryFailed    = "failed"
)

// TurnObserver receives turn execution events. Implemented by the metrics package.
type TurnObserver interface {
	ObserveTurnAttempt()
	ObserveRecovery(outcome string)
}

// TurnExecutorConfig configures a TurnExecutor. Zero values select defaults.
type TurnExecutorConfig struct {
	MaxAttempts   int
	RecoveryDelay time.Duration
	SettleDelay   time.Duration
	Logger        *slog.Logger
	Observer      TurnObserver
}

// TurnExecutor submits a user message to a Runtime and recovers from session
// loss by recreating the session and resubmitting the identical message.
type TurnExecutor struct {
	runtime       Runtime
	sessions      SessionEnsurer
	maxAttempts   int
	recoveryDelay time.Duration
	settleDelay   time.Duration
	logger        *slog.Logger
	observer      TurnObserver
	sleep         func(ctx context.Context, d time.Duration) error
}

// turnAttempt is one iteration of the RunTurn loop.
type turnAttempt struct {
	index   int
	key     domain.SessionKey
	message domain.Content
}

// NewTurnExecutor creates a TurnExecutor.
func NewTurnExecutor(runtime Runtime, sessions SessionEnsurer, cfg TurnExecutorConfig) *TurnExecutor {
	e := &TurnExecutor{
		runtime:       runtime,
		sessions:      sessions,
		maxAttempts:   cfg.MaxAttempts,
		recoveryDelay: cfg.RecoveryDelay,
		settleDelay:   cfg.SettleDelay,
		logger:        cfg.Logger,
		observer:      cfg.Observer,
		sleep:         session.Sleep,
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.recoveryDelay <= 0 {
		e.recoveryDelay = DefaultRecoveryDelay
	}
	if e.settleDelay <= 0 {
		e.settleDelay = DefaultSettleDelay
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.observer == nil {
		e.observer = nopTurnObserver{}
	}
	return e
}

// RunTurn submits message to the session and returns the text of the final
// event. At most MaxAttempts submissions are made. Only session-not-found
// failures are retried; every other error is returned unchanged. If the
// session cannot be recreated the turn is aborted with that error.
func (e *TurnExecutor) RunTurn(ctx context.Context, key domain.SessionKey, message string) (string, error) {
	for i := 1; i <= e.maxAttempts; i++ {
		attempt := turnAttempt{index: i, key: key, message: domain.NewUserContent(message)}
		logger := e.logger.With("user_id", key.UserID, "session_id", key.SessionID, "attempt", attempt.index)

		logger.Info("Agent run attempt")
		e.observer.ObserveTurnAttempt()

		response, err := e.submit(ctx, attempt)
		if err == nil {
			return response, nil
		}
		if !IsSessionNotFound(err) || attempt.index == e.maxAttempts {
			logger.Error("Agent run failed", "error", err)
			return "", err
		}

		logger.Warn("Session not found, recreating session", "error", err)
		if err := e.sleep(ctx, e.recoveryDelay*time.Duration(attempt.index)); err != nil {
			return "", err
		}
		if _, err := e.sessions.Ensure(ctx, key); err != nil {
			logger.Error("Failed to recreate session", "error", err)
			e.observer.ObserveRecovery(RecoveryFailed)
			return "", fmt.Errorf("recreate session %s: %w", key, err)
		}
		e.observer.ObserveRecovery(RecoveryRecreated)
		logger.Info("Session recreated")
		if err := e.sleep(ctx, e.settleDelay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: %s", errTurnExhausted, key)
}

// submit drains the runtime's event stream. The response is the first part
// of the final event; a stream without a final event yields "".
func (e *TurnExecutor) submit(ctx context.Context, attempt turnAttempt) (string, error) {
	var response string
	for event, err := range e.runtime.Submit(ctx, attempt.key, attempt.message) {
		if err != nil {
			return "", err
		}
		if event == nil {
			continue
		}
		e.logger.Debug("Agent event", "event_id", event.ID, "author", event.Author, "final", event.IsFinal())
		if event.IsFinal() {
			response = event.Content.FirstText()
		}
	}
	return response, nil
}

type nopTurnObserver struct{}

func (nopTurnObserver) ObserveTurnAttempt()    {}
func (nopTurnObserver) ObserveRecovery(string) {}
