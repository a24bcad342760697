// Package session guarantees that a (app, user, session) key maps to a
// durable session, creating it idempotently when needed.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/sqlchat/internal/domain"
)

// Defaults for Guarantor.
const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 100 * time.Millisecond
)

// Store is the subset of the session store the Guarantor relies on. Both
// calls may be slow, may race with other callers, and GetSession may briefly
// miss a session that was just created.
type Store interface {
	GetSession(ctx context.Context, key domain.SessionKey) (*domain.Session, error)
	CreateSession(ctx context.Context, key domain.SessionKey, state map[string]any) (*domain.Session, error)
}

// Observer receives ensure outcomes. Implemented by the metrics package.
type Observer interface {
	ObserveCreateAttempt(err error)
	ObserveEnsure(outcome string)
}

// Ensure outcomes reported to the Observer.
const (
	OutcomeExisting  = "existing"
	OutcomeCreated   = "created"
	OutcomeConverged = "converged"
	OutcomeFailed    = "failed"
)

// Guarantor implements the ensure-session protocol.
type Guarantor struct {
	store      Store
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Guarantor.
type Option func(*Guarantor)

// WithMaxRetries sets the number of create attempts. Values < 1 keep the default.
func WithMaxRetries(n int) Option {
	return func(g *Guarantor) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

// WithBaseDelay sets the backoff base. Negative values keep the default.
func WithBaseDelay(d time.Duration) Option {
	return func(g *Guarantor) {
		if d >= 0 {
			g.baseDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guarantor) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(g *Guarantor) { g.observer = o }
}

// NewGuarantor creates a Guarantor over store.
func NewGuarantor(store Store, opts ...Option) *Guarantor {
	g := &Guarantor{
		store:      store,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		logger:     slog.Default(),
		observer:   nopObserver{},
		sleep:      Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.observer == nil {
		g.observer = nopObserver{}
	}
	return g
}

// Ensure returns the session for key, creating it if it does not exist.
//
// Concurrent callers for the same key are not serialized. Each one falls back
// to a defensive read after a failed create or verify, so racing callers
// converge on whichever session the store kept.
func (g *Guarantor) Ensure(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	if key.UserID == "" || key.SessionID == "" {
		return nil, fmt.Errorf("%w: user_id and session_id are required", ErrInvalidArgument)
	}

	logger := g.logger.With("user_id", key.UserID, "session_id", key.SessionID)

	sess, err := g.store.GetSession(ctx, key)
	switch {
	case err != nil:
		logger.Debug("Session lookup failed, will create", "error", err)
	case sess != nil && matches(sess, key):
		g.observer.ObserveEnsure(OutcomeExisting)
		return sess, nil
	default:
		logger.Debug("Session does not exist, creating")
	}

	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		delay := g.backoff(attempt)

		sess, err := g.createAndVerify(ctx, key, delay)
		g.observer.ObserveCreateAttempt(err)
		if err == nil {
			logger.Debug("Session created and verified", "attempt", attempt+1)
			g.observer.ObserveEnsure(OutcomeCreated)
			return sess, nil
		}
		lastErr = err
		logger.Debug("Session create attempt failed", "attempt", attempt+1, "error", err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			g.observer.ObserveEnsure(OutcomeFailed)
			return nil, fmt.Errorf("ensure session %s: %w", key, ctxErr)
		}

		// Another caller may have created the session in the meantime.
		if existing, getErr := g.store.GetSession(ctx, key); getErr == nil && existing != nil && matches(existing, key) {
			logger.Debug("Found existing session after create failure", "attempt", attempt+1)
			g.observer.ObserveEnsure(OutcomeConverged)
			return existing, nil
		} else if getErr != nil {
			logger.Debug("Defensive session read failed", "attempt", attempt+1, "error", getErr)
		}

		if attempt == g.maxRetries-1 {
			logger.Error("Session ensure retries exhausted", "attempts", g.maxRetries, "error", lastErr)
			g.observer.ObserveEnsure(OutcomeFailed)
			return nil, &EnsureError{Key: key, Attempts: g.maxRetries, Err: lastErr}
		}

		if err := g.sleep(ctx, delay); err != nil {
			g.observer.ObserveEnsure(OutcomeFailed)
			return nil, fmt.Errorf("ensure session %s: %w", key, err)
		}
	}

	g.observer.ObserveEnsure(OutcomeFailed)
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrExhaustedRetries, key, g.maxRetries)
}

// createAndVerify creates the session, waits delay for the write to become
// visible, and reads it back.
func (g *Guarantor) createAndVerify(ctx context.Context, key domain.SessionKey, delay time.Duration) (*domain.Session, error) {
	created, err := g.store.CreateSession(ctx, key, map[string]any{})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errCreateReturnedNil
	}

	if err := g.sleep(ctx, delay); err != nil {
		return nil, err
	}

	verified, err := g.store.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if verified == nil || !matches(verified, key) {
		return nil, errVerifyReturnedNil
	}
	return verified, nil
}

// backoff returns baseDelay * 2^attempt.
func (g *Guarantor) backoff(attempt int) time.Duration {
	return g.baseDelay * time.Duration(1<<attempt)
}

func matches(sess *domain.Session, key domain.SessionKey) bool {
	return sess.Key() == key
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopObserver struct{}

func (nopObserver) ObserveCreateAttempt(error) {}
func (nopObserver) ObserveEnsure(string)       {}
