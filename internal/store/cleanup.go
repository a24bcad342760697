package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupInterval is how often RunCleanupWorker sweeps for idle sessions.
const DefaultCleanupInterval = 5 * time.Minute

// RunCleanupWorker periodically deletes sessions idle for longer than ttl.
// It blocks until ctx is done and always returns nil so it can run in an errgroup.
func RunCleanupWorker(ctx context.Context, sessions SessionStore, ttl, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("Session cleanup worker started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			cleanupExpiredSessions(ctx, sessions, ttl, logger)
		case <-ctx.Done():
			logger.Info("Session cleanup worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func cleanupExpiredSessions(ctx context.Context, sessions SessionStore, ttl time.Duration, logger *slog.Logger) {
	deleted, err := sessions.DeleteExpiredSessions(ctx, ttl)
	if err != nil {
		logger.Error("Session cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		logger.Info("Session cleanup removed idle sessions", "count", deleted)
	}
}
