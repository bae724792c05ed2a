package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/verdantiq/nexus/internal/store"
)

const sweepInterval = 5 * time.Minute

// CleanupCallback is called when a session is removed by the sweeper,
// so open progress streams can be closed.
type CleanupCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically removes
// sessions with no activity within the TTL, along with their on-disk
// uploads and exports. The dashboard discards its session on navigation
// without telling the server, so expiry is the only garbage collection.
func StartSweeper(ctx context.Context, repo store.Repository, dataDir string, ttl time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, dataDir, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo store.Repository, dataDir string, ttl time.Duration, onCleanup CleanupCallback) {
	expired, err := repo.GetExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("Sweeper failed to get expired sessions", "error", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	slog.Info("Sweeper found expired sessions", "count", len(expired))

	for _, session := range expired {
		slog.Info("Sweeper removing session",
			"session_id", session.ID,
			"status", session.Status)

		if onCleanup != nil {
			onCleanup(session.ID)
		}

		if err := repo.DeleteSession(ctx, session.ID); err != nil {
			slog.Warn("Sweeper failed to delete session rows",
				"error", err,
				"session_id", session.ID)
			continue
		}

		if err := os.RemoveAll(SessionDir(dataDir, session.ID)); err != nil {
			slog.Warn("Sweeper failed to remove session data",
				"error", err,
				"session_id", session.ID)
		}
	}

	slog.Info("Sweeper cleanup completed", "cleaned", len(expired))
}
