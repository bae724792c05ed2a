package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantiq/nexus/internal/domain"
)

func TestSweepRemovesExpiredSessions(t *testing.T) {
	repo := newMemRepo()
	dataDir := t.TempDir()
	ctx := context.Background()

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.CreateSession(ctx, &domain.Session{
		ID: "stale", Status: domain.StatusCompleted, StartedAt: stale, UpdatedAt: stale,
	}))
	require.NoError(t, os.MkdirAll(UploadDir(dataDir, "stale"), 0755))

	fresh := time.Now()
	require.NoError(t, repo.CreateSession(ctx, &domain.Session{
		ID: "fresh", Status: domain.StatusUploading, StartedAt: fresh, UpdatedAt: fresh,
	}))

	// Stream teardown and cache invalidation hang off this callback; it
	// must fire for every swept session, before its rows go away.
	var cleaned []string
	sweepExpiredSessions(ctx, repo, dataDir, time.Hour, func(sessionID string) {
		cleaned = append(cleaned, sessionID)
	})

	assert.Equal(t, []string{"stale"}, cleaned)

	swept, err := repo.GetSession(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, swept)

	_, err = os.Stat(SessionDir(dataDir, "stale"))
	assert.True(t, os.IsNotExist(err), "expected session data removed from disk")

	kept, err := repo.GetSession(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, kept, "expected active session untouched")
}

func TestSweepNoExpiredSessions(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.CreateSession(ctx, &domain.Session{
		ID: "fresh", Status: domain.StatusUploading, StartedAt: now, UpdatedAt: now,
	}))

	called := false
	sweepExpiredSessions(ctx, repo, t.TempDir(), time.Hour, func(string) { called = true })
	assert.False(t, called)
}
