// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/verdantiq/nexus/internal/domain"
)

var (
	// ErrNotFound is returned when the referenced session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when a status transition is rejected because
	// the session is no longer in the expected state.
	ErrConflict = errors.New("status transition conflict")
)

// Repository defines the interface for persisting sessions and their
// processing outputs.
type Repository interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session with its uploaded file metadata.
	// Returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// AddFile records uploaded file metadata for a session and bumps the
	// session's updated_at timestamp.
	AddFile(ctx context.Context, sessionID string, file *domain.UploadedFile) error

	// TransitionStatus moves a session from one status to the next.
	// The update is conditional on the current status matching from,
	// which enforces the monotonic lifecycle under concurrency.
	// Returns ErrConflict if the session has already moved on, or
	// ErrNotFound if it does not exist.
	TransitionStatus(ctx context.Context, sessionID string, from, to domain.Status, agents []string, errMsg string) error

	// Touch bumps updated_at so active sessions are not swept.
	Touch(ctx context.Context, sessionID string, at time.Time) error

	// SaveResults persists the computed results for a session.
	SaveResults(ctx context.Context, results *domain.Results) error

	// GetResults retrieves results for a session. Returns nil, nil when
	// no results have been produced yet.
	GetResults(ctx context.Context, sessionID string) (*domain.Results, error)

	// AddFeedback records a feedback entry for a session.
	AddFeedback(ctx context.Context, fb *domain.Feedback) error

	// GetExpiredSessions retrieves sessions that have been inactive
	// longer than the TTL.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error)

	// DeleteSession removes a session and all dependent rows.
	DeleteSession(ctx context.Context, sessionID string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
