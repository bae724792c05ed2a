// Package domain contains core domain types for the Nexus gateway.
package domain

import (
	"time"
)

// Status is the session lifecycle state.
//
// Transitions are monotonic along uploading -> processing -> (completed | error).
// There are no backward transitions.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// rank orders statuses along the lifecycle. Terminal states share a rank.
func (s Status) rank() int {
	switch s {
	case StatusUploading:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusError:
		return 2
	}
	return -1
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() == s.rank()+1
}

// Session represents one user's upload/processing workflow instance.
type Session struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Files     []UploadedFile `json:"files"`
	Agents    []string       `json:"agents"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasFiles returns true if at least one file has been uploaded.
func (s *Session) HasFiles() bool {
	return len(s.Files) > 0
}

// ExpiresIn returns the time until the session is swept as inactive.
// Returns 0 if the session has already expired.
func (s *Session) ExpiresIn(ttl time.Duration) time.Duration {
	remaining := time.Until(s.UpdatedAt.Add(ttl))
	if remaining < 0 {
		return 0
	}
	return remaining
}
