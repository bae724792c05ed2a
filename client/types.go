// Package client is the Go SDK for the Nexus ESG reporting backend.
//
// It wraps the /v2 REST endpoints, opens a per-session WebSocket for
// progress updates, and provides a client-side session store with the
// monotonic lifecycle actions the dashboard relies on.
package client

import (
	"time"
)

// Status is the session lifecycle state as reported by the backend.
// Transitions are monotonic along uploading -> processing -> (completed | error).
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

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

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// canTransitionTo reports whether moving from s to next is a legal
// forward transition.
func (s Status) canTransitionTo(next Status) bool {
	if s.rank() < 0 || next.rank() < 0 || s.Terminal() {
		return false
	}
	return next.rank() == s.rank()+1
}

// Session is the client-tracked record of one upload/processing
// workflow instance.
type Session struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Files     []UploadedFile `json:"files"`
	Agents    []string       `json:"agents"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UploadedFile is the metadata for one uploaded activity-data file.
type UploadedFile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Agent describes a named backend processing unit. Static metadata only;
// execution happens server-side.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Capabilities []string `json:"capabilities"`
}

// EmissionRecord is one computed emissions line item.
type EmissionRecord struct {
	Scope    int     `json:"scope"`
	Category string  `json:"category"`
	Activity string  `json:"activity"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Factor   float64 `json:"factor"`
	CO2eKg   float64 `json:"co2e_kg"`
	Agent    string  `json:"agent"`
	SourceID string  `json:"source_file_id"`
}

// Results is the aggregate output of a completed processing run.
type Results struct {
	SessionID   string             `json:"session_id"`
	TotalCO2eKg float64            `json:"total_co2e_kg"`
	ScopeTotals map[int]float64    `json:"scope_totals"`
	ByCategory  map[string]float64 `json:"by_category"`
	Records     []EmissionRecord   `json:"records"`
	RowsSkipped int                `json:"rows_skipped"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Export describes one downloadable artifact.
type Export struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a user-submitted feedback record.
type Feedback struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ProgressEvent types pushed over the per-session WebSocket.
const (
	EventStatus    = "status"
	EventStage     = "stage"
	EventAgent     = "agent"
	EventCompleted = "completed"
	EventError     = "error"
	EventPong      = "pong"
)

// ProgressEvent is one push update from the backend.
type ProgressEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Percent   int    `json:"percent"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"ts"`
}
