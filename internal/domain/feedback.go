package domain

import (
	"time"
)

// Feedback is a user-submitted feedback record attached to a session.
type Feedback struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
