package domain

import (
	"time"
)

// ProgressEvent types pushed over the per-session WebSocket.
const (
	EventStatus    = "status"
	EventStage     = "stage"
	EventAgent     = "agent"
	EventCompleted = "completed"
	EventError     = "error"
	EventPong      = "pong"
)

// ProgressEvent is the envelope pushed to subscribed dashboard clients.
// Events carry the full status so consumers can apply them in arrival
// order without reconstructing state.
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

// NewProgressEvent builds an event stamped with the current time.
func NewProgressEvent(eventType, sessionID string, status Status) ProgressEvent {
	return ProgressEvent{
		Type:      eventType,
		SessionID: sessionID,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}
}
