// Package ws provides WebSocket-based progress streaming for sessions.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/verdantiq/nexus/internal/domain"
)

// Hub manages active WebSocket connections per session. Multiple
// dashboard tabs may watch the same session, so connections are keyed by
// session ID and a per-connection ID.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewHub creates a new connection hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a session and connection ID.
func (h *Hub) GetActive(sessionID, connID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.active[sessionID]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a new WebSocket connection for a session.
func (h *Hub) Register(sessionID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := h.active[sessionID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	h.active[sessionID][connID] = conn
	slog.Info("Progress stream registered", "session_id", sessionID, "conn_id", connID)
}

// Unregister removes a WebSocket connection for a session.
func (h *Hub) Unregister(sessionID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[sessionID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.active, sessionID)
			}
			slog.Info("Progress stream unregistered", "session_id", sessionID, "conn_id", connID)
		}
	}
}

// Broadcast pushes an event to every connection watching the session.
// Writes happen under the read lock so events for one session are
// delivered in publish order.
func (h *Hub) Broadcast(sessionID string, event domain.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal progress event", "error", err, "session_id", sessionID)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, conn := range h.active[sessionID] {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			slog.Debug("Progress write failed", "error", err, "session_id", sessionID, "conn_id", connID)
		}
	}
}

// CloseSession forcefully terminates all streams for a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[sessionID]
	if !ok {
		return
	}

	for connID, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Progress stream closed", "session_id", sessionID, "conn_id", connID)
	}
	delete(h.active, sessionID)
}
