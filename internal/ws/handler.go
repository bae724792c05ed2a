package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/verdantiq/nexus/internal/domain"
	"github.com/verdantiq/nexus/internal/store"
)

// Handler upgrades per-session progress stream connections.
type Handler struct {
	repo          store.Repository
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket handler.
func NewHandler(repo store.Repository, hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		repo:          repo,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage represents inbound WebSocket message structure. Clients
// only send keepalive pings; everything else arrives over REST.
type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade on
// /ws/sessions/{sessionID}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session for stream", "error", err, "session_id", sessionID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	connID := uuid.NewString()
	h.hub.Register(sessionID, connID, conn)
	defer h.hub.Unregister(sessionID, connID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Send a status snapshot so late subscribers start from current state.
	snapshot := domain.NewProgressEvent(domain.EventStatus, sessionID, session.Status)
	if session.Status.Terminal() {
		snapshot.Percent = 100
	}
	if err := h.writeEvent(conn, snapshot); err != nil {
		slog.Debug("Failed to send status snapshot", "error", err, "session_id", sessionID)
		return
	}

	h.readLoop(ctx, conn, sessionID)
	slog.Info("Progress stream ended", "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	for {
		_, message, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Debug("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == "ping" {
			pong := domain.NewProgressEvent(domain.EventPong, sessionID, "")
			if err := h.writeEvent(conn, pong); err != nil {
				slog.Debug("Failed to send pong", "error", err, "session_id", sessionID)
			}

			// Keepalive counts as activity for the TTL sweeper.
			go func() {
				touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := h.repo.Touch(touchCtx, sessionID, time.Now()); err != nil {
					slog.Warn("Failed to touch session", "error", err, "session_id", sessionID)
				}
			}()
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, event domain.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return conn.Write(context.Background(), websocket.MessageText, data)
}
