package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/verdantiq/nexus/internal/agents"
	"github.com/verdantiq/nexus/internal/cache"
	"github.com/verdantiq/nexus/internal/domain"
	"github.com/verdantiq/nexus/internal/engine"
	"github.com/verdantiq/nexus/internal/store"
	"github.com/verdantiq/nexus/internal/ws"
)

// startLocks prevents concurrent start requests for the same session.
var startLocks sync.Map

// SessionHandler handles the /v2 session endpoints.
type SessionHandler struct {
	*Handler
	engine *engine.Engine
	hub    *ws.Hub
	cache  *cache.ResultsCache // nil when REDIS_URL is unset
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler, eng *engine.Engine, hub *ws.Hub, resultsCache *cache.ResultsCache) *SessionHandler {
	return &SessionHandler{Handler: base, engine: eng, hub: hub, cache: resultsCache}
}

// RegisterRoutes registers the /v2 routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/v2", func(r chi.Router) {
		r.Get("/agents", h.ListAgents)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/files", h.UploadFile)
				r.Post("/start", h.StartProcessing)
				r.Get("/results", h.GetResults)
				r.Get("/exports", h.ListExports)
				r.Get("/exports/{name}", h.DownloadExport)
				r.Post("/feedback", h.SubmitFeedback)
			})
		})
	})
}

// ListAgents returns the static agent network description.
func (h *SessionHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents.All(),
	})
}

// CreateSession creates a new session in the uploading state.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Status:    domain.StatusUploading,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("Session created", "session_id", session.ID)
	JSON(w, http.StatusCreated, session)
}

// GetSession returns a session status snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, session)
}

// UploadFile accepts one multipart activity-data file for a session.
func (h *SessionHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if session.Status != domain.StatusUploading {
		Error(w, http.StatusConflict, "session is no longer accepting uploads")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	src, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			slog.Debug("failed to close upload part", "error", closeErr)
		}
	}()

	file := &domain.UploadedFile{
		ID:         uuid.NewString(),
		Name:       filepath.Base(header.Filename),
		Category:   domain.CategorizeFilename(header.Filename),
		UploadedAt: time.Now(),
	}

	dir := engine.UploadDir(h.cfg.DataDir, session.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create upload directory", "error", err, "session_id", session.ID)
		Error(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	path := filepath.Join(dir, file.ID)
	dst, err := os.Create(path)
	if err != nil {
		slog.Error("Failed to create upload file", "error", err, "session_id", session.ID)
		Error(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		slog.Error("Failed to write upload", "error", err, "session_id", session.ID)
		removeUpload(path, session.ID)
		Error(w, http.StatusRequestEntityTooLarge, "upload failed or exceeded size limit")
		return
	}
	file.SizeBytes = written

	if err := h.repo.AddFile(r.Context(), session.ID, file); err != nil {
		slog.Error("Failed to record upload", "error", err, "session_id", session.ID)
		removeUpload(path, session.ID)
		Error(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	slog.Info("File uploaded",
		"session_id", session.ID,
		"file_id", file.ID,
		"name", file.Name,
		"category", file.Category,
		"size_bytes", file.SizeBytes)
	JSON(w, http.StatusCreated, file)
}

// StartProcessing kicks off the processing pipeline for a session.
func (h *SessionHandler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Prevent concurrent start requests.
	lock, _ := startLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Start already in progress", "session_id", sessionID)
		Error(w, http.StatusConflict, "start_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		startLocks.Delete(sessionID)
	}()

	session, err := h.engine.Start(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, engine.ErrNoFiles):
		Error(w, http.StatusUnprocessableEntity, "no files uploaded")
		return
	case errors.Is(err, engine.ErrAlreadyStarted):
		Error(w, http.StatusConflict, "processing already started")
		return
	case err != nil:
		slog.Error("Failed to start processing", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to start processing")
		return
	}

	JSON(w, http.StatusOK, session)
}

// GetResults returns the computed results for a completed session.
func (h *SessionHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	if h.cache != nil {
		if results := h.cache.Get(r.Context(), session.ID); results != nil {
			JSON(w, http.StatusOK, results)
			return
		}
	}

	results, err := h.repo.GetResults(r.Context(), session.ID)
	if err != nil {
		slog.Error("Failed to load results", "error", err, "session_id", session.ID)
		Error(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if results == nil {
		Error(w, http.StatusNotFound, "results not ready")
		return
	}

	if h.cache != nil {
		h.cache.Set(r.Context(), results)
	}
	JSON(w, http.StatusOK, results)
}

// ListExports returns the export artifacts available for a session.
func (h *SessionHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	exports, err := engine.ListExports(h.cfg.DataDir, session.ID)
	if err != nil {
		slog.Error("Failed to list exports", "error", err, "session_id", session.ID)
		Error(w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	if exports == nil {
		exports = []domain.Export{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"exports": exports})
}

// DownloadExport streams one export artifact.
func (h *SessionHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		Error(w, http.StatusBadRequest, "invalid export name")
		return
	}

	path := filepath.Join(engine.ExportDir(h.cfg.DataDir, session.ID), name)
	if _, err := os.Stat(path); err != nil {
		Error(w, http.StatusNotFound, "export not found")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// removeUpload deletes upload bytes that never got a metadata row, so
// failed uploads do not sit on disk until the session is swept.
func removeUpload(path, sessionID string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove orphaned upload", "error", err, "session_id", sessionID, "path", path)
	}
}

// feedbackRequest is the POST /v2/sessions/{id}/feedback payload.
type feedbackRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SubmitFeedback records a feedback entry for a session.
func (h *SessionHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid feedback payload")
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	req.Content = strings.TrimSpace(req.Content)
	if req.Type == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "feedback type and content are required")
		return
	}

	fb := &domain.Feedback{
		SessionID: session.ID,
		Type:      req.Type,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	if err := h.repo.AddFeedback(r.Context(), fb); err != nil {
		slog.Error("Failed to record feedback", "error", err, "session_id", session.ID)
		Error(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}

	slog.Info("Feedback recorded", "session_id", session.ID, "type", fb.Type)
	JSON(w, http.StatusCreated, fb)
}

// loadSession resolves the {sessionID} path parameter. Writes the error
// response and returns ok=false when the session cannot be served.
func (h *SessionHandler) loadSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "missing session id")
		return nil, false
	}

	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}
