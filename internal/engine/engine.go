// Package engine implements the server-side carbon accounting pipeline.
//
// A session's uploaded activity-data files are parsed, matched against
// the static emission factor table, aggregated per scope and category,
// and written out as results plus export artifacts. Progress is pushed
// to subscribed clients after every stage.
package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/verdantiq/nexus/internal/agents"
	"github.com/verdantiq/nexus/internal/config"
	"github.com/verdantiq/nexus/internal/domain"
	"github.com/verdantiq/nexus/internal/shared"
	"github.com/verdantiq/nexus/internal/store"
)

var (
	// ErrNoFiles is returned when processing is started before any
	// file has been uploaded.
	ErrNoFiles = errors.New("session has no uploaded files")

	// ErrAlreadyStarted is returned when the session has left the
	// uploading state.
	ErrAlreadyStarted = errors.New("processing already started")
)

const runTimeout = 2 * time.Minute

// Broadcaster pushes progress events to subscribed clients.
type Broadcaster interface {
	Broadcast(sessionID string, event domain.ProgressEvent)
}

// Engine runs the processing pipeline for sessions.
type Engine struct {
	repo store.Repository
	hub  Broadcaster
	cfg  *config.Config
}

// New creates a new processing engine.
func New(repo store.Repository, hub Broadcaster, cfg *config.Config) *Engine {
	return &Engine{repo: repo, hub: hub, cfg: cfg}
}

// Start transitions the session to processing and launches the pipeline
// asynchronously. The returned session reflects the post-transition state.
func (e *Engine) Start(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, store.ErrNotFound
	}
	if !session.HasFiles() {
		return nil, ErrNoFiles
	}

	assigned := agents.Assign(session.Files)

	err = e.repo.TransitionStatus(ctx, sessionID, domain.StatusUploading, domain.StatusProcessing, assigned, "")
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadyStarted
	}
	if err != nil {
		return nil, fmt.Errorf("transition to processing: %w", err)
	}

	session.Status = domain.StatusProcessing
	session.Agents = assigned
	session.UpdatedAt = time.Now()

	event := domain.NewProgressEvent(domain.EventStatus, sessionID, domain.StatusProcessing)
	event.Message = "processing started"
	e.hub.Broadcast(sessionID, event)

	slog.Info("Processing started", "session_id", sessionID, "agents", assigned, "files", len(session.Files))

	go e.run(sessionID, assigned, session.Files)

	return session, nil
}

// run executes the pipeline for one session. It always leaves the
// session in a terminal state.
func (e *Engine) run(sessionID string, agentIDs []string, files []domain.UploadedFile) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	results, err := e.compute(ctx, sessionID, agentIDs, files)
	if err != nil {
		e.fail(ctx, sessionID, err)
		return
	}

	e.stage(sessionID, "report-composer", "aggregating results", 85)

	if err := e.writeExports(sessionID, results); err != nil {
		e.fail(ctx, sessionID, fmt.Errorf("write exports: %w", err))
		return
	}

	if err := e.repo.SaveResults(ctx, results); err != nil {
		e.fail(ctx, sessionID, fmt.Errorf("save results: %w", err))
		return
	}

	if err := e.transitionWithRetry(ctx, sessionID, domain.StatusCompleted, ""); err != nil {
		slog.Error("Failed to mark session completed", "error", err, "session_id", sessionID)
		return
	}

	done := domain.NewProgressEvent(domain.EventCompleted, sessionID, domain.StatusCompleted)
	done.Percent = 100
	done.Message = fmt.Sprintf("computed %.1f kg CO2e across %d records", results.TotalCO2eKg, len(results.Records))
	e.hub.Broadcast(sessionID, done)

	slog.Info("Processing completed",
		"session_id", sessionID,
		"total_co2e_kg", results.TotalCO2eKg,
		"records", len(results.Records),
		"rows_skipped", results.RowsSkipped)
}

// compute parses every uploaded file and produces aggregated results.
func (e *Engine) compute(ctx context.Context, sessionID string, agentIDs []string, files []domain.UploadedFile) (*domain.Results, error) {
	e.stage(sessionID, "intake-validator", "validating uploads", 10)

	results := &domain.Results{
		SessionID:   sessionID,
		ScopeTotals: make(map[int]float64),
		ByCategory:  make(map[string]float64),
	}

	agentFor := make(map[domain.FileCategory]string)
	for _, id := range agentIDs {
		agent := agents.Get(id)
		if agent == nil || id == "intake-validator" || id == "report-composer" {
			continue
		}
		for _, c := range agent.Handles {
			agentFor[c] = id
		}
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		agentID := agentFor[file.Category]
		if agentID == "" {
			agentID = "intake-validator"
		}
		percent := 10 + (70*(i+1))/len(files)
		e.agentStage(sessionID, agentID, fmt.Sprintf("processing %s", file.Name), percent)

		path := filepath.Join(UploadDir(e.cfg.DataDir, sessionID), file.ID)
		records, skipped, err := parseActivityFile(path, &file, agentID)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file.Name, err)
		}

		results.RowsSkipped += skipped
		for _, rec := range records {
			results.Records = append(results.Records, rec)
			results.TotalCO2eKg += rec.CO2eKg
			results.ScopeTotals[rec.Scope] += rec.CO2eKg
			results.ByCategory[rec.Category] += rec.CO2eKg
		}
	}

	results.GeneratedAt = time.Now()
	return results, nil
}

// parseActivityFile reads one activity-data CSV. Expected header:
// activity,quantity,unit. Rows without a matching emission factor are
// counted as skipped, not failed.
func parseActivityFile(path string, file *domain.UploadedFile, agentID string) ([]domain.EmissionRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("failed to close upload", "error", closeErr, "path", path)
		}
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	cols, err := headerIndex(header)
	if err != nil {
		return nil, 0, err
	}

	var records []domain.EmissionRecord
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row: %w", err)
		}
		if len(row) <= cols.unit {
			skipped++
			continue
		}

		activity := row[cols.activity]
		unit := row[cols.unit]
		quantity, err := strconv.ParseFloat(strings.TrimSpace(row[cols.quantity]), 64)
		if err != nil || quantity < 0 {
			skipped++
			continue
		}

		factor, ok := factorFor(file.Category, activity, unit)
		if !ok {
			skipped++
			continue
		}

		records = append(records, domain.EmissionRecord{
			Scope:    factor.Scope,
			Category: string(file.Category),
			Activity: strings.ToLower(strings.TrimSpace(activity)),
			Quantity: quantity,
			Unit:     factor.Unit,
			Factor:   factor.KgCO2e,
			CO2eKg:   quantity * factor.KgCO2e,
			Agent:    agentID,
			SourceID: file.ID,
		})
	}

	return records, skipped, nil
}

type columnIndex struct {
	activity, quantity, unit int
}

func headerIndex(header []string) (columnIndex, error) {
	idx := columnIndex{activity: -1, quantity: -1, unit: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "activity":
			idx.activity = i
		case "quantity", "amount":
			idx.quantity = i
		case "unit":
			idx.unit = i
		}
	}
	if idx.activity < 0 || idx.quantity < 0 || idx.unit < 0 {
		return idx, fmt.Errorf("missing required columns (activity, quantity, unit), got %v", header)
	}
	return idx, nil
}

// fail moves the session to the error state and notifies subscribers.
func (e *Engine) fail(ctx context.Context, sessionID string, cause error) {
	slog.Error("Processing failed", "error", cause, "session_id", sessionID)

	if err := e.transitionWithRetry(ctx, sessionID, domain.StatusError, cause.Error()); err != nil {
		slog.Error("Failed to mark session errored", "error", err, "session_id", sessionID)
	}

	event := domain.NewProgressEvent(domain.EventError, sessionID, domain.StatusError)
	event.Message = cause.Error()
	e.hub.Broadcast(sessionID, event)
}

// transitionWithRetry writes the terminal status with exponential backoff
// to handle SQLITE_BUSY errors from concurrent touches.
func (e *Engine) transitionWithRetry(ctx context.Context, sessionID string, to domain.Status, errMsg string) error {
	maxRetries := e.cfg.Retry.DatabaseMaxRetries
	baseDelay := e.cfg.Retry.DatabaseRetryBaseDelay

	for i := 0; i < maxRetries; i++ {
		err := e.repo.TransitionStatus(ctx, sessionID, domain.StatusProcessing, to, nil, errMsg)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i)
				slog.Debug("Terminal status write hit busy database, retrying",
					"session_id", sessionID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		// Session swept mid-run or already terminal.
		return err
	}

	return nil
}

func (e *Engine) stage(sessionID, agentID, message string, percent int) {
	event := domain.NewProgressEvent(domain.EventStage, sessionID, domain.StatusProcessing)
	event.Agent = agentID
	event.Stage = message
	event.Percent = percent
	e.hub.Broadcast(sessionID, event)
}

func (e *Engine) agentStage(sessionID, agentID, message string, percent int) {
	event := domain.NewProgressEvent(domain.EventAgent, sessionID, domain.StatusProcessing)
	event.Agent = agentID
	event.Stage = message
	event.Percent = percent
	e.hub.Broadcast(sessionID, event)
}
