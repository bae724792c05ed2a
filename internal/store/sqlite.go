package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/verdantiq/nexus/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	statusMu sync.Mutex // Serializes status transitions to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		error TEXT,
		agents_json TEXT,
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS session_files (
		file_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		uploaded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_files_session ON session_files(session_id);

	CREATE TABLE IF NOT EXISTS session_results (
		session_id TEXT PRIMARY KEY,
		results_json TEXT NOT NULL,
		generated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_feedback_session ON session_feedback(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	agentsJSON, err := json.Marshal(session.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, status, error, agents_json, started_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		session.ID, string(session.Status), nullableString(session.Error),
		string(agentsJSON), session.StartedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session with its uploaded file metadata.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, status, error, agents_json, started_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.Session
	var status string
	var errMsg sql.NullString
	var agentsJSON sql.NullString
	var startedAt, updatedAt int64

	err := row.Scan(&session.ID, &status, &errMsg, &agentsJSON, &startedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Status = domain.Status(status)
	session.Error = errMsg.String
	session.StartedAt = time.Unix(startedAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	if agentsJSON.Valid && agentsJSON.String != "" {
		if err := json.Unmarshal([]byte(agentsJSON.String), &session.Agents); err != nil {
			return nil, fmt.Errorf("unmarshal agents: %w", err)
		}
	}

	files, err := s.listFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Files = files

	return &session, nil
}

func (s *SQLiteStore) listFiles(ctx context.Context, sessionID string) ([]domain.UploadedFile, error) {
	query := `
		SELECT file_id, name, category, size_bytes, uploaded_at
		FROM session_files WHERE session_id = ? ORDER BY uploaded_at, file_id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session files: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session files rows", "error", closeErr)
		}
	}()

	var files []domain.UploadedFile
	for rows.Next() {
		var f domain.UploadedFile
		var category string
		var uploadedAt int64

		if err := rows.Scan(&f.ID, &f.Name, &category, &f.SizeBytes, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan session file row: %w", err)
		}
		f.Category = domain.FileCategory(category)
		f.UploadedAt = time.Unix(uploadedAt, 0)
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session files: %w", err)
	}

	return files, nil
}

// AddFile records uploaded file metadata and bumps updated_at.
func (s *SQLiteStore) AddFile(ctx context.Context, sessionID string, file *domain.UploadedFile) error {
	query := `
	INSERT INTO session_files (file_id, session_id, name, category, size_bytes, uploaded_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		file.ID, sessionID, file.Name, string(file.Category),
		file.SizeBytes, file.UploadedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session file: %w", err)
	}

	return s.Touch(ctx, sessionID, time.Now())
}

// TransitionStatus moves a session from one status to the next. The
// update is conditional on the current status so a stale writer loses.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, sessionID string, from, to domain.Status, agents []string, errMsg string) error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrConflict, from, to)
	}

	query := `UPDATE sessions SET status = ?, error = ?, updated_at = ? WHERE session_id = ? AND status = ?`
	args := []interface{}{string(to), nullableString(errMsg), time.Now().Unix(), sessionID, string(from)}

	if agents != nil {
		agentsJSON, err := json.Marshal(agents)
		if err != nil {
			return fmt.Errorf("marshal agents: %w", err)
		}
		query = `UPDATE sessions SET status = ?, error = ?, agents_json = ?, updated_at = ? WHERE session_id = ? AND status = ?`
		args = []interface{}{string(to), nullableString(errMsg), string(agentsJSON), time.Now().Unix(), sessionID, string(from)}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish missing session from a lost transition race.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check session existence: %w", err)
		}
		slog.Warn("TransitionStatus rejected stale transition", "session_id", sessionID, "from", from, "to", to)
		return ErrConflict
	}

	return nil
}

// Touch bumps updated_at so active sessions are not swept.
func (s *SQLiteStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("Touch affected 0 rows", "session_id", sessionID)
	}

	return nil
}

// SaveResults persists the computed results for a session.
func (s *SQLiteStore) SaveResults(ctx context.Context, results *domain.Results) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := `
	INSERT INTO session_results (session_id, results_json, generated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		results_json = excluded.results_json,
		generated_at = excluded.generated_at`

	_, err = s.db.ExecContext(ctx, query,
		results.SessionID, string(resultsJSON), results.GeneratedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session results: %w", err)
	}
	return nil
}

// GetResults retrieves results for a session.
func (s *SQLiteStore) GetResults(ctx context.Context, sessionID string) (*domain.Results, error) {
	query := `SELECT results_json FROM session_results WHERE session_id = ?`

	var resultsJSON string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&resultsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session results: %w", err)
	}

	var results domain.Results
	if err := json.Unmarshal([]byte(resultsJSON), &results); err != nil {
		return nil, fmt.Errorf("unmarshal session results: %w", err)
	}
	return &results, nil
}

// AddFeedback records a feedback entry for a session.
func (s *SQLiteStore) AddFeedback(ctx context.Context, fb *domain.Feedback) error {
	query := `
	INSERT INTO session_feedback (session_id, type, content, created_at)
	VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		fb.SessionID, fb.Type, fb.Content, fb.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session feedback: %w", err)
	}
	return nil
}

// GetExpiredSessions retrieves sessions inactive longer than the TTL.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT session_id, status, error, agents_json, started_at, updated_at
		FROM sessions WHERE updated_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		var session domain.Session
		var status string
		var errMsg sql.NullString
		var agentsJSON sql.NullString
		var startedAt, updatedAt int64

		if err := rows.Scan(&session.ID, &status, &errMsg, &agentsJSON, &startedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}

		session.Status = domain.Status(status)
		session.Error = errMsg.String
		session.StartedAt = time.Unix(startedAt, 0)
		session.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession removes a session and all dependent rows.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	for _, query := range []string{
		`DELETE FROM session_feedback WHERE session_id = ?`,
		`DELETE FROM session_results WHERE session_id = ?`,
		`DELETE FROM session_files WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("delete session rows: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
