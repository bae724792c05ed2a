package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdantiq/nexus/internal/config"
	"github.com/verdantiq/nexus/internal/domain"
	"github.com/verdantiq/nexus/internal/store"
)

type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	results  map[string]*domain.Results
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[string]*domain.Session),
		results:  make(map[string]*domain.Results),
	}
}

func (m *memRepo) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memRepo) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil {
		return nil, nil
	}
	copied := *session
	copied.Files = append([]domain.UploadedFile(nil), session.Files...)
	return &copied, nil
}

func (m *memRepo) AddFile(_ context.Context, sessionID string, file *domain.UploadedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil {
		return store.ErrNotFound
	}
	session.Files = append(session.Files, *file)
	return nil
}

func (m *memRepo) TransitionStatus(_ context.Context, sessionID string, from, to domain.Status, agents []string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil {
		return store.ErrNotFound
	}
	if session.Status != from || !from.CanTransitionTo(to) {
		return store.ErrConflict
	}
	session.Status = to
	session.Error = errMsg
	if agents != nil {
		session.Agents = agents
	}
	return nil
}

func (m *memRepo) Touch(_ context.Context, _ string, _ time.Time) error { return nil }

func (m *memRepo) SaveResults(_ context.Context, results *domain.Results) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *results
	m.results[results.SessionID] = &copied
	return nil
}

func (m *memRepo) GetResults(_ context.Context, sessionID string) (*domain.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := m.results[sessionID]
	if results == nil {
		return nil, nil
	}
	copied := *results
	return &copied, nil
}

func (m *memRepo) AddFeedback(_ context.Context, _ *domain.Feedback) error { return nil }

func (m *memRepo) GetExpiredSessions(_ context.Context, ttl time.Duration) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := time.Now().Add(-ttl)
	var expired []*domain.Session
	for _, session := range m.sessions {
		if session.UpdatedAt.Before(threshold) {
			copied := *session
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

func (m *memRepo) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	delete(m.results, sessionID)
	return nil
}

func (m *memRepo) Ping(_ context.Context) error { return nil }
func (m *memRepo) Close() error                 { return nil }

func (m *memRepo) session(sessionID string) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sessions[sessionID]
}

type recordingHub struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (h *recordingHub) Broadcast(_ string, event domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

func testEngine(t *testing.T) (*Engine, *memRepo, *recordingHub, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		DataDir: t.TempDir(),
		Retry: config.RetryConfig{
			DatabaseMaxRetries:     3,
			DatabaseRetryBaseDelay: time.Millisecond,
		},
	}
	repo := newMemRepo()
	hub := &recordingHub{}
	return New(repo, hub, cfg), repo, hub, cfg
}

func seedSession(t *testing.T, repo *memRepo, cfg *config.Config, sessionID string, files map[string]string) {
	t.Helper()
	session := &domain.Session{
		ID:        sessionID,
		Status:    domain.StatusUploading,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	dir := UploadDir(cfg.DataDir, sessionID)
	require.NoError(t, os.MkdirAll(dir, 0755))

	for name, content := range files {
		fileID := "file-" + name
		require.NoError(t, os.WriteFile(filepath.Join(dir, fileID), []byte(content), 0644))
		session.Files = append(session.Files, domain.UploadedFile{
			ID:         fileID,
			Name:       name,
			Category:   domain.CategorizeFilename(name),
			UploadedAt: time.Now(),
		})
	}

	require.NoError(t, repo.CreateSession(context.Background(), session))
}

func waitForStatus(t *testing.T, repo *memRepo, sessionID string, want domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return repo.session(sessionID).Status == want
	}, 5*time.Second, 10*time.Millisecond, "session never reached %s", want)
}

func TestStartComputesEmissions(t *testing.T) {
	eng, repo, hub, cfg := testEngine(t)
	seedSession(t, repo, cfg, "sess-1", map[string]string{
		"fleet-fuel.csv":  "activity,quantity,unit\ndiesel,100,l\nunknown_fuel,5,l\n",
		"electricity.csv": "activity,quantity,unit\ngrid_electricity,1000,kwh\n",
	})

	session, err := eng.Start(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, session.Status)
	assert.Contains(t, session.Agents, "scope1-combustion")
	assert.Contains(t, session.Agents, "scope2-energy")
	assert.NotContains(t, session.Agents, "scope3-travel")

	waitForStatus(t, repo, "sess-1", domain.StatusCompleted)

	results, err := repo.GetResults(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, results)
	assert.InDelta(t, 100*2.68+1000*0.39, results.TotalCO2eKg, 0.001)
	assert.InDelta(t, 268.0, results.ScopeTotals[1], 0.001)
	assert.InDelta(t, 390.0, results.ScopeTotals[2], 0.001)
	assert.Equal(t, 1, results.RowsSkipped)
	assert.Len(t, results.Records, 2)

	types := hub.types()
	assert.Equal(t, "status", types[0])
	assert.Equal(t, "completed", types[len(types)-1])

	// Export artifacts exist and are listed.
	exports, err := ListExports(cfg.DataDir, "sess-1")
	require.NoError(t, err)
	require.Len(t, exports, 2)
	assert.Equal(t, ExportEmissionsCSV, exports[0].Name)
	assert.Equal(t, ExportResultsJSON, exports[1].Name)
}

func TestStartRequiresFiles(t *testing.T) {
	eng, repo, _, _ := testEngine(t)
	require.NoError(t, repo.CreateSession(context.Background(), &domain.Session{
		ID:     "empty",
		Status: domain.StatusUploading,
	}))

	_, err := eng.Start(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestStartUnknownSession(t *testing.T) {
	eng, _, _, _ := testEngine(t)

	_, err := eng.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartTwiceRejected(t *testing.T) {
	eng, repo, _, cfg := testEngine(t)
	seedSession(t, repo, cfg, "sess-2", map[string]string{
		"fuel.csv": "activity,quantity,unit\ndiesel,10,l\n",
	})

	_, err := eng.Start(context.Background(), "sess-2")
	require.NoError(t, err)

	_, err = eng.Start(context.Background(), "sess-2")
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	waitForStatus(t, repo, "sess-2", domain.StatusCompleted)
}

func TestMalformedUploadFailsSession(t *testing.T) {
	eng, repo, hub, cfg := testEngine(t)
	seedSession(t, repo, cfg, "sess-3", map[string]string{
		"fuel.csv": "wrong,header,columns,here\ndiesel,10,l,x\n",
	})

	_, err := eng.Start(context.Background(), "sess-3")
	require.NoError(t, err)

	waitForStatus(t, repo, "sess-3", domain.StatusError)
	assert.NotEmpty(t, repo.session("sess-3").Error)

	types := hub.types()
	assert.Equal(t, "error", types[len(types)-1])
}

func TestParseActivityFileSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload")
	content := "activity,quantity,unit\n" +
		"diesel,100,l\n" +
		"diesel,not-a-number,l\n" +
		"diesel,50,gallons\n" +
		"mystery_fuel,10,l\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	file := &domain.UploadedFile{ID: "f1", Name: "fuel.csv", Category: domain.CategoryFuel}
	records, skipped, err := parseActivityFile(path, file, "scope1-combustion")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, skipped)
	assert.InDelta(t, 268.0, records[0].CO2eKg, 0.001)
	assert.Equal(t, "scope1-combustion", records[0].Agent)
}

func TestFactorForUnitMismatch(t *testing.T) {
	_, ok := factorFor(domain.CategoryFuel, "diesel", "kwh")
	assert.False(t, ok)

	factor, ok := factorFor(domain.CategoryFuel, " Diesel ", "L")
	assert.True(t, ok)
	assert.Equal(t, 1, factor.Scope)
}
