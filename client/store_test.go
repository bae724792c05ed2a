package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	store := NewStore()
	require.Nil(t, store.Current())

	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))
	current := store.Current()
	require.NotNil(t, current)
	assert.Equal(t, StatusUploading, current.Status)

	require.NoError(t, store.AddFile(UploadedFile{ID: "f1", Name: "fuel.csv"}))
	require.NoError(t, store.StartProcessing([]string{"intake-validator", "report-composer"}))
	require.NoError(t, store.CompleteProcessing())

	current = store.Current()
	assert.Equal(t, StatusCompleted, current.Status)
	assert.Len(t, current.Files, 1)
	assert.Equal(t, []string{"intake-validator", "report-composer"}, current.Agents)
}

func TestStoreSingleActiveSession(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	err := store.CreateSession(&Session{ID: "s2"})
	assert.ErrorIs(t, err, ErrActiveSession)

	// A terminal session may be replaced.
	require.NoError(t, store.StartProcessing(nil))
	require.NoError(t, store.SetProcessingError("backend unavailable"))
	require.NoError(t, store.CreateSession(&Session{ID: "s2"}))
	assert.Equal(t, "s2", store.Current().ID)
}

func TestStoreRejectsBackwardTransitions(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	// Cannot complete before processing starts.
	assert.ErrorIs(t, store.CompleteProcessing(), ErrBackwardTransition)
	assert.ErrorIs(t, store.SetProcessingError("x"), ErrBackwardTransition)

	require.NoError(t, store.StartProcessing(nil))
	require.NoError(t, store.CompleteProcessing())

	// Terminal states are final.
	assert.ErrorIs(t, store.StartProcessing(nil), ErrBackwardTransition)
	assert.ErrorIs(t, store.SetProcessingError("x"), ErrBackwardTransition)
}

func TestStoreActionsRequireSession(t *testing.T) {
	store := NewStore()
	assert.ErrorIs(t, store.AddFile(UploadedFile{}), ErrNoSession)
	assert.ErrorIs(t, store.StartProcessing(nil), ErrNoSession)
	assert.ErrorIs(t, store.Apply(ProgressEvent{Type: EventStatus}), ErrNoSession)
}

func TestStoreApplyEventsInArrivalOrder(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	require.NoError(t, store.Apply(ProgressEvent{Type: EventStatus, SessionID: "s1", Status: StatusProcessing}))
	assert.Equal(t, StatusProcessing, store.Current().Status)

	require.NoError(t, store.Apply(ProgressEvent{Type: EventAgent, SessionID: "s1", Agent: "scope1-combustion", Percent: 40}))
	assert.Equal(t, StatusProcessing, store.Current().Status)

	require.NoError(t, store.Apply(ProgressEvent{Type: EventCompleted, SessionID: "s1", Status: StatusCompleted}))
	assert.Equal(t, StatusCompleted, store.Current().Status)

	// A replayed stale snapshot after reconnect is ignored, not rewound.
	require.NoError(t, store.Apply(ProgressEvent{Type: EventStatus, SessionID: "s1", Status: StatusProcessing}))
	assert.Equal(t, StatusCompleted, store.Current().Status)
}

func TestStoreApplySnapshotFastForward(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	// A late subscriber's first snapshot can already be terminal when a
	// small upload finishes before the stream connects.
	require.NoError(t, store.Apply(ProgressEvent{Type: EventStatus, SessionID: "s1", Status: StatusCompleted}))
	assert.Equal(t, StatusCompleted, store.Current().Status)
}

func TestStoreApplySnapshotFastForwardToError(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	require.NoError(t, store.Apply(ProgressEvent{Type: EventStatus, SessionID: "s1", Status: StatusError, Message: "parse failed"}))
	current := store.Current()
	assert.Equal(t, StatusError, current.Status)
	assert.Equal(t, "parse failed", current.Error)
}

func TestStoreApplyRejectsForeignSession(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	err := store.Apply(ProgressEvent{Type: EventStatus, SessionID: "other", Status: StatusProcessing})
	assert.Error(t, err)
	assert.Equal(t, StatusUploading, store.Current().Status)
}

func TestStoreErrorEventRecordsMessage(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))
	require.NoError(t, store.StartProcessing(nil))

	require.NoError(t, store.Apply(ProgressEvent{Type: EventError, SessionID: "s1", Status: StatusError, Message: "parse failed"}))
	current := store.Current()
	assert.Equal(t, StatusError, current.Status)
	assert.Equal(t, "parse failed", current.Error)
}

func TestStoreSubscribe(t *testing.T) {
	store := NewStore()

	var seen []Status
	unsubscribe := store.Subscribe(func(s Session) {
		seen = append(seen, s.Status)
	})

	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))
	require.NoError(t, store.StartProcessing(nil))
	unsubscribe()
	require.NoError(t, store.CompleteProcessing())

	assert.Equal(t, []Status{StatusUploading, StatusProcessing}, seen)
}

func TestStoreReset(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateSession(&Session{ID: "s1"}))

	store.Reset()
	assert.Nil(t, store.Current())

	// After navigation away a fresh session can be created.
	require.NoError(t, store.CreateSession(&Session{ID: "s2"}))
}
