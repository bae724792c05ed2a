package client

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrActiveSession is returned when a session is created while a
	// non-terminal session is still tracked. At most one active session
	// exists per client context.
	ErrActiveSession = errors.New("an active session already exists")

	// ErrNoSession is returned when an action requires a tracked session.
	ErrNoSession = errors.New("no session is being tracked")

	// ErrBackwardTransition is returned when an action would move the
	// session backward in its lifecycle.
	ErrBackwardTransition = errors.New("backward status transition rejected")
)

// Store is the client-side session store: it tracks the current session
// and serializes every mutation through one mutex. Subscribers are
// notified after each change, in the order changes were applied.
type Store struct {
	mu      sync.Mutex
	session *Session
	subs    map[int]func(Session)
	nextSub int
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Session))}
}

// Current returns a copy of the tracked session, or nil.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	copied := *s.session
	return &copied
}

// CreateSession starts tracking a newly created session. Fails if a
// non-terminal session is already tracked.
func (s *Store) CreateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && !s.session.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrActiveSession, s.session.ID)
	}

	copied := *session
	if copied.Status == "" {
		copied.Status = StatusUploading
	}
	if copied.StartedAt.IsZero() {
		copied.StartedAt = time.Now()
	}
	s.session = &copied
	s.notifyLocked()
	return nil
}

// AddFile records an uploaded file on the tracked session.
func (s *Store) AddFile(file UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	s.session.Files = append(s.session.Files, file)
	s.session.UpdatedAt = time.Now()
	s.notifyLocked()
	return nil
}

// StartProcessing moves the session from uploading to processing and
// records the assigned agents.
func (s *Store) StartProcessing(agents []string) error {
	return s.transition(StatusProcessing, func(session *Session) {
		session.Agents = agents
	})
}

// CompleteProcessing moves the session from processing to completed.
func (s *Store) CompleteProcessing() error {
	return s.transition(StatusCompleted, nil)
}

// SetProcessingError moves the session from processing to error.
func (s *Store) SetProcessingError(message string) error {
	return s.transition(StatusError, func(session *Session) {
		session.Error = message
	})
}

func (s *Store) transition(to Status, mutate func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	if !s.session.Status.canTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, s.session.Status, to)
	}

	s.session.Status = to
	s.session.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(s.session)
	}
	s.notifyLocked()
	return nil
}

// Apply folds one progress event into the tracked session. Events are
// applied in arrival order; stale events for earlier statuses are
// ignored rather than rewound.
func (s *Store) Apply(event ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	if event.SessionID != "" && event.SessionID != s.session.ID {
		return fmt.Errorf("event for session %s applied to session %s", event.SessionID, s.session.ID)
	}

	switch event.Type {
	case EventCompleted:
		return s.applyStatusLocked(StatusCompleted, "")
	case EventError:
		return s.applyStatusLocked(StatusError, event.Message)
	case EventStatus:
		if event.Status == "" {
			return nil
		}
		return s.applyStatusLocked(event.Status, event.Message)
	case EventStage, EventAgent:
		// Stage detail is transient UI state; only the timestamp moves.
		s.session.UpdatedAt = time.Now()
		s.notifyLocked()
	}
	return nil
}

func (s *Store) applyStatusLocked(to Status, errMsg string) error {
	if s.session.Status == to {
		return nil
	}
	// Server events may fast-forward past intermediate states: a late
	// subscriber's first snapshot can already be terminal. Any forward
	// jump is accepted; stale snapshots replayed after reconnect are
	// ignored rather than rewound.
	if to.rank() <= s.session.Status.rank() {
		return nil
	}
	s.session.Status = to
	if errMsg != "" {
		s.session.Error = errMsg
	}
	s.session.UpdatedAt = time.Now()
	s.notifyLocked()
	return nil
}

// Reset discards the tracked session (navigation away).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.notifyLocked()
}

// Subscribe registers a callback invoked after every store change with
// a copy of the current session (zero Session after Reset). It returns
// an unsubscribe function.
func (s *Store) Subscribe(fn func(Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notifyLocked() {
	var snapshot Session
	if s.session != nil {
		snapshot = *s.session
	}
	for _, fn := range s.subs {
		fn(snapshot)
	}
}
