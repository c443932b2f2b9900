package embedjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound reports an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionConflict reports a second concurrent session for the
	// same workspace.
	ErrSessionConflict = errors.New("workspace already has an active embedding session")
)

// sessionRetention is how long a terminal session stays queryable.
const sessionRetention = time.Hour

// Manager owns embedding sessions and enforces one active session per
// workspace.
type Manager struct {
	worker *Worker

	mu       sync.Mutex
	sessions map[string]*Session
	active   map[string]*Session // workspaceID -> running/paused session
}

// NewManager creates a Manager over the given worker.
func NewManager(worker *Worker) *Manager {
	return &Manager{
		worker:   worker,
		sessions: make(map[string]*Session),
		active:   make(map[string]*Session),
	}
}

// Start creates a session for the workspace and launches its worker.
// A workspace with a non-terminal session rejects the start.
func (m *Manager) Start(ctx context.Context, workspaceID, workspaceName string, documentPaths []string, forceReEmbed bool) (*Session, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace id is required")
	}
	if len(documentPaths) == 0 {
		return nil, errors.New("no documents to embed")
	}

	m.mu.Lock()
	m.sweepLocked()
	if existing, ok := m.active[workspaceID]; ok && !existing.Snapshot().Status.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionConflict, workspaceID)
	}
	sess := newSession(uuid.New().String(), workspaceID, workspaceName, documentPaths, forceReEmbed)
	m.sessions[sess.id] = sess
	m.active[workspaceID] = sess
	m.mu.Unlock()

	go func() {
		m.worker.run(ctx, sess)
		m.mu.Lock()
		if m.active[workspaceID] == sess {
			delete(m.active, workspaceID)
		}
		m.mu.Unlock()
	}()
	return sess, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Pause requests a pause before the next document.
func (m *Manager) Pause(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Pause()
	return nil
}

// Resume wakes a paused session.
func (m *Manager) Resume(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Resume()
	return nil
}

// Cancel stops a session before the next document.
func (m *Manager) Cancel(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Sessions returns snapshots of every live session.
func (m *Manager) Sessions() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// sweepLocked drops sessions terminal for the retention window.
func (m *Manager) sweepLocked() {
	cutoff := time.Now().Add(-sessionRetention)
	for id, sess := range m.sessions {
		sess.mu.Lock()
		expired := sess.status.Terminal() && !sess.endTime.IsZero() && sess.endTime.Before(cutoff)
		sess.mu.Unlock()
		if expired {
			delete(m.sessions, id)
		}
	}
}
