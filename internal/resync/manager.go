package resync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound reports an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// sessionRetention is how long a terminal session stays queryable.
const sessionRetention = time.Hour

// Options configure one scan session.
type Options struct {
	BatchSize    int
	ForceRefresh bool
	FolderFilter string
}

// Manager owns scan sessions: it starts workers, serves lookups, and
// sweeps terminal sessions after the retention window.
type Manager struct {
	scanner *Scanner

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager over the given scanner.
func NewManager(scanner *Scanner) *Manager {
	return &Manager{
		scanner:  scanner,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session and launches its worker goroutine.
func (m *Manager) Start(ctx context.Context, opts Options) *Session {
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	sess := newSession(uuid.New().String(), opts.BatchSize, opts.ForceRefresh, opts.FolderFilter)

	m.mu.Lock()
	m.sweepLocked()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	go m.scanner.run(ctx, sess)
	return sess
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

// Pause requests a pause at the next batch boundary.
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

// Cancel stops a session at the next batch boundary.
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

// sweepLocked drops sessions that have been terminal for the retention
// window. Caller holds m.mu.
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
