// Package embedjob runs embedding sessions: per-workspace jobs that
// turn document records into vectors, one document at a time, with
// pause/resume/cancel observed between documents.
package embedjob

import (
	"sync"
	"time"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Event types delivered to session subscribers.
const (
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventFailed    = "failed"
	EventPaused    = "paused"
	EventCancelled = "cancelled"
)

// Event is one progress notification.
type Event struct {
	Type    string   `json:"type"`
	Session Snapshot `json:"session"`
}

// Snapshot is an immutable copy of session state, safe to serialize.
type Snapshot struct {
	ID            string   `json:"id"`
	WorkspaceID   string   `json:"workspaceId"`
	WorkspaceName string   `json:"workspaceName"`
	DocumentPaths []string `json:"documentPaths"`
	CurrentIndex  int      `json:"currentIndex"`
	Embedded      []string `json:"embedded"`
	Failed        []string `json:"failed"`
	Errors        []string `json:"errors"`
	Status        Status   `json:"status"`
	Progress      float64  `json:"progress"`
	ForceReEmbed  bool     `json:"forceReEmbed"`
	StartTime     string   `json:"startTime"`
	EndTime       string   `json:"endTime,omitempty"`
}

// Session is the mutable state of one embedding job, owned by its
// worker goroutine.
type Session struct {
	mu sync.Mutex

	id            string
	workspaceID   string
	workspaceName string
	documentPaths []string
	currentIndex  int
	embedded      []string
	failed        []string
	errors        []string
	status        Status
	forceReEmbed  bool
	startTime     time.Time
	endTime       time.Time

	pauseRequested  bool
	cancelRequested bool
	wakeCh          chan struct{}

	subscribers map[int]chan Event
	nextSub     int
}

func newSession(id, workspaceID, workspaceName string, paths []string, forceReEmbed bool) *Session {
	return &Session{
		id:            id,
		workspaceID:   workspaceID,
		workspaceName: workspaceName,
		documentPaths: paths,
		status:        StatusInitializing,
		forceReEmbed:  forceReEmbed,
		startTime:     time.Now(),
		wakeCh:        make(chan struct{}, 1),
		subscribers:   make(map[int]chan Event),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// WorkspaceID returns the owning workspace.
func (s *Session) WorkspaceID() string { return s.workspaceID }

// Snapshot copies the current state under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		WorkspaceID:   s.workspaceID,
		WorkspaceName: s.workspaceName,
		DocumentPaths: append([]string(nil), s.documentPaths...),
		CurrentIndex:  s.currentIndex,
		Embedded:      append([]string(nil), s.embedded...),
		Failed:        append([]string(nil), s.failed...),
		Errors:        append([]string(nil), s.errors...),
		Status:        s.status,
		ForceReEmbed:  s.forceReEmbed,
		StartTime:     s.startTime.Format(time.RFC3339),
	}
	if !s.endTime.IsZero() {
		snap.EndTime = s.endTime.Format(time.RFC3339)
	}
	if n := len(s.documentPaths); n > 0 {
		snap.Progress = 100 * float64(s.currentIndex) / float64(n)
	}
	return snap
}

// Pause requests a pause before the next document.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.pauseRequested = true
}

// Resume clears a pause and wakes the worker.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.pauseRequested = false
	s.mu.Unlock()
	s.wake()
}

// Cancel stops the session before the next document.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.cancelRequested = true
	s.mu.Unlock()
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Subscribe returns an event channel and an unsubscribe func. A
// terminal session yields an already-closed channel.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 32)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

func (s *Session) emit(typ string) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	subs := make([]chan Event, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	ev := Event{Type: typ, Session: snap}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// gate is the between-documents checkpoint. It blocks while paused and
// returns false once cancellation is observed.
func (s *Session) gate() bool {
	for {
		s.mu.Lock()
		if s.cancelRequested {
			s.mu.Unlock()
			return false
		}
		if !s.pauseRequested {
			if s.status == StatusPaused {
				s.status = StatusRunning
			}
			s.mu.Unlock()
			return true
		}
		alreadyPaused := s.status == StatusPaused
		s.status = StatusPaused
		s.mu.Unlock()

		if !alreadyPaused {
			s.emit(EventPaused)
		}
		<-s.wakeCh
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	if st.Terminal() {
		s.endTime = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) recordError(msg string) {
	s.mu.Lock()
	s.errors = append(s.errors, msg)
	s.mu.Unlock()
}
