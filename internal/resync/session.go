// Package resync walks the document root folder by folder, rebuilding
// the per-folder metadata caches with bounded concurrency, batched
// progress, and pause/resume/cancel observed at batch boundaries.
package resync

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
	EventProgress      = "progress"
	EventBatchComplete = "batchComplete"
	EventComplete      = "complete"
	EventFailed        = "failed"
	EventPaused        = "paused"
	EventCancelled     = "cancelled"
)

// Event is one progress notification.
type Event struct {
	Type    string   `json:"type"`
	Session Snapshot `json:"session"`
}

// SlowFile records a file whose processing exceeded the slow threshold.
type SlowFile struct {
	Path   string `json:"path"`
	Millis int64  `json:"ms"`
}

// Metrics aggregates per-session scan telemetry.
type Metrics struct {
	AvgProcessingMs float64    `json:"avgProcessingTime"`
	SlowestFiles    []SlowFile `json:"slowestFiles"`
	CacheHits       int        `json:"cacheHits"`
	CacheMisses     int        `json:"cacheMisses"`
}

// Snapshot is an immutable copy of session state, safe to serialize.
type Snapshot struct {
	SessionID             string   `json:"sessionId"`
	Status                Status   `json:"status"`
	TotalFiles            int      `json:"totalFiles"`
	FilesProcessed        int      `json:"filesProcessed"`
	CurrentBatch          int      `json:"currentBatch"`
	TotalBatches          int      `json:"totalBatches"`
	CurrentFolder         string   `json:"currentFolder"`
	CurrentFolderProgress int      `json:"currentFolderProgress"`
	CompletedFolders      []string `json:"completedFolders"`
	Errors                []string `json:"errors"`
	StartTime             string   `json:"startTime"`
	EndTime               string   `json:"endTime,omitempty"`
	BatchSize             int      `json:"batchSize"`
	ForceRefresh          bool     `json:"forceRefresh"`
	FolderFilter          string   `json:"folderFilter,omitempty"`
	Progress              float64  `json:"progress"`
	Metrics               Metrics  `json:"metrics"`
}

// Session is the mutable state of one scan, owned by its worker
// goroutine. All other access goes through snapshots and the control
// methods, which only set flags the worker observes at batch
// boundaries.
type Session struct {
	mu sync.Mutex

	id                    string
	status                Status
	totalFiles            int
	filesProcessed        int
	currentBatch          int
	totalBatches          int
	currentFolder         string
	currentFolderProgress int
	completedFolders      map[string]bool
	errors                []string
	startTime             time.Time
	endTime               time.Time
	batchSize             int
	forceRefresh          bool
	folderFilter          string
	metrics               Metrics

	pauseRequested  bool
	cancelRequested bool
	wakeCh          chan struct{}

	subscribers map[int]chan Event
	nextSub     int
}

func newSession(id string, batchSize int, forceRefresh bool, folderFilter string) *Session {
	return &Session{
		id:               id,
		status:           StatusInitializing,
		completedFolders: make(map[string]bool),
		startTime:        time.Now(),
		batchSize:        batchSize,
		forceRefresh:     forceRefresh,
		folderFilter:     folderFilter,
		wakeCh:           make(chan struct{}, 1),
		subscribers:      make(map[int]chan Event),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot copies the current state under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	folders := make([]string, 0, len(s.completedFolders))
	for f := range s.completedFolders {
		folders = append(folders, f)
	}
	snap := Snapshot{
		SessionID:             s.id,
		Status:                s.status,
		TotalFiles:            s.totalFiles,
		FilesProcessed:        s.filesProcessed,
		CurrentBatch:          s.currentBatch,
		TotalBatches:          s.totalBatches,
		CurrentFolder:         s.currentFolder,
		CurrentFolderProgress: s.currentFolderProgress,
		CompletedFolders:      folders,
		Errors:                append([]string(nil), s.errors...),
		StartTime:             s.startTime.Format(time.RFC3339),
		BatchSize:             s.batchSize,
		ForceRefresh:          s.forceRefresh,
		FolderFilter:          s.folderFilter,
		Metrics:               s.metrics,
	}
	snap.Metrics.SlowestFiles = append([]SlowFile(nil), s.metrics.SlowestFiles...)
	if !s.endTime.IsZero() {
		snap.EndTime = s.endTime.Format(time.RFC3339)
	}
	if s.totalFiles > 0 {
		snap.Progress = 100 * float64(s.filesProcessed) / float64(s.totalFiles)
	}
	return snap
}

// Pause requests a pause; the worker honors it at the next batch
// boundary.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.pauseRequested = true
}

// Resume clears a pause and wakes the worker if it is parked.
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

// Cancel requests cancellation; observed at the next batch boundary,
// including while paused.
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

// Subscribe returns an event channel and an unsubscribe func. Events
// are dropped, not blocked on, when the subscriber falls behind. A
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

// closeSubscribers ends every event stream after a terminal event.
func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// gate is the batch-boundary checkpoint. It blocks while paused and
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
