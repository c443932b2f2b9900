// Package events is the persistent session event log. Resync and
// embedding sessions record their terminal outcomes here so operators
// can inspect history after the in-memory sessions are swept.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zphilip/anything-llm-nas/internal/db"
)

// SessionType discriminates the two session kinds in the log.
type SessionType string

const (
	SessionResync    SessionType = "resync"
	SessionEmbedding SessionType = "embedding"
)

// Entry is one logged session event.
type Entry struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	SessionID   string      `json:"sessionId"`
	SessionType SessionType `json:"sessionType"`
	Event       string      `json:"event"`
	Detail      string      `json:"detail,omitempty"`
}

// Store provides append and query access to the event log.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts an event. If entry.ID is empty a UUID is generated.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_entries (id, session_id, session_type, event, detail)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, string(entry.SessionType), entry.Event, entry.Detail)
	if err != nil {
		return fmt.Errorf("inserting event entry: %w", err)
	}
	return nil
}

// QueryFilter controls which entries Query returns.
type QueryFilter struct {
	SessionID   string
	SessionType SessionType
	Since       *time.Time
	Limit       int
}

// Query returns entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.SessionType != "" {
		clauses = append(clauses, "session_type = ?")
		args = append(args, string(filter.SessionType))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}

	query := "SELECT id, timestamp, session_id, session_type, event, detail FROM event_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			ts          string
			sessionType string
		)
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &sessionType, &e.Event, &e.Detail); err != nil {
			return nil, err
		}
		e.SessionType = SessionType(sessionType)
		if t, perr := time.Parse(time.DateTime, ts); perr == nil {
			e.Timestamp = t
		} else if t, perr := time.Parse(time.RFC3339, ts); perr == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes entries older than the given time and reports
// how many were deleted.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM event_entries WHERE timestamp < ?",
		before.UTC().Format(time.DateTime))
	if err != nil {
		return 0, fmt.Errorf("deleting old event entries: %w", err)
	}
	return res.RowsAffected()
}
