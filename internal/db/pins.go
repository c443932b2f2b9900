package db

import (
	"context"
	"fmt"
	"strings"
)

// PinStore tracks which workspaces have pinned or watched a document.
// The scanner fetches flags in bulk, one query per batch.
type PinStore struct {
	db *DB
}

// NewPinStore creates a PinStore backed by the given database.
func NewPinStore(database *DB) *PinStore {
	return &PinStore{db: database}
}

// Pin records that a workspace pinned a file.
func (s *PinStore) Pin(ctx context.Context, workspaceID, folder, file string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_pins (workspace_id, folder, file) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id, folder, file) DO NOTHING`,
		workspaceID, folder, file)
	if err != nil {
		return fmt.Errorf("pinning %s/%s: %w", folder, file, err)
	}
	return nil
}

// Unpin removes a workspace pin.
func (s *PinStore) Unpin(ctx context.Context, workspaceID, folder, file string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_pins WHERE workspace_id = ? AND folder = ? AND file = ?`,
		workspaceID, folder, file)
	if err != nil {
		return fmt.Errorf("unpinning %s/%s: %w", folder, file, err)
	}
	return nil
}

// SetWatched flips the watched flag on an existing pin row, creating the
// row when absent.
func (s *PinStore) SetWatched(ctx context.Context, workspaceID, folder, file string, watched bool) error {
	w := 0
	if watched {
		w = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_pins (workspace_id, folder, file, watched) VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, folder, file) DO UPDATE SET watched = excluded.watched`,
		workspaceID, folder, file, w)
	if err != nil {
		return fmt.Errorf("watching %s/%s: %w", folder, file, err)
	}
	return nil
}

// FileFlags holds the per-file picker flags resolved in bulk.
type FileFlags struct {
	PinnedWorkspaces []string
	Watched          bool
}

// FlagsForFiles returns flags for every named file in a folder with a
// single query.
func (s *PinStore) FlagsForFiles(ctx context.Context, folder string, files []string) (map[string]FileFlags, error) {
	flags := make(map[string]FileFlags, len(files))
	if len(files) == 0 {
		return flags, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]any, 0, len(files)+1)
	args = append(args, folder)
	for _, f := range files {
		args = append(args, f)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file, workspace_id, watched FROM workspace_pins WHERE folder = ? AND file IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying pins for %s: %w", folder, err)
	}
	defer rows.Close()

	for rows.Next() {
		var file, workspaceID string
		var watched int
		if err := rows.Scan(&file, &workspaceID, &watched); err != nil {
			return nil, err
		}
		f := flags[file]
		f.PinnedWorkspaces = append(f.PinnedWorkspaces, workspaceID)
		if watched != 0 {
			f.Watched = true
		}
		flags[file] = f
	}
	return flags, rows.Err()
}
