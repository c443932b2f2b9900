package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Settings keys persisted across restarts.
const (
	SettingMultimodalEmbedder = "multimodal_embedder"
)

// MultimodalSettings configures the optional multimodal embedder. A
// provider of "none" or an empty base path disables it.
type MultimodalSettings struct {
	Provider   string `json:"provider"`
	BasePath   string `json:"basePath"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	MaxEdge    int    `json:"maxEdge"`
}

// Enabled reports whether a usable multimodal embedder is configured.
func (m MultimodalSettings) Enabled() bool {
	return m.Provider != "" && m.Provider != "none" && m.BasePath != ""
}

// SettingsStore provides persisted key-value settings.
type SettingsStore struct {
	db *DB
}

// NewSettingsStore creates a SettingsStore backed by the given database.
func NewSettingsStore(database *DB) *SettingsStore {
	return &SettingsStore{db: database}
}

// Get returns the raw value for key, or "" when unset.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// Set stores the value for key, replacing any previous value.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// Multimodal loads the persisted multimodal embedder settings. A missing
// setting yields the zero value (disabled).
func (s *SettingsStore) Multimodal(ctx context.Context) (MultimodalSettings, error) {
	raw, err := s.Get(ctx, SettingMultimodalEmbedder)
	if err != nil || raw == "" {
		return MultimodalSettings{}, err
	}
	var m MultimodalSettings
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return MultimodalSettings{}, fmt.Errorf("decoding multimodal settings: %w", err)
	}
	return m, nil
}

// SetMultimodal persists the multimodal embedder settings.
func (s *SettingsStore) SetMultimodal(ctx context.Context, m MultimodalSettings) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding multimodal settings: %w", err)
	}
	return s.Set(ctx, SettingMultimodalEmbedder, string(raw))
}
