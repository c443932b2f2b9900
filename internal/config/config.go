// Package config loads the nasvec configuration from YAML with
// environment-variable overrides for the documented variables.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// envKeys maps the recognized environment variables onto config paths.
// Unlisted variables are ignored.
var envKeys = map[string]string{
	"STORAGE_DIR":               "storage_dir",
	"REDIS_HOST":                "redis.host",
	"REDIS_PORT":                "redis.port",
	"EMBEDDING_BASE_PATH":       "embedding.base_path",
	"EMBEDDING_MODEL_PREF":      "embedding.model",
	"EMBEDDING_MODEL_DIM":       "embedding.dimensions",
	"IMAGE2TEXT_BASE_PATH":      "vision.base_path",
	"IMAGE2TEXT_MODEL_PREF":     "vision.model",
	"RERANK_BASE_PATH":          "rerank.base_path",
	"RERANK_MODEL_PREF":         "rerank.model",
	"BATCH_SIZE":                "batch_size",
	"CONCURRENT_OPERATIONS":     "concurrent_operations",
	"CHUNK_SIZE":                "chunk_size",
	"RESYNC_CONCURRENCY":        "resync_concurrency",
	"RESYNC_LARGE_CONCURRENCY":  "resync_large_concurrency",
	"RESYNC_SLOW_MS":            "resync_slow_ms",
	"MAX_LOCALFILES_JSON_BYTES": "max_localfiles_json_bytes",
}

// Load reads configuration from the given YAML file, then overlays the
// recognized environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables. The callback drops anything not in
	// the recognized set by returning an empty key.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir is required")
	}
	if c.Embedding.BasePath == "" {
		return fmt.Errorf("embedding.base_path is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size)")
	}
	if c.ResyncConcurrency < 1 || c.ResyncLargeConcurrency < 1 {
		return fmt.Errorf("resync concurrency values must be at least 1")
	}
	if c.ConcurrentOperations < 1 {
		return fmt.Errorf("concurrent_operations must be at least 1")
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		return fmt.Errorf("redis.port %d out of range", c.Redis.Port)
	}
	return nil
}
