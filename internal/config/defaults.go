package config

import (
	"fmt"
	"path/filepath"
)

// DefaultConfig returns the built-in defaults applied before the YAML
// file and environment overrides.
func DefaultConfig() *Config {
	return &Config{
		StorageDir: "storage",
		Redis:      RedisConfig{Port: 6379},
		Embedding: EmbeddingConfig{
			BasePath:   "http://localhost:8008",
			Model:      "nomic-embed-text-v1.5",
			Dimensions: 768,
		},
		Vision: VisionConfig{
			Model: "llava",
		},
		Server:                 ServerConfig{Port: 3301},
		BatchSize:              50,
		ConcurrentOperations:   3,
		ChunkSize:              1000,
		ChunkOverlap:           20,
		ResyncConcurrency:      8,
		ResyncLargeConcurrency: 2,
		ResyncSlowMs:           2000,
		MaxLocalFilesJSONBytes: 5 << 20,
	}
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// DocumentsDir is the root of on-disk Document records.
func (c *Config) DocumentsDir() string {
	return filepath.Join(c.StorageDir, "documents")
}

// VectorCacheDir holds content-addressed embedding cache entries.
func (c *Config) VectorCacheDir() string {
	return filepath.Join(c.StorageDir, "vector-cache")
}

// FolderCacheDir holds the per-folder disk mirror of the metadata store.
func (c *Config) FolderCacheDir() string {
	return filepath.Join(c.StorageDir, "cache", "folders")
}

// VectorDBDir is the vector database data directory.
func (c *Config) VectorDBDir() string {
	return filepath.Join(c.StorageDir, "chromem")
}

// TrashDir receives converted originals and invalid uploads.
func (c *Config) TrashDir() string {
	return filepath.Join(c.StorageDir, "trash")
}

// DatabasePath is the SQLite database holding document-vector bridge
// rows, settings, and the event log.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorageDir, "nasvec.db")
}
