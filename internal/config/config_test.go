package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StorageDir != "storage" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("Dimensions = %d, want 768", cfg.Embedding.Dimensions)
	}
	if cfg.Server.Port != 3301 {
		t.Errorf("Port = %d, want 3301", cfg.Server.Port)
	}
	if cfg.MaxLocalFilesJSONBytes != 5<<20 {
		t.Errorf("MaxLocalFilesJSONBytes = %d", cfg.MaxLocalFilesJSONBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".nasvec.yml")
	yml := `
storage_dir: /data/nasvec
redis:
  host: 10.0.0.5
  port: 6380
embedding:
  base_path: http://embedder:8008
  dimensions: 1024
server:
  port: 8080
chunk_size: 600
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDir != "/data/nasvec" {
		t.Errorf("StorageDir = %q", cfg.StorageDir)
	}
	if cfg.Redis.Addr() != "10.0.0.5:6380" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr())
	}
	if cfg.Embedding.BasePath != "http://embedder:8008" || cfg.Embedding.Dimensions != 1024 {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	// Untouched keys keep their defaults.
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want default 50", cfg.BatchSize)
	}
	if cfg.ChunkSize != 600 {
		t.Errorf("ChunkSize = %d", cfg.ChunkSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".nasvec.yml")
	if err := os.WriteFile(path, []byte("storage_dir: /from/file\nbatch_size: 25\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("STORAGE_DIR", "/from/env")
	t.Setenv("EMBEDDING_MODEL_DIM", "1536")
	t.Setenv("REDIS_HOST", "redis.local")
	t.Setenv("RERANK_BASE_PATH", "http://rerank:8010")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageDir != "/from/env" {
		t.Errorf("StorageDir = %q, env must win over file", cfg.StorageDir)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("Dimensions = %d, want 1536", cfg.Embedding.Dimensions)
	}
	if cfg.Redis.Host != "redis.local" {
		t.Errorf("Redis.Host = %q", cfg.Redis.Host)
	}
	if cfg.Rerank.BasePath != "http://rerank:8010" {
		t.Errorf("Rerank.BasePath = %q", cfg.Rerank.BasePath)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, file value should survive", cfg.BatchSize)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".nasvec.yml")

	cfg := DefaultConfig()
	cfg.StorageDir = "/srv/nasvec"
	cfg.Vision.BasePath = "http://vision:8009/v1"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.StorageDir != "/srv/nasvec" {
		t.Errorf("StorageDir = %q", loaded.StorageDir)
	}
	if loaded.Vision.BasePath != "http://vision:8009/v1" {
		t.Errorf("Vision.BasePath = %q", loaded.Vision.BasePath)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"missing storage dir", func(c *Config) { c.StorageDir = "" }, false},
		{"missing embedder", func(c *Config) { c.Embedding.BasePath = "" }, false},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, false},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, false},
		{"overlap >= chunk size", func(c *Config) { c.ChunkOverlap = c.ChunkSize }, false},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, false},
		{"zero resync concurrency", func(c *Config) { c.ResyncConcurrency = 0 }, false},
		{"redis port out of range", func(c *Config) { c.Redis.Host = "x"; c.Redis.Port = 70000 }, false},
		{"redis unconfigured", func(c *Config) { c.Redis = RedisConfig{} }, true},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestRedisAddr(t *testing.T) {
	if got := (RedisConfig{}).Addr(); got != "" {
		t.Errorf("empty host Addr = %q, want \"\"", got)
	}
	if got := (RedisConfig{Host: "localhost"}).Addr(); got != "localhost:6379" {
		t.Errorf("default port Addr = %q", got)
	}
	if got := (RedisConfig{Host: "r", Port: 7000}).Addr(); got != "r:7000" {
		t.Errorf("Addr = %q", got)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDir = "/srv/nasvec"

	want := map[string]string{
		cfg.DocumentsDir():   "/srv/nasvec/documents",
		cfg.VectorCacheDir(): "/srv/nasvec/vector-cache",
		cfg.FolderCacheDir(): "/srv/nasvec/cache/folders",
		cfg.VectorDBDir():    "/srv/nasvec/chromem",
		cfg.TrashDir():       "/srv/nasvec/trash",
		cfg.DatabasePath():   "/srv/nasvec/nasvec.db",
	}
	for got, expect := range want {
		if got != filepath.FromSlash(expect) {
			t.Errorf("derived path %q, want %q", got, expect)
		}
	}
}
