package config

// RedisConfig holds the optional Redis connection settings. An empty
// Host degrades the metadata store to disk-only operation.
type RedisConfig struct {
	Host string `yaml:"host" koanf:"host"`
	Port int    `yaml:"port" koanf:"port"`
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return hostPort(r.Host, port)
}

// EmbeddingConfig points at the text embedder HTTP service.
type EmbeddingConfig struct {
	BasePath   string `yaml:"base_path" koanf:"base_path"`
	Model      string `yaml:"model" koanf:"model"`
	Dimensions int    `yaml:"dimensions" koanf:"dimensions"`
}

// VisionConfig points at the vision describer (OpenAI chat-completions
// shape).
type VisionConfig struct {
	BasePath string `yaml:"base_path" koanf:"base_path"`
	Model    string `yaml:"model" koanf:"model"`
	APIKey   string `yaml:"api_key" koanf:"api_key"`
}

// RerankConfig points at an optional cross-encoder rerank service. An
// empty BasePath disables reranking; search requests asking for it are
// rejected.
type RerankConfig struct {
	BasePath string `yaml:"base_path" koanf:"base_path"`
	Model    string `yaml:"model" koanf:"model"`
}

// ServerConfig holds the REST server settings.
type ServerConfig struct {
	Port     int  `yaml:"port" koanf:"port"`
	AllowAll bool `yaml:"allow_all_cors" koanf:"allow_all_cors"`
}

// Config is the top-level nasvec configuration, corresponding to
// .nasvec.yml with environment-variable overrides.
type Config struct {
	StorageDir string          `yaml:"storage_dir" koanf:"storage_dir"`
	Redis      RedisConfig     `yaml:"redis" koanf:"redis"`
	Embedding  EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Vision     VisionConfig    `yaml:"vision" koanf:"vision"`
	Rerank     RerankConfig    `yaml:"rerank" koanf:"rerank"`
	Server     ServerConfig    `yaml:"server" koanf:"server"`

	BatchSize              int   `yaml:"batch_size" koanf:"batch_size"`
	ConcurrentOperations   int   `yaml:"concurrent_operations" koanf:"concurrent_operations"`
	ChunkSize              int   `yaml:"chunk_size" koanf:"chunk_size"`
	ChunkOverlap           int   `yaml:"chunk_overlap" koanf:"chunk_overlap"`
	ResyncConcurrency      int   `yaml:"resync_concurrency" koanf:"resync_concurrency"`
	ResyncLargeConcurrency int   `yaml:"resync_large_concurrency" koanf:"resync_large_concurrency"`
	ResyncSlowMs           int   `yaml:"resync_slow_ms" koanf:"resync_slow_ms"`
	MaxLocalFilesJSONBytes int64 `yaml:"max_localfiles_json_bytes" koanf:"max_localfiles_json_bytes"`
}
