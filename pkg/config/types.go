package config

import "time"

// VectorBackend selects the long-term memory store implementation.
type VectorBackend string

const (
	BackendInMemory VectorBackend = "inmemory"
	BackendPgVector VectorBackend = "pgvector"
	BackendQdrant   VectorBackend = "qdrant"
)

// IsValid reports whether the backend is a known value.
func (b VectorBackend) IsValid() bool {
	switch b {
	case BackendInMemory, BackendPgVector, BackendQdrant:
		return true
	}
	return false
}

// RegistryMode selects how the registry client reaches skill metadata.
type RegistryMode string

const (
	ModeAuto  RegistryMode = "auto"
	ModeIndex RegistryMode = "index"
	ModeAPI   RegistryMode = "api"
)

// IsValid reports whether the mode is a known value.
func (m RegistryMode) IsValid() bool {
	switch m {
	case ModeAuto, ModeIndex, ModeAPI:
		return true
	}
	return false
}

// MemoryConfig configures the agent memory engine.
type MemoryConfig struct {
	// ListenAddr is the memory engine HTTP listen address.
	ListenAddr             string        `yaml:"listen_addr"`
	VectorBackend          VectorBackend `yaml:"vector_backend"`
	EmbeddingModel         string        `yaml:"embedding_model"`
	EmbeddingDimensions    int           `yaml:"embedding_dimensions"`
	EmbeddingCacheSize     int           `yaml:"embedding_cache_size"`
	STMMaxTokens           int           `yaml:"stm_max_tokens"`
	SnapshotMaxTokens      int           `yaml:"snapshot_max_tokens"`
	SnapshotSemanticTopK   int           `yaml:"snapshot_semantic_top_k"`
	SnapshotRecentHours    float64       `yaml:"snapshot_recent_hours"`
	SnapshotRecentLimit    int           `yaml:"snapshot_recent_limit"`
	TimeDecayHalfLifeHours float64       `yaml:"time_decay_half_life_hours"`
	MaxEntries             int           `yaml:"max_entries"`
	RetentionDays          int           `yaml:"retention_days"`
	CompactionThreshold    int           `yaml:"compaction_threshold"`
	EnableTFIDFFallback    bool          `yaml:"enable_tfidf_fallback"`
	EnableKeywordFallback  bool          `yaml:"enable_keyword_fallback"`
	EnableFileFallback     bool          `yaml:"enable_file_fallback"`
	FileFallbackPath       string        `yaml:"file_fallback_path"`
	// MaintenanceSchedule is a five-field cron expression for the
	// lifecycle sweep.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
	// MaintenanceScopes lists "agent_id/tenant_id" pairs the sweep
	// covers; empty disables the scheduler.
	MaintenanceScopes []string `yaml:"maintenance_scopes"`
	// QdrantURL is required when vector_backend is qdrant.
	QdrantURL string `yaml:"qdrant_url"`
}

// GatewayConfig configures the webhook gateway server.
type GatewayConfig struct {
	ListenAddr                string   `yaml:"listen_addr"`
	CORSOrigins               []string `yaml:"cors_origins"`
	TLSEnabled                bool     `yaml:"tls_enabled"`
	TLSCertFile               string   `yaml:"tls_cert_file"`
	TLSKeyFile                string   `yaml:"tls_key_file"`
	PerIPLimitPerMinute       int      `yaml:"per_ip_limit_per_minute"`
	PerEndpointLimitPerMinute int      `yaml:"per_endpoint_limit_per_minute"`
	// GovernanceURL is the base URL of the governance service; empty
	// disables governance checks.
	GovernanceURL string `yaml:"governance_url"`
	// RuntimeURL is the base URL of the agent runtime the gateway
	// dispatches to.
	RuntimeURL string `yaml:"runtime_url"`
	// RedisAddr enables Redis-backed idempotency state when set.
	RedisAddr string `yaml:"redis_addr"`
	// IdempotencyTTL bounds how long cached trigger results are served.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// RegistryClientConfig configures the skill hub client.
type RegistryClientConfig struct {
	IndexURL   string       `yaml:"index_url"`
	InstallDir string       `yaml:"install_dir"`
	LockFile   string       `yaml:"lock_file"`
	CacheDir   string       `yaml:"cache_dir"`
	NoCache    bool         `yaml:"no_cache"`
	APIBaseURL string       `yaml:"api_base_url"`
	APIToken   string       `yaml:"api_token"`
	Mode       RegistryMode `yaml:"mode"`
}

// RegistryServerConfig configures the registry REST server.
type RegistryServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// IndexFile is the published index the server reads and moderates.
	IndexFile string `yaml:"index_file"`
	// DataDir holds the review, statistics, audit, and blacklist files.
	DataDir string `yaml:"data_dir"`
	// TokenTTL bounds how long issued access tokens stay valid.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// WorkerConfig controls the async dispatch worker pool.
type WorkerConfig struct {
	// WorkerCount is the number of dispatch goroutines.
	WorkerCount int `yaml:"worker_count"`
	// QueueSize bounds the pending dispatch backlog.
	QueueSize int `yaml:"queue_size"`
	// GracefulShutdownTimeout is the max time to wait for in-flight
	// executions during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}
