package config

import "time"

// DefaultMemoryConfig returns the built-in memory engine defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		ListenAddr:             ":8070",
		VectorBackend:          BackendInMemory,
		EmbeddingModel:         "text-embedding-3-small",
		EmbeddingDimensions:    1536,
		EmbeddingCacheSize:     1024,
		STMMaxTokens:           4000,
		SnapshotMaxTokens:      1200,
		SnapshotSemanticTopK:   3,
		SnapshotRecentHours:    24,
		SnapshotRecentLimit:    5,
		TimeDecayHalfLifeHours: 168,
		MaxEntries:             10000,
		RetentionDays:          90,
		CompactionThreshold:    10,
		EnableTFIDFFallback:    true,
		EnableKeywordFallback:  true,
		MaintenanceSchedule:    "0 * * * *",
	}
}

// DefaultGatewayConfig returns the built-in gateway defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		ListenAddr:                ":8080",
		PerIPLimitPerMinute:       120,
		PerEndpointLimitPerMinute: 300,
		IdempotencyTTL:            time.Hour,
	}
}

// DefaultRegistryClientConfig returns the built-in registry client defaults.
func DefaultRegistryClientConfig() *RegistryClientConfig {
	return &RegistryClientConfig{
		InstallDir: "skills",
		LockFile:   "owlhub.lock.json",
		CacheDir:   ".owlhub-cache",
		Mode:       ModeAuto,
	}
}

// DefaultRegistryServerConfig returns the built-in registry server defaults.
func DefaultRegistryServerConfig() *RegistryServerConfig {
	return &RegistryServerConfig{
		ListenAddr: ":8090",
		IndexFile:  "index.json",
		DataDir:    "registry-data",
		TokenTTL:   time.Hour,
	}
}

// DefaultWorkerConfig returns the built-in worker pool defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		WorkerCount:             5,
		QueueSize:               256,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
