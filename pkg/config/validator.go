package config

import "fmt"

// Validator validates configuration with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast: stops at
// the first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateMemory(); err != nil {
		return err
	}
	if err := v.validateGateway(); err != nil {
		return err
	}
	if err := v.validateRegistry(); err != nil {
		return err
	}
	if err := v.validateRegistryServer(); err != nil {
		return err
	}
	return v.validateWorkers()
}

func (v *Validator) validateMemory() error {
	m := v.cfg.Memory

	if !m.VectorBackend.IsValid() {
		return NewValidationError("memory", "vector_backend",
			fmt.Errorf("%w: %q (must be inmemory, pgvector, or qdrant)", ErrInvalidValue, m.VectorBackend))
	}
	if m.EmbeddingDimensions <= 0 {
		return NewValidationError("memory", "embedding_dimensions",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.TimeDecayHalfLifeHours <= 0 {
		return NewValidationError("memory", "time_decay_half_life_hours",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if m.VectorBackend == BackendQdrant && m.QdrantURL == "" {
		return NewValidationError("memory", "qdrant_url", ErrMissingRequiredField)
	}
	if m.EnableFileFallback && m.FileFallbackPath == "" {
		return NewValidationError("memory", "file_fallback_path", ErrMissingRequiredField)
	}
	if m.MaxEntries < 0 {
		return NewValidationError("memory", "max_entries",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if m.RetentionDays < 0 {
		return NewValidationError("memory", "retention_days",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateGateway() error {
	g := v.cfg.Gateway

	if g.ListenAddr == "" {
		return NewValidationError("gateway", "listen_addr", ErrMissingRequiredField)
	}
	if g.PerIPLimitPerMinute <= 0 {
		return NewValidationError("gateway", "per_ip_limit_per_minute",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if g.PerEndpointLimitPerMinute <= 0 {
		return NewValidationError("gateway", "per_endpoint_limit_per_minute",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if g.TLSEnabled && (g.TLSCertFile == "" || g.TLSKeyFile == "") {
		return NewValidationError("gateway", "tls_cert_file",
			fmt.Errorf("%w: tls_enabled requires both cert and key files", ErrMissingRequiredField))
	}
	return nil
}

func (v *Validator) validateRegistry() error {
	r := v.cfg.Registry

	if !r.Mode.IsValid() {
		return NewValidationError("registry", "mode",
			fmt.Errorf("%w: %q (must be auto, index, or api)", ErrInvalidValue, r.Mode))
	}
	switch r.Mode {
	case ModeIndex:
		if r.IndexURL == "" {
			return NewValidationError("registry", "index_url", ErrMissingRequiredField)
		}
	case ModeAPI:
		if r.APIBaseURL == "" {
			return NewValidationError("registry", "api_base_url", ErrMissingRequiredField)
		}
	case ModeAuto:
		if r.IndexURL == "" && r.APIBaseURL == "" {
			return NewValidationError("registry", "index_url",
				fmt.Errorf("%w: auto mode needs index_url or api_base_url", ErrMissingRequiredField))
		}
	}
	if r.InstallDir == "" {
		return NewValidationError("registry", "install_dir", ErrMissingRequiredField)
	}
	if r.LockFile == "" {
		return NewValidationError("registry", "lock_file", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateRegistryServer() error {
	r := v.cfg.RegistryServer

	if r.ListenAddr == "" {
		return NewValidationError("registry_server", "listen_addr", ErrMissingRequiredField)
	}
	if r.IndexFile == "" {
		return NewValidationError("registry_server", "index_file", ErrMissingRequiredField)
	}
	if r.DataDir == "" {
		return NewValidationError("registry_server", "data_dir", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateWorkers() error {
	w := v.cfg.Workers

	if w.WorkerCount <= 0 {
		return NewValidationError("workers", "worker_count",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if w.QueueSize <= 0 {
		return NewValidationError("workers", "queue_size",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
