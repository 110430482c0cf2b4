package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// platformYAMLConfig represents the complete platform.yaml file structure.
type platformYAMLConfig struct {
	Memory         *MemoryConfig         `yaml:"memory"`
	Gateway        *GatewayConfig        `yaml:"gateway"`
	Registry       *RegistryClientConfig `yaml:"registry"`
	RegistryServer *RegistryServerConfig `yaml:"registry_server"`
	Workers        *WorkerConfig         `yaml:"workers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load platform.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"vector_backend", cfg.Memory.VectorBackend,
		"gateway_addr", cfg.Gateway.ListenAddr,
		"registry_mode", cfg.Registry.Mode)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var userCfg platformYAMLConfig
	if err := loadYAML(filepath.Join(configDir, "platform.yaml"), &userCfg); err != nil {
		return nil, NewLoadError("platform.yaml", err)
	}

	memory := DefaultMemoryConfig()
	if userCfg.Memory != nil {
		if err := mergo.Merge(memory, userCfg.Memory, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge memory config: %w", err)
		}
	}

	gateway := DefaultGatewayConfig()
	if userCfg.Gateway != nil {
		if err := mergo.Merge(gateway, userCfg.Gateway, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge gateway config: %w", err)
		}
	}

	registry := DefaultRegistryClientConfig()
	if userCfg.Registry != nil {
		if err := mergo.Merge(registry, userCfg.Registry, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge registry config: %w", err)
		}
	}

	registryServer := DefaultRegistryServerConfig()
	if userCfg.RegistryServer != nil {
		if err := mergo.Merge(registryServer, userCfg.RegistryServer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge registry server config: %w", err)
		}
	}

	workers := DefaultWorkerConfig()
	if userCfg.Workers != nil {
		if err := mergo.Merge(workers, userCfg.Workers, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge workers config: %w", err)
		}
	}

	return &Config{
		configDir:      configDir,
		Memory:         memory,
		Gateway:        gateway,
		Registry:       registry,
		RegistryServer: registryServer,
		Workers:        workers,
	}, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
