// Package config loads, merges, and validates the platform's YAML
// configuration. Initialize is the single entry point.
package config

// Config is the umbrella configuration object returned by Initialize
// and handed to the binaries.
type Config struct {
	configDir string

	Memory         *MemoryConfig
	Gateway        *GatewayConfig
	Registry       *RegistryClientConfig
	RegistryServer *RegistryServerConfig
	Workers        *WorkerConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
