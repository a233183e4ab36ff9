package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (credential keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// Scanner configuration for metadata scans
	Scanner ScannerConfig `yaml:"scanner"`

	// ProfileCache controls reuse of table profiling results
	ProfileCache ProfileCacheConfig `yaml:"profile_cache"`

	// ConnectionsFile is an optional YAML file of persisted connection
	// descriptors loaded at startup. Credentials in it are references
	// (env:NAME or enc:<ciphertext>), never inline values.
	ConnectionsFile string `yaml:"connections_file" env:"CONNECTIONS_FILE" env-default:""`

	// CredentialsKey decrypts enc: credential references in the connections
	// file. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle physical handles are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of physical handles per connection.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of physical handles per connection.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
	// ValidateTimeoutSeconds bounds the reachability check at registration.
	ValidateTimeoutSeconds int `yaml:"validate_timeout_seconds" env:"DATASOURCE_VALIDATE_TIMEOUT_SECONDS" env-default:"10"`
}

// ValidateTimeout returns the registration validation timeout as a Duration.
func (c *DatasourceConfig) ValidateTimeout() time.Duration {
	return time.Duration(c.ValidateTimeoutSeconds) * time.Second
}

// ScannerConfig holds metadata scan settings.
type ScannerConfig struct {
	// Workers is the number of concurrent per-table scan workers.
	Workers int `yaml:"workers" env:"SCANNER_WORKERS" env-default:"8"`
	// JobTimeoutSeconds is the default deadline for a whole scan job.
	JobTimeoutSeconds int `yaml:"job_timeout_seconds" env:"SCANNER_JOB_TIMEOUT_SECONDS" env-default:"300"`
	// SampleRows caps the number of rows fetched per table for profiling.
	SampleRows int `yaml:"sample_rows" env:"SCANNER_SAMPLE_ROWS" env-default:"100"`
}

// JobTimeout returns the default scan job deadline as a Duration.
func (c *ScannerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// ProfileCacheConfig holds profile cache settings.
type ProfileCacheConfig struct {
	// TTLSeconds is how long a cached table profile stays fresh.
	TTLSeconds int `yaml:"ttl_seconds" env:"PROFILE_CACHE_TTL_SECONDS" env-default:"300"`
}

// TTL returns the cache time-to-live as a Duration.
func (c *ProfileCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// If config.yaml does not exist, defaults plus environment variables are used.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate rejects settings that would make the engine misbehave quietly.
func (c *Config) validate() error {
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("scanner workers must be >= 1, got %d", c.Scanner.Workers)
	}
	if c.Scanner.SampleRows < 1 {
		return fmt.Errorf("scanner sample_rows must be >= 1, got %d", c.Scanner.SampleRows)
	}
	if c.Datasource.PoolMaxConns < c.Datasource.PoolMinConns {
		return fmt.Errorf("pool_max_conns (%d) must be >= pool_min_conns (%d)",
			c.Datasource.PoolMaxConns, c.Datasource.PoolMinConns)
	}
	if c.ProfileCache.TTLSeconds < 0 {
		return fmt.Errorf("profile cache ttl_seconds must be >= 0, got %d", c.ProfileCache.TTLSeconds)
	}
	return nil
}
