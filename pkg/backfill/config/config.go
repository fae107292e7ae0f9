// Package config assembles the subsystem's process-wide configuration
// from environment variables, with an optional YAML overlay file, so
// every component is built from a single object passed through
// constructors rather than read from globals.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"gopkg.in/yaml.v3"
)

// Backend selects the StorageProvider implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendCloud Backend = "cloud"
)

// Config is the fully-resolved, process-wide configuration for one
// backfillctl instance.
type Config struct {
	Backend     Backend               `yaml:"backend"`
	DataDir     string                `yaml:"dataDir"`
	AdminAddr   string                `yaml:"adminAddr"`
	MetricsAddr string                `yaml:"metricsAddr"`
	LogLevel    string                `yaml:"logLevel"`
	LogJSON     bool                  `yaml:"logJSON"`
	RateLimit   types.RateLimitConfig `yaml:"rateLimit"`
	MaxRetries  int                   `yaml:"maxRetries"`
	RetryBaseMS int                   `yaml:"retryBaseMs"`
	EntityIDs   []string              `yaml:"entityIds"`
}

// Default returns the subsystem's startup defaults, overridable by a
// YAML overlay and then by environment variables.
func Default() Config {
	return Config{
		Backend:     BackendLocal,
		DataDir:     "./data",
		AdminAddr:   "127.0.0.1:8080",
		MetricsAddr: "127.0.0.1:9090",
		LogLevel:    "info",
		LogJSON:     false,
		RateLimit:   types.DefaultRateLimitConfig(),
		MaxRetries:  5,
		RetryBaseMS: 500,
		EntityIDs:   nil,
	}
}

// Load resolves configuration in three layers, each overriding the
// previous: built-in defaults, an optional YAML file named by the
// BACKFILL_CONFIG_FILE environment variable, then individual
// BACKFILL_* environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("BACKFILL_CONFIG_FILE"); path != "" {
		if err := applyYAMLOverlay(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read overlay %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse overlay %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKFILL_STORAGE_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("BACKFILL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("BACKFILL_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv("BACKFILL_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("BACKFILL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BACKFILL_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1"
	}
	if v := os.Getenv("BACKFILL_MAX_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxRequestsPerMinute = n
		}
	}
	if v := os.Getenv("BACKFILL_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxConcurrent = n
		}
	}
	if v := os.Getenv("BACKFILL_MIN_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MinDelayMS = n
		}
	}
	if v := os.Getenv("BACKFILL_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxDelayMS = n
		}
	}
}

// Validate rejects a configuration that would produce a broken or
// unsafe subsystem at startup.
func (c Config) Validate() error {
	if c.Backend != BackendLocal && c.Backend != BackendCloud {
		return fmt.Errorf("config: unknown storage backend %q", c.Backend)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir must not be empty")
	}
	if c.RateLimit.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("config: rateLimit.maxRequestsPerMinute must be >= 1")
	}
	if c.RateLimit.MaxConcurrent < 1 {
		return fmt.Errorf("config: rateLimit.maxConcurrent must be >= 1")
	}
	if c.RateLimit.MaxDelayMS < c.RateLimit.MinDelayMS {
		return fmt.Errorf("config: rateLimit.maxDelayMs must be >= minDelayMs")
	}
	return nil
}
