// Package config handles loading and validating Tendo configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the Tendo execution engine.
type Config struct {
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default
	Approval      ApprovalConfig       `json:"approval" yaml:"approval"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // Default: ":8080". Override: TENDO_ADDR.

	// APIKeys maps API keys to tenant IDs. Keys normally come from the
	// environment (TENDO_API_KEY), not the config file.
	APIKeys map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`

	EnableDocs bool `json:"enable_docs" yaml:"enable_docs"` // Serve OpenAPI docs.

	RateLimitPerMinute int `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"` // 0 = unlimited.
	RateLimitBurst     int `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// ListenAddr returns the configured listen address, defaulting to ":8080".
func (s ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Default: ~/.tendo/tendo.db.
}

// DatabasePath returns the SQLite file path, defaulting under the home dir.
func (s *StorageConfig) DatabasePath() string {
	if s != nil && s.SQLite != nil && s.SQLite.Path != "" {
		return s.SQLite.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "tendo.db"
	}
	return filepath.Join(home, ".tendo", "tendo.db")
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: TENDO_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ApprovalConfig configures the approval workflow.
type ApprovalConfig struct {
	TTLHours      int    `json:"ttl_hours" yaml:"ttl_hours"`           // Default: 24.
	SweepSchedule string `json:"sweep_schedule" yaml:"sweep_schedule"` // Cron spec. Default: "@every 5m".
}

// TTL returns the approval time-to-live.
func (a ApprovalConfig) TTL() time.Duration {
	if a.TTLHours > 0 {
		return time.Duration(a.TTLHours) * time.Hour
	}
	return 24 * time.Hour
}

// Schedule returns the sweep cron spec.
func (a ApprovalConfig) Schedule() string {
	if a.SweepSchedule != "" {
		return a.SweepSchedule
	}
	return "@every 5m"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path, defaulting to "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name"` // Default: "tendo".
	Endpoint    string `json:"endpoint" yaml:"endpoint"`         // host:port of the OTLP collector.
	Protocol    string `json:"protocol" yaml:"protocol"`         // "grpc" (default) or "http".
	Insecure    bool   `json:"insecure" yaml:"insecure"`
}

// HealthConfig configures liveness/readiness endpoints.
type HealthConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfigPath returns the conventional config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/tendo.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".tendo", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a Config. The format is
// detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

// Default returns a config with all defaults, used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("TENDO_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if key := os.Getenv("TENDO_API_KEY"); key != "" {
		if c.Server.APIKeys == nil {
			c.Server.APIKeys = make(map[string]string)
		}
		// Single-key deployments map the env key to the default tenant.
		c.Server.APIKeys[key] = "default"
	}
	if dsn := os.Getenv("TENDO_DB_DSN"); dsn != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Driver = "postgres"
		c.Storage.Postgres.DSN = dsn
	}
	if driver := os.Getenv("TENDO_STORAGE_DRIVER"); driver != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		c.Storage.Driver = driver
	}
}
