package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-probe.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional. When Host is empty, scan leases are process-local only.
	Redis RedisConfig `yaml:"redis"`

	Probe       ProbeConfig       `yaml:"probe"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`

	// Encryption key for remote server secrets (passwords, API keys, access tokens).
	// Base64-encoded 32-byte key or any passphrase. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_probe"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// ProbeConfig controls how health probes are issued.
type ProbeConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"PROBE_TIMEOUT" env-default:"30s"`
	ShortTimeout      time.Duration `yaml:"short_timeout" env:"PROBE_SHORT_TIMEOUT" env-default:"5s"`
	BatchSize         int           `yaml:"batch_size" env:"PROBE_BATCH_SIZE" env-default:"5"`
	MaxBatchSize      int           `yaml:"max_batch_size" env:"PROBE_MAX_BATCH_SIZE" env-default:"25"` // Upper bound on simultaneous probes
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"PROBE_REQUESTS_PER_SECOND" env-default:"20"`
	Burst             int           `yaml:"burst" env:"PROBE_BURST" env-default:"5"`
	HealthCheckHeader string        `yaml:"health_check_header" env:"PROBE_HEALTH_CHECK_HEADER" env-default:"X-Health-Check"`

	// PlaceholderValues maps path placeholder names to sentinel test values.
	// Format via env: "id:1,matric_no:A123456"
	PlaceholderValues       map[string]string `yaml:"placeholder_values" env:"PROBE_PLACEHOLDER_VALUES" env-default:"id:1,matric_no:A123456"`
	DefaultPlaceholderValue string            `yaml:"default_placeholder_value" env:"PROBE_DEFAULT_PLACEHOLDER_VALUE" env-default:"1"`
}

// DiscoveryConfig controls schema discovery.
type DiscoveryConfig struct {
	SchemaPaths []string      `yaml:"schema_paths" env:"DISCOVERY_SCHEMA_PATHS" env-separator:"," env-default:"/openapi.json,/docs/openapi.json,/swagger.json,/api-docs"`
	Timeout     time.Duration `yaml:"timeout" env:"DISCOVERY_TIMEOUT" env-default:"30s"`
}

// CredentialsConfig controls outbound authentication against remote servers.
type CredentialsConfig struct {
	TokenTimeout time.Duration `yaml:"token_timeout" env:"CREDENTIALS_TOKEN_TIMEOUT" env-default:"10s"`
	// ExpirySkew treats tokens expiring within this window as already expired.
	ExpirySkew time.Duration `yaml:"expiry_skew" env:"CREDENTIALS_EXPIRY_SKEW" env-default:"30s"`
}

// SchedulerConfig controls the background discover+monitor loop.
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	Interval time.Duration `yaml:"interval" env:"SCHEDULER_INTERVAL" env-default:"5m"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment variables apply.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path != "" && fileExists(path) {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Probe.BatchSize < 1 {
		return fmt.Errorf("probe.batch_size must be at least 1, got %d", c.Probe.BatchSize)
	}
	if c.Probe.MaxBatchSize < c.Probe.BatchSize {
		return fmt.Errorf("probe.max_batch_size (%d) must be at least probe.batch_size (%d)", c.Probe.MaxBatchSize, c.Probe.BatchSize)
	}
	if c.Probe.Timeout <= 0 || c.Probe.ShortTimeout <= 0 {
		return fmt.Errorf("probe timeouts must be positive")
	}
	if len(c.Discovery.SchemaPaths) == 0 {
		return fmt.Errorf("discovery.schema_paths must not be empty")
	}
	if c.Probe.PlaceholderValues == nil {
		c.Probe.PlaceholderValues = map[string]string{}
	}
	return nil
}

// IsLocal reports whether the service runs in a local development environment.
func (c *Config) IsLocal() bool {
	switch c.Env {
	case "local", "dev", "test":
		return true
	}
	return false
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
