package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
probe:
  batch_size: 3
`)

	os.Unsetenv("PGHOST")
	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PROBE_BATCH_SIZE", "8")

	cfg, err := LoadFrom(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Probe.BatchSize != 8 {
		t.Errorf("expected Probe.BatchSize=8 (from env), got %d", cfg.Probe.BatchSize)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.BaseURL != "http://localhost:4443" {
		t.Errorf("expected BaseURL=http://localhost:4443 (auto-derived from PORT), got %s", cfg.BaseURL)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
}

func TestLoad_ProbeDefaults(t *testing.T) {
	path := writeConfig(t, `
env: "test"
`)

	for _, key := range []string{
		"PROBE_TIMEOUT", "PROBE_SHORT_TIMEOUT", "PROBE_BATCH_SIZE",
		"PROBE_PLACEHOLDER_VALUES", "DISCOVERY_SCHEMA_PATHS", "SCHEDULER_INTERVAL",
	} {
		os.Unsetenv(key)
	}

	cfg, err := LoadFrom(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Probe.Timeout != 30*time.Second {
		t.Errorf("expected Probe.Timeout=30s, got %s", cfg.Probe.Timeout)
	}
	if cfg.Probe.ShortTimeout != 5*time.Second {
		t.Errorf("expected Probe.ShortTimeout=5s, got %s", cfg.Probe.ShortTimeout)
	}
	if cfg.Probe.BatchSize != 5 {
		t.Errorf("expected Probe.BatchSize=5, got %d", cfg.Probe.BatchSize)
	}
	if cfg.Probe.PlaceholderValues["id"] != "1" {
		t.Errorf("expected placeholder id=1, got %q", cfg.Probe.PlaceholderValues["id"])
	}
	if cfg.Probe.PlaceholderValues["matric_no"] != "A123456" {
		t.Errorf("expected placeholder matric_no=A123456, got %q", cfg.Probe.PlaceholderValues["matric_no"])
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("expected Scheduler.Interval=5m, got %s", cfg.Scheduler.Interval)
	}

	want := []string{"/openapi.json", "/docs/openapi.json", "/swagger.json", "/api-docs"}
	if len(cfg.Discovery.SchemaPaths) != len(want) {
		t.Fatalf("expected %d schema paths, got %v", len(want), cfg.Discovery.SchemaPaths)
	}
	for i := range want {
		if cfg.Discovery.SchemaPaths[i] != want[i] {
			t.Errorf("schema path %d: expected %s, got %s", i, want[i], cfg.Discovery.SchemaPaths[i])
		}
	}
}

func TestLoad_PlaceholderValuesFromYAML(t *testing.T) {
	path := writeConfig(t, `
probe:
  placeholder_values:
    user_id: "42"
  default_placeholder_value: "x"
`)
	os.Unsetenv("PROBE_PLACEHOLDER_VALUES")
	os.Unsetenv("PROBE_DEFAULT_PLACEHOLDER_VALUE")

	cfg, err := LoadFrom(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}

	if cfg.Probe.PlaceholderValues["user_id"] != "42" {
		t.Errorf("expected placeholder user_id=42, got %q", cfg.Probe.PlaceholderValues["user_id"])
	}
	if cfg.Probe.DefaultPlaceholderValue != "x" {
		t.Errorf("expected DefaultPlaceholderValue=x, got %q", cfg.Probe.DefaultPlaceholderValue)
	}
}

func TestLoad_MissingConfigFileUsesEnv(t *testing.T) {
	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "9090")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.BaseURL != "http://localhost:9090" {
		t.Errorf("expected BaseURL=http://localhost:9090, got %s", cfg.BaseURL)
	}
}

func TestLoad_BaseURLExplicitTrimsSlash(t *testing.T) {
	path := writeConfig(t, `
base_url: "http://my-server.internal:8080/"
`)
	os.Unsetenv("BASE_URL")

	cfg, err := LoadFrom(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.BaseURL != "http://my-server.internal:8080" {
		t.Errorf("expected BaseURL without trailing slash, got %s", cfg.BaseURL)
	}
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	path := writeConfig(t, `
probe:
  batch_size: -1
`)
	os.Unsetenv("PROBE_BATCH_SIZE")

	if _, err := LoadFrom(path, "test-version"); err == nil {
		t.Error("expected error for negative batch_size")
	}
}

func TestLoad_BatchSizeAboveMax(t *testing.T) {
	path := writeConfig(t, `
probe:
  batch_size: 30
  max_batch_size: 10
`)
	os.Unsetenv("PROBE_BATCH_SIZE")
	os.Unsetenv("PROBE_MAX_BATCH_SIZE")

	if _, err := LoadFrom(path, "test-version"); err == nil {
		t.Error("expected error when batch_size exceeds max_batch_size")
	}
}

func TestLoad_DefaultMaxBatchSize(t *testing.T) {
	os.Unsetenv("PROBE_BATCH_SIZE")
	os.Unsetenv("PROBE_MAX_BATCH_SIZE")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), "test-version")
	if err != nil {
		t.Fatalf("LoadFrom() failed: %v", err)
	}
	if cfg.Probe.MaxBatchSize != 25 {
		t.Errorf("expected Probe.MaxBatchSize=25, got %d", cfg.Probe.MaxBatchSize)
	}
}

func TestConfig_IsLocal(t *testing.T) {
	for env, want := range map[string]bool{
		"local":      true,
		"dev":        true,
		"test":       true,
		"staging":    false,
		"production": false,
	} {
		if got := (&Config{Env: env}).IsLocal(); got != want {
			t.Errorf("IsLocal() for env %q = %v, want %v", env, got, want)
		}
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "ekaya",
		Password: "p@ss",
		Database: "ekaya_probe",
		SSLMode:  "disable",
	}

	got := c.ConnectionString()
	want := "postgres://ekaya:p%40ss@db:5432/ekaya_probe?sslmode=disable"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
