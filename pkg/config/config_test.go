package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/reportq/internal/settings"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

// TestLoadConfigOptional_EmptyPath tests loading when file path is empty
func TestLoadConfigOptional_EmptyPath(t *testing.T) {
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Expected Port=9999 from env, got %d", cfg.Port)
	}
	if cfg.ReportStoreType != "fs" || cfg.WorkerConcurrency != 2 || cfg.TaskRetentionHours != 168 {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
	if cfg.TaskLease() != 2*time.Minute {
		t.Errorf("Expected 2m task lease, got %s", cfg.TaskLease())
	}
}

func TestTaskLeaseFromEnv(t *testing.T) {
	t.Setenv("TASK_LEASE_SECONDS", "30")
	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TaskLease() != 30*time.Second {
		t.Fatalf("expected 30s lease, got %s", cfg.TaskLease())
	}
}

func TestLoadConfigOptional_WhitespacePath(t *testing.T) {
	cfg, err := LoadConfigOptional("   ")
	if err != nil || cfg == nil {
		t.Fatalf("LoadConfigOptional with whitespace path should not error: %v", err)
	}
}

func TestLoadConfigOptional_FileNotExist(t *testing.T) {
	nonExistentPath := filepath.Join(t.TempDir(), "config-does-not-exist.yaml")

	cfg, err := LoadConfigOptional(nonExistentPath)
	if err != nil || cfg == nil {
		t.Fatalf("LoadConfigOptional with non-existent file should not error: %v", err)
	}
	if _, err := LoadConfig(nonExistentPath); err == nil {
		t.Fatal("LoadConfig must require the file")
	}
}

func TestLoadConfigOptional_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
port: 8080
redisAddr: "localhost:6379"
  invalid indentation here
  more bad yaml
`)
	if _, err := LoadConfigOptional(path); err == nil {
		t.Fatal("Expected error when loading invalid YAML, got nil")
	}
}

func TestLoadConfigOptional_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
port: 8081
redisAddr: "localhost:6379"
redisPassword: "secret"
logLevel: "debug"
env: "test"
reportStoreType: redis
reportStoreConfig:
  prefix: "staging"
workerConcurrency: 4
workerIdleBackoff:
  policy: linear
  baseMillis: 50
  maxMillis: 500
producerAuthProvider: static
producerAuthConfig:
  token: "t-1"
  groups: ["qa"]
qualityGate:
  maxBlockerIssues: 2
  minCoverage: 80.5
tracing:
  enabled: true
  sampleRatio: 0.5
`)
	cfg, err := LoadConfigOptional(path)
	if err != nil {
		t.Fatalf("LoadConfigOptional with valid config should not error: %v", err)
	}
	if cfg.Port != 8081 || cfg.RedisPassword != "secret" || cfg.LogLevel != "debug" || cfg.Env != "test" {
		t.Errorf("Unexpected basics %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	store, err := cfg.ReportStore()
	if err != nil || store.Type != "redis" || string(store.Config) != `{"prefix":"staging"}` {
		t.Errorf("Unexpected report store %+v err=%v", store, err)
	}
	producer, err := cfg.ProducerAuth()
	if err != nil {
		t.Fatalf("ProducerAuth: %v", err)
	}
	var block struct {
		Token  string   `json:"token"`
		Groups []string `json:"groups"`
	}
	if err := json.Unmarshal(producer.Config, &block); err != nil || block.Token != "t-1" || len(block.Groups) != 1 {
		t.Errorf("Unexpected producer auth block %s err=%v", producer.Config, err)
	}

	policy := cfg.IdleBackoff()
	if policy.Name != "linear" || policy.Base != 50*time.Millisecond || policy.Max != 500*time.Millisecond {
		t.Errorf("Unexpected idle backoff %+v", policy)
	}

	defaults := cfg.SettingsDefaults()
	if defaults[settings.KeyMaxBlockerIssues] != "2" || defaults[settings.KeyMinCoverage] != "80.5" {
		t.Errorf("Unexpected settings defaults %v", defaults)
	}
	if _, ok := defaults[settings.KeyMaxCriticalIssues]; ok {
		t.Errorf("Unset thresholds must not appear in defaults")
	}
}

// TestLoadConfigOptional_EnvOverrides tests that environment variables override file values
func TestLoadConfigOptional_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: 8080
redisAddr: "localhost:6379"
redisPassword: "file-password"
producerAuthProvider: jwks
`)
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "env-redis:6380")
	t.Setenv("REDIS_PASSWORD", "env-password")
	t.Setenv("PRODUCER_AUTH_PROVIDER", "static")
	t.Setenv("PRODUCER_AUTH_CONFIG", `"env-token"`)
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := LoadConfigOptional(path)
	if err != nil {
		t.Fatalf("LoadConfigOptional should not error: %v", err)
	}
	if cfg.Port != 9090 || cfg.RedisAddr != "env-redis:6380" || cfg.RedisPassword != "env-password" {
		t.Errorf("Expected env overrides, got %+v", cfg)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("Expected WorkerConcurrency=8, got %d", cfg.WorkerConcurrency)
	}
	producer, _ := cfg.ProducerAuth()
	if producer.Type != "static" || string(producer.Config) != `"env-token"` {
		t.Errorf("Unexpected producer auth %+v", producer)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"dev defaults", func(*Config) {}, ""},
		{"prod without auth", func(c *Config) { c.Env = "prod" }, "producerAuthProvider"},
		{"unknown policy", func(c *Config) { c.WorkerIdleBackoff.Policy = "random" }, "workerIdleBackoff"},
		{"max below base", func(c *Config) { c.WorkerIdleBackoff.MaxMillis = 10 }, "maxMillis"},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sampleRatio"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfigOptional("")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
