package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/reportq/internal/backoff"
	"github.com/osvaldoandrade/reportq/internal/ratelimit"
	"github.com/osvaldoandrade/reportq/internal/settings"
	"github.com/osvaldoandrade/reportq/pkg/auth"
	"github.com/osvaldoandrade/reportq/pkg/reportstore"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	// ReportStoreConfig and the *AuthConfig fields hold a provider block, either
	// inline YAML or a JSON string when set from the environment.
	ReportStoreType   string `yaml:"reportStoreType"`
	ReportStoreConfig any    `yaml:"reportStoreConfig"`
	DumpDir           string `yaml:"dumpDir"`

	WorkerConcurrency int               `yaml:"workerConcurrency"`
	WorkerIdleBackoff IdleBackoffConfig `yaml:"workerIdleBackoff"`
	// A claimed task whose worker stops renewing the lease for this long is failed.
	TaskLeaseSeconds  int               `yaml:"taskLeaseSeconds"`

	TaskRetentionHours       int `yaml:"taskRetentionHours"`
	RetentionIntervalSeconds int `yaml:"retentionIntervalSeconds"`

	ProducerAuthProvider string `yaml:"producerAuthProvider"`
	ProducerAuthConfig   any    `yaml:"producerAuthConfig"`
	AdminAuthProvider    string `yaml:"adminAuthProvider"`
	AdminAuthConfig      any    `yaml:"adminAuthConfig"`

	// Zero values disable the limit.
	SubmissionRateLimit ratelimit.Bucket `yaml:"submissionRateLimit"`

	QualityGate QualityGateConfig `yaml:"qualityGate"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type IdleBackoffConfig struct {
	Policy     string `yaml:"policy"`
	BaseMillis int    `yaml:"baseMillis"`
	MaxMillis  int    `yaml:"maxMillis"`
}

// QualityGateConfig seeds the global settings defaults. Nil leaves the built-in default.
type QualityGateConfig struct {
	MaxBlockerIssues  *int     `yaml:"maxBlockerIssues"`
	MaxCriticalIssues *int     `yaml:"maxCriticalIssues"`
	MinCoverage       *float64 `yaml:"minCoverage"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// LoadConfig reads filePath, which must exist.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// LoadConfigOptional behaves like LoadConfig but falls back to environment and
// defaults when filePath is blank or missing.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return parse(nil)
	}
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("TIMEZONE", &c.Timezone)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)
	envString("REPORT_STORE_TYPE", &c.ReportStoreType)
	envJSON("REPORT_STORE_CONFIG", &c.ReportStoreConfig)
	envString("DUMP_DIR", &c.DumpDir)
	envInt("WORKER_CONCURRENCY", &c.WorkerConcurrency)
	envString("WORKER_IDLE_BACKOFF_POLICY", &c.WorkerIdleBackoff.Policy)
	envInt("WORKER_IDLE_BACKOFF_BASE_MILLIS", &c.WorkerIdleBackoff.BaseMillis)
	envInt("WORKER_IDLE_BACKOFF_MAX_MILLIS", &c.WorkerIdleBackoff.MaxMillis)
	envInt("TASK_LEASE_SECONDS", &c.TaskLeaseSeconds)
	envInt("TASK_RETENTION_HOURS", &c.TaskRetentionHours)
	envInt("RETENTION_INTERVAL_SECONDS", &c.RetentionIntervalSeconds)
	envString("PRODUCER_AUTH_PROVIDER", &c.ProducerAuthProvider)
	envJSON("PRODUCER_AUTH_CONFIG", &c.ProducerAuthConfig)
	envString("ADMIN_AUTH_PROVIDER", &c.AdminAuthProvider)
	envJSON("ADMIN_AUTH_CONFIG", &c.AdminAuthConfig)
	envInt("SUBMISSION_RATE_LIMIT_RPM", &c.SubmissionRateLimit.RequestsPerMinute)
	envInt("SUBMISSION_RATE_LIMIT_BURST", &c.SubmissionRateLimit.BurstSize)
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled, _ = strconv.ParseBool(v)
	}
	envString("TRACING_ENDPOINT", &c.Tracing.Endpoint)
	if v := os.Getenv("TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.ReportStoreType == "" {
		c.ReportStoreType = "fs"
	}
	if c.ReportStoreType == "fs" && c.ReportStoreConfig == nil {
		c.ReportStoreConfig = map[string]any{"dir": "/tmp/reportq-reports"}
	}
	if c.DumpDir == "" {
		c.DumpDir = "/tmp/reportq-dumps"
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	if c.WorkerIdleBackoff.Policy == "" {
		c.WorkerIdleBackoff.Policy = backoff.ExpFullJitter
	}
	if c.WorkerIdleBackoff.BaseMillis <= 0 {
		c.WorkerIdleBackoff.BaseMillis = 200
	}
	if c.WorkerIdleBackoff.MaxMillis <= 0 {
		c.WorkerIdleBackoff.MaxMillis = 5000
	}
	if c.TaskLeaseSeconds <= 0 {
		c.TaskLeaseSeconds = 120
	}
	if c.TaskRetentionHours <= 0 {
		c.TaskRetentionHours = 24 * 7
	}
	if c.RetentionIntervalSeconds <= 0 {
		c.RetentionIntervalSeconds = 3600
	}
}

func (c *Config) Validate() error {
	var errs []string
	dev := strings.EqualFold(strings.TrimSpace(c.Env), "dev")

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.ProducerAuthProvider == "" && !dev {
		errs = append(errs, "producerAuthProvider is required in non-dev")
	}
	if err := c.IdleBackoff().Validate(); err != nil {
		errs = append(errs, "workerIdleBackoff: "+err.Error())
	}
	if c.WorkerIdleBackoff.MaxMillis < c.WorkerIdleBackoff.BaseMillis {
		errs = append(errs, "workerIdleBackoff.maxMillis must not be below baseMillis")
	}
	if c.SubmissionRateLimit.RequestsPerMinute < 0 || c.SubmissionRateLimit.BurstSize < 0 {
		errs = append(errs, "submissionRateLimit values must not be negative")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be within [0, 1]")
	}
	for name, raw := range map[string]any{
		"reportStoreConfig":  c.ReportStoreConfig,
		"producerAuthConfig": c.ProducerAuthConfig,
		"adminAuthConfig":    c.AdminAuthConfig,
	} {
		if _, err := rawJSON(raw); err != nil {
			errs = append(errs, name+": "+err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TaskLease is how long a claim survives without a heartbeat.
func (c *Config) TaskLease() time.Duration {
	return time.Duration(c.TaskLeaseSeconds) * time.Second
}

// IdleBackoff returns the worker idle polling policy.
func (c *Config) IdleBackoff() backoff.Policy {
	return backoff.Policy{
		Name: c.WorkerIdleBackoff.Policy,
		Base: millis(c.WorkerIdleBackoff.BaseMillis),
		Max:  millis(c.WorkerIdleBackoff.MaxMillis),
	}
}

func (c *Config) ReportStore() (reportstore.ProviderConfig, error) {
	raw, err := rawJSON(c.ReportStoreConfig)
	return reportstore.ProviderConfig{Type: c.ReportStoreType, Config: raw}, err
}

func (c *Config) ProducerAuth() (auth.ProviderConfig, error) {
	raw, err := rawJSON(c.ProducerAuthConfig)
	return auth.ProviderConfig{Type: c.ProducerAuthProvider, Config: raw}, err
}

// AdminAuth is empty when admin tokens go through the producer validator.
func (c *Config) AdminAuth() (auth.ProviderConfig, error) {
	raw, err := rawJSON(c.AdminAuthConfig)
	return auth.ProviderConfig{Type: c.AdminAuthProvider, Config: raw}, err
}

// SettingsDefaults returns the global quality gate defaults as settings keys.
func (c *Config) SettingsDefaults() settings.Defaults {
	out := settings.Defaults{}
	if v := c.QualityGate.MaxBlockerIssues; v != nil {
		out[settings.KeyMaxBlockerIssues] = strconv.Itoa(*v)
	}
	if v := c.QualityGate.MaxCriticalIssues; v != nil {
		out[settings.KeyMaxCriticalIssues] = strconv.Itoa(*v)
	}
	if v := c.QualityGate.MinCoverage; v != nil {
		out[settings.KeyMinCoverage] = strconv.FormatFloat(*v, 'f', -1, 64)
	}
	return out
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envJSON accepts a JSON document; anything else is kept as a plain string.
func envJSON(key string, dst *any) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err != nil {
		parsed = v
	}
	*dst = parsed
}
