// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads stepflow settings from an optional YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/tracing"
	"github.com/tombee/stepflow/pkg/agent"
	"github.com/tombee/stepflow/pkg/errors"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the complete stepflow configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// EngineConfig configures workflow execution.
type EngineConfig struct {
	// MaxParallel bounds concurrent steps within a group. 0 means unbounded.
	MaxParallel int `yaml:"max_parallel"`

	// DefaultStepTimeout applies to steps without timeout_ms.
	// Default: 60s
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout"`

	// RetryDelay is the fixed pause between step attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AgentConfig holds defaults for agents declared without explicit settings.
type AgentConfig struct {
	// DefaultModel replaces an agent's model when the definition omits one.
	// Default: claude-3-sonnet
	DefaultModel string `yaml:"default_model"`

	// MaxTokens caps response length for agents that leave it unset.
	// Default: 4096
	MaxTokens int `yaml:"max_tokens"`

	// RequestsPerSecond limits model calls across all agents. 0 means
	// unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the rate limiter bucket size.
	// Default: 1
	Burst int `yaml:"burst"`
}

// StorageConfig selects where finished runs are kept.
type StorageConfig struct {
	// Backend is one of memory, sqlite, redis.
	// Default: memory
	Backend string `yaml:"backend"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: <config dir>/stepflow.db
	Path string `yaml:"path"`

	// WAL enables write-ahead logging.
	WAL bool `yaml:"wal"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	Prefix string        `yaml:"prefix"`
	RunTTL time.Duration `yaml:"run_ttl"`
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// File receives a text-format snapshot after each CLI run.
	File string `yaml:"file"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is one of none, stdout, otlp, otlp_http.
	// Default: none
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector address for the otlp exporters.
	Endpoint string `yaml:"endpoint"`

	Insecure bool `yaml:"insecure"`

	// ServiceName identifies this process in traces.
	// Default: stepflow
	ServiceName string `yaml:"service_name"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			DefaultStepTimeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			DefaultModel: "claude-3-sonnet",
			MaxTokens:    4096,
			Burst:        1,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Tracing: TracingConfig{
			Exporter:    tracing.ExporterNone,
			ServiceName: "stepflow",
		},
	}
}

// Load loads configuration from the file at configPath (if non-empty),
// then applies environment overrides and validates the result.
// Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load config from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &errors.ConfigError{
			Key:    "validation",
			Reason: "invalid configuration",
			Cause:  err,
		}
	}

	return cfg, nil
}

// LoadDefault loads the file at ConfigPath when it exists and otherwise
// falls back to defaults plus environment.
func LoadDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Load("")
	}
	if _, err := os.Stat(path); err != nil {
		return Load("")
	}
	return Load(path)
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyDefaults fills in values a file may have zeroed.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Engine.DefaultStepTimeout == 0 {
		c.Engine.DefaultStepTimeout = d.Engine.DefaultStepTimeout
	}
	if c.Agent.DefaultModel == "" {
		c.Agent.DefaultModel = d.Agent.DefaultModel
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = d.Agent.MaxTokens
	}
	if c.Agent.Burst == 0 {
		c.Agent.Burst = d.Agent.Burst
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLite.Path == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.SQLite.Path = filepath.Join(dir, "stepflow.db")
		}
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

// loadFromEnv overrides configuration with environment variables.
func (c *Config) loadFromEnv() {
	debug := os.Getenv("STEPFLOW_DEBUG")
	if debug == "true" || debug == "1" {
		c.Log.Level = "debug"
		c.Log.AddSource = true
	} else if level := os.Getenv("STEPFLOW_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	} else if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Log.Format = strings.ToLower(format)
	}
	if os.Getenv("LOG_SOURCE") == "1" {
		c.Log.AddSource = true
	}

	if v := os.Getenv("STEPFLOW_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxParallel = n
		}
	}
	if v := os.Getenv("STEPFLOW_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.DefaultStepTimeout = d
		}
	}
	if v := os.Getenv("STEPFLOW_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.RetryDelay = d
		}
	}

	if v := os.Getenv("STEPFLOW_DEFAULT_MODEL"); v != "" {
		c.Agent.DefaultModel = v
	}
	if v := os.Getenv("STEPFLOW_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Agent.RequestsPerSecond = f
		}
	}

	if v := os.Getenv("STEPFLOW_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STEPFLOW_SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}
	if v := os.Getenv("STEPFLOW_REDIS_URL"); v != "" {
		c.Storage.Redis.URL = v
	}

	if v := os.Getenv("STEPFLOW_METRICS_FILE"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.File = v
	}

	if v := os.Getenv("STEPFLOW_TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = strings.ToLower(v)
		c.Tracing.Enabled = c.Tracing.Exporter != tracing.ExporterNone
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of trace, debug, info, warn, error (got %q)", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text (got %q)", c.Log.Format))
	}

	if c.Engine.MaxParallel < 0 {
		errs = append(errs, "engine.max_parallel must be non-negative")
	}
	if c.Engine.DefaultStepTimeout < 0 {
		errs = append(errs, "engine.default_step_timeout must be non-negative")
	}
	if c.Engine.RetryDelay < 0 {
		errs = append(errs, "engine.retry_delay must be non-negative")
	}

	if c.Agent.MaxTokens < 0 {
		errs = append(errs, "agent.max_tokens must be non-negative")
	}
	if c.Agent.RequestsPerSecond < 0 {
		errs = append(errs, "agent.requests_per_second must be non-negative")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, "storage.sqlite.path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Storage.Redis.URL == "" {
			errs = append(errs, "storage.redis.url is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be one of memory, sqlite, redis (got %q)", c.Storage.Backend))
	}

	switch c.Tracing.Exporter {
	case tracing.ExporterNone, tracing.ExporterStdout:
	case tracing.ExporterOTLP, tracing.ExporterOTLPHTTP:
		if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
			errs = append(errs, "tracing.endpoint is required for the otlp exporters")
		}
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of none, stdout, otlp, otlp_http (got %q)", c.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig converts the log section for log.New.
func (c *Config) LogConfig() *log.Config {
	lc := log.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = log.Format(c.Log.Format)
	lc.AddSource = c.Log.AddSource
	return lc
}

// AgentDefaults returns the fallback model settings for declared agents.
func (c *Config) AgentDefaults() agent.Config {
	return agent.Config{
		Model:     c.Agent.DefaultModel,
		MaxTokens: c.Agent.MaxTokens,
	}.WithDefaults()
}

// TracingConfig converts the tracing section for tracing.NewProvider.
func (c *Config) TracingConfig(version string) tracing.Config {
	return tracing.Config{
		Enabled:        c.Tracing.Enabled,
		ServiceName:    c.Tracing.ServiceName,
		ServiceVersion: version,
		Exporter:       c.Tracing.Exporter,
		Endpoint:       c.Tracing.Endpoint,
		Insecure:       c.Tracing.Insecure,
	}
}
