// Copyright 2026 The Ratchet Authors
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

// Package config loads and validates ratchetd configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	ratcheterrors "github.com/ratchetworks/ratchet/pkg/errors"
	"github.com/ratchetworks/ratchet/pkg/state"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete ratchetd configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Runner    RunnerConfig    `yaml:"runner"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Environment: RATCHET_SHUTDOWN_TIMEOUT
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig configures the persistence backend.
type StorageConfig struct {
	// Type is the backend type: "sqlite" or "memory".
	// Default: sqlite
	Type string `yaml:"type,omitempty"`

	// Path is the SQLite database path (for type=sqlite).
	// Environment: RATCHET_DB_PATH
	// Default: $XDG_DATA_HOME/ratchet/ratchet.db (or ~/.ratchet/data/ratchet.db)
	Path string `yaml:"path,omitempty"`

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	// Default: true
	WAL bool `yaml:"wal"`
}

// MetricsConfig configures the Prometheus metrics listener.
type MetricsConfig struct {
	// Enabled controls whether the /metrics listener is started.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Listen is the address the metrics server binds to.
	// Environment: RATCHET_METRICS_LISTEN
	// Default: 127.0.0.1:9464
	Listen string `yaml:"listen,omitempty"`
}

// SchedulerConfig tunes the trigger, dequeue and timeout sweeps.
type SchedulerConfig struct {
	// TickInterval is how often the scheduler sweeps.
	// Environment: RATCHET_TICK_INTERVAL
	// Default: 1s
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`

	// TriggersEnabled controls the natural-trigger sweep. Disable for
	// deployments that only replay or receive externally triggered work.
	// Default: true
	TriggersEnabled bool `yaml:"triggers_enabled"`

	// DequeueRate is the global dequeue rate limit in instances per second.
	// Default: 50
	DequeueRate float64 `yaml:"dequeue_rate,omitempty"`

	// DequeueBurst is the rate limiter burst size.
	// Default: 10
	DequeueBurst int `yaml:"dequeue_burst,omitempty"`

	// RetryBaseDelay is the base delay for exponential retry backoff.
	// Default: 1m
	RetryBaseDelay time.Duration `yaml:"retry_base_delay,omitempty"`

	// MaxRetryExponent caps the backoff exponent, bounding the maximum
	// retry delay at retry_base_delay * 2^max_retry_exponent.
	// Default: 6
	MaxRetryExponent int `yaml:"max_retry_exponent,omitempty"`

	// MissingDepsDelay is the fixed retry delay after a missing-dependencies
	// exit (exit code 20).
	// Default: 10m
	MissingDepsDelay time.Duration `yaml:"missing_deps_delay,omitempty"`

	// MaxRetryCost stops retrying an instance once its accumulated retry
	// cost reaches this budget.
	// Default: 50.0
	MaxRetryCost float64 `yaml:"max_retry_cost,omitempty"`

	// Resources declares global concurrency limits, keyed by resource
	// name. Workflows reference these names in their resources list; an
	// undeclared resource is unlimited.
	Resources map[string]int `yaml:"resources,omitempty"`
}

// RunnerConfig configures the local execution runner.
type RunnerConfig struct {
	// ID names this runner in Submitted events and execution logs.
	// Default: local
	ID string `yaml:"id,omitempty"`

	// LogDir is where execution stdout and stderr are captured, one file
	// per execution id. Empty leaves executions attached to the daemon's
	// own stdio.
	// Environment: RATCHET_EXECUTION_LOG_DIR
	LogDir string `yaml:"log_dir,omitempty"`
}

// TimeoutsConfig declares how long an instance may sit in a state before
// the timeout supervisor fails it.
type TimeoutsConfig struct {
	// Default is the TTL applied to states without a specific entry.
	// Default: 24h
	Default time.Duration `yaml:"default,omitempty"`

	// TTLs overrides the default per state, keyed by lowercase state name
	// (e.g. "running", "submitting"). A workflow's running_timeout takes
	// precedence over the "running" entry.
	TTLs map[string]time.Duration `yaml:"ttls,omitempty"`
}

// StateTTLs resolves the per-state override table into state keys.
// Validate rejects unknown state names, so resolution cannot fail after a
// successful Load.
func (t TimeoutsConfig) StateTTLs() map[state.State]time.Duration {
	out := make(map[state.State]time.Duration, len(t.TTLs))
	for name, ttl := range t.TTLs {
		if st, err := state.ParseState(strings.ToUpper(name)); err == nil {
			out[st] = ttl
		}
	}
	return out
}

// WorkflowsConfig configures the workflow definition registry.
type WorkflowsConfig struct {
	// Dir is the directory to search for workflow definition files.
	// Environment: RATCHET_WORKFLOWS_DIR
	// Default: ./workflows
	Dir string `yaml:"dir,omitempty"`

	// Patterns are doublestar glob patterns matched against paths
	// relative to Dir.
	// Default: ["**/*.yaml", "**/*.yml"]
	Patterns []string `yaml:"patterns,omitempty"`

	// Watch enables hot reload of workflow definitions on file changes.
	// Default: true
	Watch bool `yaml:"watch"`

	// DebounceInterval coalesces bursts of file events into one reload.
	// Default: 500ms
	DebounceInterval time.Duration `yaml:"debounce_interval,omitempty"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: RATCHET_LOG_LEVEL, LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled activates span export.
	// Environment: RATCHET_TRACING_ENABLED
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces.
	// Default: ratchet
	ServiceName string `yaml:"service_name,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type: "sqlite",
			Path: filepath.Join(defaultDataDir(), "ratchet.db"),
			WAL:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
		Scheduler: SchedulerConfig{
			TickInterval:     time.Second,
			TriggersEnabled:  true,
			DequeueRate:      50,
			DequeueBurst:     10,
			RetryBaseDelay:   time.Minute,
			MaxRetryExponent: 6,
			MissingDepsDelay: 10 * time.Minute,
			MaxRetryCost:     50.0,
		},
		Runner: RunnerConfig{
			ID: "local",
		},
		Timeouts: TimeoutsConfig{
			Default: 24 * time.Hour,
			TTLs:    nil, // Per-state overrides are opt-in
		},
		Workflows: WorkflowsConfig{
			Dir:              "./workflows",
			Patterns:         []string{"**/*.yaml", "**/*.yml"},
			Watch:            true,
			DebounceInterval: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Tracing: TracingConfig{
			Enabled:     false, // Opt-in
			ServiceName: "ratchet",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load loads configuration from defaults, an optional YAML file, and
// environment variables, in increasing order of precedence.
// If configPath is empty, only defaults and environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &ratcheterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	// Override with environment variables
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &ratcheterrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults.
// This allows minimal configs (e.g. just a workflows dir) to work without
// specifying all fields explicitly.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Storage.Type == "" {
		c.Storage.Type = defaults.Storage.Type
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = defaults.Metrics.Listen
	}

	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = defaults.Scheduler.TickInterval
	}
	if c.Scheduler.DequeueRate == 0 {
		c.Scheduler.DequeueRate = defaults.Scheduler.DequeueRate
	}
	if c.Scheduler.DequeueBurst == 0 {
		c.Scheduler.DequeueBurst = defaults.Scheduler.DequeueBurst
	}
	if c.Scheduler.RetryBaseDelay == 0 {
		c.Scheduler.RetryBaseDelay = defaults.Scheduler.RetryBaseDelay
	}
	if c.Scheduler.MaxRetryExponent == 0 {
		c.Scheduler.MaxRetryExponent = defaults.Scheduler.MaxRetryExponent
	}
	if c.Scheduler.MissingDepsDelay == 0 {
		c.Scheduler.MissingDepsDelay = defaults.Scheduler.MissingDepsDelay
	}
	if c.Scheduler.MaxRetryCost == 0 {
		c.Scheduler.MaxRetryCost = defaults.Scheduler.MaxRetryCost
	}

	if c.Runner.ID == "" {
		c.Runner.ID = defaults.Runner.ID
	}

	if c.Timeouts.Default == 0 {
		c.Timeouts.Default = defaults.Timeouts.Default
	}

	if c.Workflows.Dir == "" {
		c.Workflows.Dir = defaults.Workflows.Dir
	}
	if len(c.Workflows.Patterns) == 0 {
		c.Workflows.Patterns = defaults.Workflows.Patterns
	}
	if c.Workflows.DebounceInterval == 0 {
		c.Workflows.DebounceInterval = defaults.Workflows.DebounceInterval
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
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
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Storage configuration
	if val := os.Getenv("RATCHET_DB_PATH"); val != "" {
		c.Storage.Path = val
	}

	// Metrics configuration
	if val := os.Getenv("RATCHET_METRICS_LISTEN"); val != "" {
		c.Metrics.Listen = val
	}

	// Scheduler configuration
	if val := os.Getenv("RATCHET_TICK_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Scheduler.TickInterval = duration
		}
	}

	// Runner configuration
	if val := os.Getenv("RATCHET_EXECUTION_LOG_DIR"); val != "" {
		c.Runner.LogDir = val
	}

	// Workflows configuration
	if val := os.Getenv("RATCHET_WORKFLOWS_DIR"); val != "" {
		c.Workflows.Dir = val
	}

	// Log configuration. RATCHET_LOG_LEVEL wins over the generic LOG_LEVEL.
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("RATCHET_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	// Tracing configuration
	if val := os.Getenv("RATCHET_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = val == "1" || strings.ToLower(val) == "true"
	}

	// Shutdown configuration
	if val := os.Getenv("RATCHET_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.ShutdownTimeout = duration
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Validate storage configuration
	switch c.Storage.Type {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required when storage.type is sqlite")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage.type must be one of [sqlite, memory], got %q", c.Storage.Type))
	}

	// Validate metrics configuration
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics.enabled is true")
	}

	// Validate scheduler configuration
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.tick_interval must be positive, got %v", c.Scheduler.TickInterval))
	}
	if c.Scheduler.DequeueRate <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.dequeue_rate must be positive, got %v", c.Scheduler.DequeueRate))
	}
	if c.Scheduler.DequeueBurst < 1 {
		errs = append(errs, fmt.Sprintf("scheduler.dequeue_burst must be at least 1, got %d", c.Scheduler.DequeueBurst))
	}
	if c.Scheduler.RetryBaseDelay <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.retry_base_delay must be positive, got %v", c.Scheduler.RetryBaseDelay))
	}
	if c.Scheduler.MaxRetryExponent < 0 || c.Scheduler.MaxRetryExponent > 30 {
		errs = append(errs, fmt.Sprintf("scheduler.max_retry_exponent must be between 0 and 30, got %d", c.Scheduler.MaxRetryExponent))
	}
	if c.Scheduler.MissingDepsDelay <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.missing_deps_delay must be positive, got %v", c.Scheduler.MissingDepsDelay))
	}
	if c.Scheduler.MaxRetryCost <= 0 {
		errs = append(errs, fmt.Sprintf("scheduler.max_retry_cost must be positive, got %v", c.Scheduler.MaxRetryCost))
	}
	for name, limit := range c.Scheduler.Resources {
		if name == "" {
			errs = append(errs, "scheduler.resources has an empty resource name")
		}
		if limit < 1 {
			errs = append(errs, fmt.Sprintf("scheduler.resources[%q] must be at least 1, got %d", name, limit))
		}
	}

	// Validate runner configuration
	if c.Runner.ID == "" {
		errs = append(errs, "runner.id must not be empty")
	}

	// Validate timeout configuration
	if c.Timeouts.Default <= 0 {
		errs = append(errs, fmt.Sprintf("timeouts.default must be positive, got %v", c.Timeouts.Default))
	}
	for name, ttl := range c.Timeouts.TTLs {
		if _, err := state.ParseState(strings.ToUpper(name)); err != nil {
			errs = append(errs, fmt.Sprintf("timeouts.ttls has unknown state %q", name))
		}
		if ttl <= 0 {
			errs = append(errs, fmt.Sprintf("timeouts.ttls[%q] must be positive, got %v", name, ttl))
		}
	}

	// Validate workflows configuration
	if c.Workflows.Dir == "" {
		errs = append(errs, "workflows.dir must not be empty")
	}
	for _, pattern := range c.Workflows.Patterns {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Sprintf("workflows.patterns has invalid pattern %q", pattern))
		}
	}
	if c.Workflows.DebounceInterval <= 0 {
		errs = append(errs, fmt.Sprintf("workflows.debounce_interval must be positive, got %v", c.Workflows.DebounceInterval))
	}

	// Validate log configuration
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	// Validate shutdown configuration
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown_timeout must be positive, got %v", c.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	// Use XDG_DATA_HOME if available
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "ratchet")
	}

	// Fall back to ~/.ratchet/data
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/ratchet-data"
	}

	return filepath.Join(homeDir, ".ratchet", "data")
}
