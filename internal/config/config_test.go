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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ratchetworks/ratchet/pkg/state"
)

var configEnvVars = []string{
	"RATCHET_DB_PATH",
	"RATCHET_METRICS_LISTEN",
	"RATCHET_TICK_INTERVAL",
	"RATCHET_EXECUTION_LOG_DIR",
	"RATCHET_WORKFLOWS_DIR",
	"RATCHET_LOG_LEVEL",
	"RATCHET_TRACING_ENABLED",
	"RATCHET_SHUTDOWN_TIMEOUT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LOG_SOURCE",
	"XDG_DATA_HOME",
}

func saveEnv() map[string]string {
	saved := make(map[string]string)
	for _, key := range configEnvVars {
		if val, ok := os.LookupEnv(key); ok {
			saved[key] = val
		}
	}
	return saved
}

func restoreEnv(saved map[string]string) {
	for _, key := range configEnvVars {
		if val, ok := saved[key]; ok {
			os.Setenv(key, val)
		} else {
			os.Unsetenv(key)
		}
	}
}

func clearConfigEnv() {
	for _, key := range configEnvVars {
		os.Unsetenv(key)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	// Storage defaults
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("expected storage type 'sqlite', got %q", cfg.Storage.Type)
	}
	if cfg.Storage.Path == "" {
		t.Errorf("expected non-empty default storage path")
	}
	if !cfg.Storage.WAL {
		t.Errorf("expected WAL enabled by default")
	}

	// Metrics defaults
	if !cfg.Metrics.Enabled {
		t.Errorf("expected metrics enabled by default")
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("expected metrics listen '127.0.0.1:9464', got %q", cfg.Metrics.Listen)
	}

	// Scheduler defaults
	if cfg.Scheduler.TickInterval != time.Second {
		t.Errorf("expected tick interval 1s, got %v", cfg.Scheduler.TickInterval)
	}
	if !cfg.Scheduler.TriggersEnabled {
		t.Errorf("expected triggers enabled by default")
	}
	if cfg.Scheduler.RetryBaseDelay != time.Minute {
		t.Errorf("expected retry base delay 1m, got %v", cfg.Scheduler.RetryBaseDelay)
	}
	if cfg.Scheduler.MaxRetryExponent != 6 {
		t.Errorf("expected max retry exponent 6, got %d", cfg.Scheduler.MaxRetryExponent)
	}
	if cfg.Scheduler.MissingDepsDelay != 10*time.Minute {
		t.Errorf("expected missing deps delay 10m, got %v", cfg.Scheduler.MissingDepsDelay)
	}
	if cfg.Scheduler.MaxRetryCost != 50.0 {
		t.Errorf("expected max retry cost 50.0, got %v", cfg.Scheduler.MaxRetryCost)
	}

	// Runner defaults
	if cfg.Runner.ID != "local" {
		t.Errorf("expected runner id 'local', got %q", cfg.Runner.ID)
	}
	if cfg.Runner.LogDir != "" {
		t.Errorf("expected no default execution log dir, got %q", cfg.Runner.LogDir)
	}

	// Timeout defaults
	if cfg.Timeouts.Default != 24*time.Hour {
		t.Errorf("expected default timeout 24h, got %v", cfg.Timeouts.Default)
	}

	// Workflows defaults
	if cfg.Workflows.Dir != "./workflows" {
		t.Errorf("expected workflows dir './workflows', got %q", cfg.Workflows.Dir)
	}
	if len(cfg.Workflows.Patterns) != 2 {
		t.Errorf("expected 2 default patterns, got %v", cfg.Workflows.Patterns)
	}
	if !cfg.Workflows.Watch {
		t.Errorf("expected watch enabled by default")
	}

	// Log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Log.Format)
	}

	// Tracing defaults
	if cfg.Tracing.Enabled {
		t.Errorf("expected tracing disabled by default")
	}
	if cfg.Tracing.ServiceName != "ratchet" {
		t.Errorf("expected service name 'ratchet', got %q", cfg.Tracing.ServiceName)
	}

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid storage type",
			modify: func(c *Config) {
				c.Storage.Type = "postgres"
			},
			wantErr: true,
			errText: "storage.type must be one of [sqlite, memory]",
		},
		{
			name: "sqlite without path",
			modify: func(c *Config) {
				c.Storage.Path = ""
			},
			wantErr: true,
			errText: "storage.path is required",
		},
		{
			name: "memory without path is fine",
			modify: func(c *Config) {
				c.Storage.Type = "memory"
				c.Storage.Path = ""
			},
			wantErr: false,
		},
		{
			name: "metrics enabled without listen",
			modify: func(c *Config) {
				c.Metrics.Listen = ""
			},
			wantErr: true,
			errText: "metrics.listen is required",
		},
		{
			name: "invalid tick interval",
			modify: func(c *Config) {
				c.Scheduler.TickInterval = -time.Second
			},
			wantErr: true,
			errText: "scheduler.tick_interval must be positive",
		},
		{
			name: "invalid dequeue rate",
			modify: func(c *Config) {
				c.Scheduler.DequeueRate = -1
			},
			wantErr: true,
			errText: "scheduler.dequeue_rate must be positive",
		},
		{
			name: "invalid retry exponent",
			modify: func(c *Config) {
				c.Scheduler.MaxRetryExponent = 31
			},
			wantErr: true,
			errText: "scheduler.max_retry_exponent must be between 0 and 30",
		},
		{
			name: "unknown timeout state",
			modify: func(c *Config) {
				c.Timeouts.TTLs = map[string]time.Duration{"sleeping": time.Hour}
			},
			wantErr: true,
			errText: `timeouts.ttls has unknown state "sleeping"`,
		},
		{
			name: "negative timeout ttl",
			modify: func(c *Config) {
				c.Timeouts.TTLs = map[string]time.Duration{"running": -time.Hour}
			},
			wantErr: true,
			errText: `timeouts.ttls["running"] must be positive`,
		},
		{
			name: "invalid workflow pattern",
			modify: func(c *Config) {
				c.Workflows.Patterns = []string{"[invalid"}
			},
			wantErr: true,
			errText: `workflows.patterns has invalid pattern "[invalid"`,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
			errText: "log.level must be one of [debug, info, warn, warning, error]",
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Log.Format = "invalid"
			},
			wantErr: true,
			errText: "log.format must be one of [json, text]",
		},
		{
			name: "invalid shutdown timeout",
			modify: func(c *Config) {
				c.ShutdownTimeout = 0
			},
			wantErr: true,
			errText: "shutdown_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error to contain %q, got %q", tt.errText, err.Error())
			}
		})
	}
}

func TestStateTTLs(t *testing.T) {
	cfg := TimeoutsConfig{
		Default: 24 * time.Hour,
		TTLs: map[string]time.Duration{
			"running":    48 * time.Hour,
			"submitting": 10 * time.Minute,
		},
	}

	ttls := cfg.StateTTLs()
	if ttls[state.StateRunning] != 48*time.Hour {
		t.Errorf("expected RUNNING ttl 48h, got %v", ttls[state.StateRunning])
	}
	if ttls[state.StateSubmitting] != 10*time.Minute {
		t.Errorf("expected SUBMITTING ttl 10m, got %v", ttls[state.StateSubmitting])
	}
	if _, ok := ttls[state.StateQueued]; ok {
		t.Errorf("expected no QUEUED entry")
	}
}

func TestLoadFromEnv(t *testing.T) {
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	envVars := map[string]string{
		"RATCHET_DB_PATH":           "/var/lib/ratchet/state.db",
		"RATCHET_METRICS_LISTEN":    "0.0.0.0:9999",
		"RATCHET_TICK_INTERVAL":     "5s",
		"RATCHET_EXECUTION_LOG_DIR": "/var/log/ratchet/runs",
		"RATCHET_WORKFLOWS_DIR":     "/etc/ratchet/workflows",
		"LOG_LEVEL":                 "debug",
		"LOG_FORMAT":                "text",
		"LOG_SOURCE":                "1",
		"RATCHET_TRACING_ENABLED":   "true",
		"RATCHET_SHUTDOWN_TIMEOUT":  "45s",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.Path != "/var/lib/ratchet/state.db" {
		t.Errorf("expected db path from env, got %q", cfg.Storage.Path)
	}
	if cfg.Metrics.Listen != "0.0.0.0:9999" {
		t.Errorf("expected metrics listen from env, got %q", cfg.Metrics.Listen)
	}
	if cfg.Scheduler.TickInterval != 5*time.Second {
		t.Errorf("expected tick interval 5s, got %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Runner.LogDir != "/var/log/ratchet/runs" {
		t.Errorf("expected execution log dir from env, got %q", cfg.Runner.LogDir)
	}
	if cfg.Workflows.Dir != "/etc/ratchet/workflows" {
		t.Errorf("expected workflows dir from env, got %q", cfg.Workflows.Dir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format 'text', got %q", cfg.Log.Format)
	}
	if !cfg.Log.AddSource {
		t.Errorf("expected log add_source true, got false")
	}
	if !cfg.Tracing.Enabled {
		t.Errorf("expected tracing enabled from env")
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("expected shutdown timeout 45s, got %v", cfg.ShutdownTimeout)
	}
}

func TestRatchetLogLevelPrecedence(t *testing.T) {
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	os.Setenv("LOG_LEVEL", "error")
	os.Setenv("RATCHET_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected RATCHET_LOG_LEVEL to win, got %q", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ratchetd.yaml")

	yamlContent := `
storage:
  type: sqlite
  path: /tmp/test-ratchet.db

metrics:
  enabled: true
  listen: 127.0.0.1:9191

scheduler:
  tick_interval: 2s
  triggers_enabled: true
  dequeue_rate: 25
  retry_base_delay: 30s
  max_retry_cost: 10

runner:
  id: dev-a
  log_dir: /var/log/ratchet/runs

timeouts:
  default: 12h
  ttls:
    running: 48h
    submitting: 10m

workflows:
  dir: /srv/workflows
  patterns:
    - "**/*.yaml"
  watch: true
  debounce_interval: 250ms

log:
  level: warn
  format: text

shutdown_timeout: 15s
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.Path != "/tmp/test-ratchet.db" {
		t.Errorf("expected storage path from file, got %q", cfg.Storage.Path)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9191" {
		t.Errorf("expected metrics listen from file, got %q", cfg.Metrics.Listen)
	}
	if cfg.Scheduler.TickInterval != 2*time.Second {
		t.Errorf("expected tick interval 2s, got %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.DequeueRate != 25 {
		t.Errorf("expected dequeue rate 25, got %v", cfg.Scheduler.DequeueRate)
	}
	if cfg.Scheduler.RetryBaseDelay != 30*time.Second {
		t.Errorf("expected retry base delay 30s, got %v", cfg.Scheduler.RetryBaseDelay)
	}
	if cfg.Scheduler.MaxRetryCost != 10 {
		t.Errorf("expected max retry cost 10, got %v", cfg.Scheduler.MaxRetryCost)
	}
	// DequeueBurst was not in the file; default applies
	if cfg.Scheduler.DequeueBurst != 10 {
		t.Errorf("expected default dequeue burst 10, got %d", cfg.Scheduler.DequeueBurst)
	}
	if cfg.Runner.ID != "dev-a" {
		t.Errorf("expected runner id from file, got %q", cfg.Runner.ID)
	}
	if cfg.Runner.LogDir != "/var/log/ratchet/runs" {
		t.Errorf("expected runner log dir from file, got %q", cfg.Runner.LogDir)
	}
	if cfg.Timeouts.Default != 12*time.Hour {
		t.Errorf("expected default timeout 12h, got %v", cfg.Timeouts.Default)
	}
	if cfg.Timeouts.TTLs["running"] != 48*time.Hour {
		t.Errorf("expected running ttl 48h, got %v", cfg.Timeouts.TTLs["running"])
	}
	if cfg.Workflows.Dir != "/srv/workflows" {
		t.Errorf("expected workflows dir from file, got %q", cfg.Workflows.Dir)
	}
	if cfg.Workflows.DebounceInterval != 250*time.Millisecond {
		t.Errorf("expected debounce 250ms, got %v", cfg.Workflows.DebounceInterval)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("expected shutdown timeout 15s, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ratchetd.yaml")

	yamlContent := `
workflows:
  dir: /srv/workflows
log:
  level: info
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env overrides file
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug' from env, got %q", cfg.Log.Level)
	}
	// Dir should use file value (no env var override set)
	if cfg.Workflows.Dir != "/srv/workflows" {
		t.Errorf("expected workflows dir from file, got %q", cfg.Workflows.Dir)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/ratchetd.yaml")
	if err == nil {
		t.Errorf("expected error for nonexistent file, got nil")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Errorf("expected error for invalid YAML, got nil")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid-config.yaml")

	yamlContent := `
storage:
  type: etcd
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	_, err := Load(configPath)
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "validation") {
		t.Errorf("expected validation error, got: %v", err)
	}
}
