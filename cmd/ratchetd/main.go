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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ratchetworks/ratchet/internal/config"
	"github.com/ratchetworks/ratchet/internal/daemon"
	"github.com/ratchetworks/ratchet/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath    = flag.String("config", "", "Path to configuration file")
		storageType   = flag.String("storage", "", "Storage backend (memory, sqlite)")
		dbPath        = flag.String("db", "", "SQLite database path")
		workflowsDir  = flag.String("workflows-dir", "", "Directory for workflow definition files")
		metricsListen = flag.String("metrics-listen", "", "Prometheus metrics listen address")
		noTriggers    = flag.Bool("no-triggers", false, "Disable natural trigger firing (dequeue still runs)")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ratchetd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	// Load daemon configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *storageType != "" {
		cfg.Storage.Type = *storageType
	}
	if *dbPath != "" {
		cfg.Storage.Type = "sqlite"
		cfg.Storage.Path = *dbPath
	}
	if *workflowsDir != "" {
		cfg.Workflows.Dir = *workflowsDir
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}
	if *noTriggers {
		cfg.Scheduler.TriggersEnabled = false
	}

	// Create daemon instance
	d, err := daemon.New(cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start daemon
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
