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

// Package daemon assembles the run-state machine into the ratchetd process:
// storage, the state manager with its output handlers, the workflow registry
// with hot reload, the sweep scheduler, and the metrics listener.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ratchetworks/ratchet/internal/config"
	"github.com/ratchetworks/ratchet/internal/handlers"
	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/manager"
	"github.com/ratchetworks/ratchet/internal/registry"
	"github.com/ratchetworks/ratchet/internal/runner"
	"github.com/ratchetworks/ratchet/internal/scheduler"
	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/internal/storage/memory"
	"github.com/ratchetworks/ratchet/internal/storage/sqlite"
	"github.com/ratchetworks/ratchet/internal/tracing"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the ratchetd process. New wires the components; Start restores
// active runs, loads definitions and blocks until the context is canceled or
// a component fails; Shutdown tears everything down in dependency order.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store     storage.Store
	manager   *manager.Manager
	runner    *runner.LocalRunner
	registry  *registry.Registry
	watcher   *registry.Watcher
	scheduler *scheduler.Scheduler
	tracing   *tracing.Provider

	metrics   *http.Server
	metricsLn net.Listener

	mu      sync.Mutex
	started bool
}

// New creates a daemon from configuration. Nothing is started yet; storage
// is opened so configuration problems surface before Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})
	daemonLogger := log.WithComponent(logger, "daemon")

	tp, err := tracing.New(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "ratchetd",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	mgr := manager.New(store, logger)

	run := runner.NewLocalRunner(runner.LocalConfig{
		ID:     cfg.Runner.ID,
		LogDir: cfg.Runner.LogDir,
	}, mgr, logger)

	reg, err := registry.New(cfg.Workflows.Dir, cfg.Workflows.Patterns, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	timeout := handlers.NewTimeoutHandler(
		handlers.NewTimeoutConfig(cfg.Timeouts.Default, cfg.Timeouts.StateTTLs()),
		reg.Snapshot, mgr, state.SystemClock, logger,
	)

	// Handler order: observe first, then act. The execution handler drives
	// runs forward, the termination handler decides retries, the timeout
	// supervisor gets the per-transition view on top of its sweep.
	mgr.AddOutputHandler(handlers.NewLoggingHandler(logger))
	mgr.AddOutputHandler(handlers.NewMonitoringHandler())
	mgr.AddOutputHandler(handlers.NewExecutionHandler(reg.Snapshot, mgr, run, logger))
	mgr.AddOutputHandler(handlers.NewTerminationHandler(handlers.RetryPolicy{
		BaseDelay:        cfg.Scheduler.RetryBaseDelay,
		MaxExponent:      cfg.Scheduler.MaxRetryExponent,
		MissingDepsDelay: cfg.Scheduler.MissingDepsDelay,
		MaxCost:          cfg.Scheduler.MaxRetryCost,
	}, reg.Snapshot, mgr, logger))
	mgr.AddOutputHandler(timeout)

	sched := scheduler.New(scheduler.Config{
		TickInterval:    cfg.Scheduler.TickInterval,
		TriggersEnabled: cfg.Scheduler.TriggersEnabled,
		DequeueRate:     cfg.Scheduler.DequeueRate,
		DequeueBurst:    cfg.Scheduler.DequeueBurst,
		Resources:       cfg.Scheduler.Resources,
	}, mgr, store, timeout, logger)

	return &Daemon{
		cfg:       cfg,
		opts:      opts,
		logger:    daemonLogger,
		store:     store,
		manager:   mgr,
		runner:    run,
		registry:  reg,
		scheduler: sched,
		tracing:   tp,
	}, nil
}

// openStore creates the persistence backend.
func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	default:
		store, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: cfg.WAL})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	}
}

// Start brings the daemon up and blocks until ctx is canceled or the metrics
// listener fails. Callers run it on its own goroutine and call Shutdown when
// it returns.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("starting ratchetd",
		log.String("version", d.opts.Version),
		log.String("commit", d.opts.Commit),
		log.String("storage", d.cfg.Storage.Type),
	)

	restored, err := d.manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore active runs: %w", err)
	}

	result, err := d.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load workflow definitions: %w", err)
	}

	if d.cfg.Workflows.Watch {
		watcher, err := registry.NewWatcher(d.registry, d.cfg.Workflows.DebounceInterval, d.logger)
		if err != nil {
			return fmt.Errorf("failed to watch workflow directory: %w", err)
		}
		d.mu.Lock()
		d.watcher = watcher
		d.mu.Unlock()
		watcher.Start(ctx)
	}

	d.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	if d.cfg.Metrics.Enabled {
		if err := d.startMetrics(errCh); err != nil {
			return err
		}
	}

	d.logger.Info("ratchetd started",
		log.Int("restored_runs", restored),
		log.Int("workflows", result.Loaded),
		log.String("workflows_dir", d.cfg.Workflows.Dir),
	)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener failed: %w", err)
		}
		return nil
	}
}

// startMetrics binds the Prometheus listener and serves it in the
// background. Binding synchronously makes port conflicts a startup error
// instead of a log line.
func (d *Daemon) startMetrics(errCh chan<- error) error {
	ln, err := net.Listen("tcp", d.cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener on %s: %w", d.cfg.Metrics.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.mu.Lock()
	d.metrics = server
	d.metricsLn = ln
	d.mu.Unlock()

	go func() {
		errCh <- server.Serve(ln)
	}()

	d.logger.Info("metrics listener started", log.String("addr", ln.Addr().String()))
	return nil
}

// MetricsAddr returns the bound metrics address, or "" before Start.
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.metricsLn == nil {
		return ""
	}
	return d.metricsLn.Addr().String()
}

// Trigger starts an ad-hoc run of a registered workflow. This is the
// in-process trigger entry for embedders and tests; scheduled runs go
// through the scheduler's natural-trigger sweep.
func (d *Daemon) Trigger(ctx context.Context, instance model.WorkflowInstance) error {
	if _, ok := d.registry.Get(instance.WorkflowID); !ok {
		return fmt.Errorf("workflow %s is not registered", instance.WorkflowID)
	}
	trigger := model.AdhocTrigger("adhoc-" + uuid.NewString())
	return d.manager.Trigger(ctx, instance, trigger, model.TriggerParameters{})
}

// ActiveRunCount returns the number of active (non-terminal) runs.
func (d *Daemon) ActiveRunCount() int {
	return d.manager.ActiveCount()
}

// Shutdown tears the daemon down: stop producing events (scheduler,
// watcher), stop accepting them (manager), kill executions, then close the
// observability surfaces and storage. Safe to call once Start has returned
// or while it is blocked.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false

	d.logger.Info("graceful shutdown initiated",
		log.Int("active_runs", d.manager.ActiveCount()),
	)

	d.scheduler.Stop()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Error("watcher shutdown error", log.Error(err))
		}
	}

	// Close intake before killing executions: their exit notifications
	// degrade to no-ops instead of recording kill exit codes as failures.
	// Interrupted RUNNING runs are restored on the next start and reclaimed
	// by the timeout sweep.
	if err := d.manager.Close(); err != nil {
		d.logger.Error("manager shutdown error", log.Error(err))
	}
	if err := d.runner.Close(); err != nil {
		d.logger.Error("runner shutdown error", log.Error(err))
	}

	if d.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.ShutdownTimeout)
		defer cancel()
		if err := d.metrics.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("metrics listener shutdown error", log.Error(err))
		}
	}

	if err := d.tracing.Shutdown(ctx); err != nil {
		d.logger.Error("tracing shutdown error", log.Error(err))
	}

	if err := d.store.Close(); err != nil {
		d.logger.Error("storage close error", log.Error(err))
	}

	d.logger.Info("shutdown complete")
	return nil
}
