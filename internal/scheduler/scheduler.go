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

// Package scheduler runs the periodic sweeps that move runs forward without
// an external stimulus: firing natural triggers for due partitions, dequeuing
// eligible QUEUED runs under resource limits, and offering every active run
// to the timeout supervisor.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// StateManager is the slice of the state manager the scheduler drives.
type StateManager interface {
	// ActiveStates returns a snapshot of all active runs.
	ActiveStates() []state.RunState

	// IsActive reports whether the instance currently has an active run.
	IsActive(instance model.WorkflowInstance) bool

	// Trigger starts a fresh run for an instance.
	Trigger(ctx context.Context, instance model.WorkflowInstance, trigger model.Trigger, params model.TriggerParameters) error

	// ReceiveIgnoreClosed posts an event guarded by the observed counter.
	ReceiveIgnoreClosed(ctx context.Context, event model.Event, expectedCounter int64) error
}

// Config tunes the sweep loop.
type Config struct {
	// TickInterval is how often the scheduler sweeps.
	TickInterval time.Duration

	// TriggersEnabled gates the natural-trigger sweep.
	TriggersEnabled bool

	// DequeueRate is the global dequeue rate limit in instances per second.
	DequeueRate float64

	// DequeueBurst is the rate limiter burst size.
	DequeueBurst int

	// Resources are global concurrency limits keyed by resource name.
	// Undeclared resources are unlimited.
	Resources map[string]int
}

// Scheduler owns the tick loop. Each tick runs three sweeps in order:
// natural triggers, dequeue, timeouts. Sweeps read snapshots and post events
// guarded by counters, so they tolerate racing the handlers that also drive
// runs forward.
type Scheduler struct {
	cfg     Config
	manager StateManager
	store   storage.WorkflowStore
	timeout state.OutputHandler
	limiter *rate.Limiter
	clock   state.Clock
	shuffle func(n int, swap func(i, j int))
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(clock state.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithShuffle replaces the dequeue fairness shuffle. Tests pass a no-op to
// keep candidate order stable.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(s *Scheduler) {
		s.shuffle = shuffle
	}
}

// New creates a Scheduler. The timeout handler receives every active
// snapshot once per tick, in addition to the per-transition fan-out the
// manager already gives it.
func New(cfg Config, mgr StateManager, store storage.WorkflowStore, timeout state.OutputHandler, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		manager: mgr,
		store:   store,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.DequeueRate), cfg.DequeueBurst),
		clock:   state.SystemClock,
		shuffle: defaultShuffle,
		logger:  log.WithComponent(logger, "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

// run is the tick loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one round of sweeps.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock()

	if s.cfg.TriggersEnabled {
		s.sweepTriggers(ctx, now)
	}
	s.sweepDequeue(ctx, now)
	s.sweepTimeouts(ctx)
}

// sweepTimeouts offers every active snapshot to the timeout supervisor, so
// runs that receive no events still time out.
func (s *Scheduler) sweepTimeouts(ctx context.Context) {
	start := time.Now()
	defer func() { recordSweep("timeouts", time.Since(start)) }()

	for _, rs := range s.manager.ActiveStates() {
		if err := s.timeout.TransitionInto(ctx, rs); err != nil {
			s.logger.Error("timeout sweep failed for instance",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.Error(err),
			)
		}
	}
}
