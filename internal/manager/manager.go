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

// Package manager hosts the run-state machine: it serializes events per
// instance, persists every applied event before output handlers observe it,
// and keeps the in-memory map of active runs.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// Manager applies events to run states with a single-writer guarantee per
// instance. The in-memory map holds the active (non-terminal) runs; storage
// holds the event log and the snapshot of every run, terminal ones included.
//
// Writes go through a per-instance mutex: read current state, apply the pure
// transition, persist event and snapshot, then swap the in-memory value.
// Persistence failure aborts the transition; the state does not advance.
// Output handlers run after the instance lock is released, so a handler may
// post follow-up events without deadlocking.
type Manager struct {
	store  storage.Store
	logger *slog.Logger
	tracer trace.Tracer
	clock  state.Clock

	mu     sync.RWMutex
	states map[string]state.RunState
	// Per-instance write locks. Entries are never removed: a removed lock
	// could be re-created while a goroutine still holds the old one, giving
	// two writers for the same instance.
	locks  map[string]*sync.Mutex
	closed bool

	handlerMu sync.RWMutex
	handlers  []state.OutputHandler
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(clock state.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// New creates a Manager on top of the given store. Output handlers are
// attached afterwards with AddOutputHandler; handlers usually need the
// manager to post events back, so they cannot exist before it does.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: log.WithComponent(logger, "manager"),
		tracer: otel.Tracer("ratchet/manager"),
		clock:  state.SystemClock,
		states: make(map[string]state.RunState),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddOutputHandler registers a handler to run after every applied event.
// Handlers run in registration order with the post-transition state.
func (m *Manager) AddOutputHandler(h state.OutputHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Receive applies an event at whatever counter the instance is currently at.
func (m *Manager) Receive(ctx context.Context, event model.Event) error {
	return m.receive(ctx, event, nil)
}

// ReceiveCounted applies an event only if the instance's counter still equals
// expectedCounter, rejecting with *StaleEventError otherwise. This is the
// optimistic-concurrency entry for callers acting on a snapshot they read
// earlier, like the timeout supervisor.
func (m *Manager) ReceiveCounted(ctx context.Context, event model.Event, expectedCounter int64) error {
	return m.receive(ctx, event, &expectedCounter)
}

// ReceiveIgnoreClosed is ReceiveCounted for callers that race run completion:
// "instance not active" and "manager closed" outcomes are swallowed, stale
// counters and real failures still surface.
func (m *Manager) ReceiveIgnoreClosed(ctx context.Context, event model.Event, expectedCounter int64) error {
	err := m.ReceiveCounted(ctx, event, expectedCounter)
	if IsNotActive(err) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Trigger starts a fresh run: it creates the NEW state and feeds the
// TriggerExecution event through the normal path. A re-trigger of a
// previously completed instance continues the persisted event counter, so
// the new run's events extend the archived log instead of colliding with
// it. Returns ErrAlreadyActive when the instance already has an active run.
func (m *Manager) Trigger(ctx context.Context, instance model.WorkflowInstance, trigger model.Trigger, params model.TriggerParameters) error {
	key := instance.String()

	lock, err := m.instanceLock(key)
	if err != nil {
		return err
	}
	lock.Lock()

	m.mu.RLock()
	closed := m.closed
	_, active := m.states[key]
	m.mu.RUnlock()
	if closed {
		lock.Unlock()
		return ErrClosed
	}
	if active {
		lock.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyActive, instance)
	}

	latest, err := m.store.LatestEventCounter(ctx, instance)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("failed to read latest event counter: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		lock.Unlock()
		return ErrClosed
	}
	fresh := state.Create(instance, state.StateNew, state.ZeroData(), m.clock().UnixMilli(), latest)
	m.states[key] = fresh
	recordActiveInstances(len(m.states))
	m.mu.Unlock()

	event := model.TriggerExecution{WorkflowInstance: instance, Trigger: trigger, Parameters: params}
	next, err := m.apply(ctx, key, event, nil)
	if err != nil {
		// Nothing was persisted; drop the fresh state again so a later
		// Trigger can retry cleanly.
		m.mu.Lock()
		delete(m.states, key)
		recordActiveInstances(len(m.states))
		m.mu.Unlock()
		lock.Unlock()
		return err
	}
	lock.Unlock()

	m.fanOut(ctx, next)
	return nil
}

// receive runs the locked apply and then the handler fan-out.
func (m *Manager) receive(ctx context.Context, event model.Event, expectedCounter *int64) error {
	key := event.Instance().String()

	lock, err := m.instanceLock(key)
	if err != nil {
		return err
	}

	lock.Lock()
	next, err := m.apply(ctx, key, event, expectedCounter)
	lock.Unlock()
	if err != nil {
		return err
	}

	m.fanOut(ctx, next)
	return nil
}

// apply performs one transition under the instance lock: counter check, pure
// transition, persist, swap in memory. Terminal results are archived: the
// final snapshot stays in storage but the instance leaves the active map.
func (m *Manager) apply(ctx context.Context, key string, event model.Event, expectedCounter *int64) (state.RunState, error) {
	start := time.Now()

	ctx, span := m.tracer.Start(ctx, "manager.receive: "+string(event.Type()),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.instance", key),
			attribute.String("run.event", string(event.Type())),
		),
	)
	defer span.End()

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		span.SetStatus(codes.Error, "manager closed")
		recordEventRejected(string(event.Type()), "closed")
		return state.RunState{}, ErrClosed
	}
	current, active := m.states[key]
	m.mu.RUnlock()

	if !active {
		err := &NotActiveError{Instance: event.Instance()}
		span.SetStatus(codes.Error, err.Error())
		recordEventRejected(string(event.Type()), "not_active")
		return state.RunState{}, err
	}

	if expectedCounter != nil && current.Counter() != *expectedCounter {
		err := &StaleEventError{
			Instance: current.Instance(),
			Expected: *expectedCounter,
			Actual:   current.Counter(),
		}
		span.SetStatus(codes.Error, err.Error())
		recordEventRejected(string(event.Type()), "stale_counter")
		return state.RunState{}, err
	}

	span.SetAttributes(attribute.String("run.state_from", string(current.State())))

	next, err := current.Transition(event, m.clock)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordEventRejected(string(event.Type()), "illegal_transition")
		return state.RunState{}, err
	}

	if err := m.persist(ctx, next, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordEventRejected(string(event.Type()), "persistence")
		return state.RunState{}, err
	}

	m.mu.Lock()
	if next.State().Terminal() {
		delete(m.states, key)
	} else {
		m.states[key] = next
	}
	recordActiveInstances(len(m.states))
	m.mu.Unlock()

	span.SetAttributes(
		attribute.String("run.state_to", string(next.State())),
		attribute.Int64("run.counter", next.Counter()),
	)

	m.logger.Debug("event applied",
		log.String(log.InstanceKey, key),
		log.String(log.EventKey, string(event.Type())),
		log.String(log.StateKey, string(next.State())),
		log.Int64(log.CounterKey, next.Counter()),
	)
	recordEventApplied(string(event.Type()), string(next.State()), time.Since(start))

	return next, nil
}

// persist writes the event log row and the post-transition snapshot. Both
// must land before any output handler sees the new state.
func (m *Manager) persist(ctx context.Context, next state.RunState, event model.Event) error {
	record := storage.EventRecord{
		Instance:        next.Instance(),
		Counter:         next.Counter(),
		TimestampMillis: next.TimestampMillis(),
		Event:           event,
	}
	if err := m.store.AppendEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	if err := m.store.SaveInstance(ctx, storage.SnapshotOf(next)); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// fanOut offers the post-transition state to every output handler. Handler
// failures are logged and do not affect the already-committed transition;
// handlers own their retries (a runner failure, for example, comes back as a
// RunError event rather than an error here).
func (m *Manager) fanOut(ctx context.Context, rs state.RunState) {
	m.handlerMu.RLock()
	handlers := m.handlers
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		if err := h.TransitionInto(ctx, rs); err != nil {
			m.logger.Error("output handler failed",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.String(log.StateKey, string(rs.State())),
				log.Error(err),
			)
			recordHandlerError(string(rs.State()))
		}
	}
}

// GetRunState returns the active run for an instance, if any.
func (m *Manager) GetRunState(instance model.WorkflowInstance) (state.RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.states[instance.String()]
	return rs, ok
}

// ActiveStates returns a snapshot of all active runs. The scheduler's sweeps
// iterate this without holding manager locks; staleness is resolved by the
// counter when they post back.
func (m *Manager) ActiveStates() []state.RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]state.RunState, 0, len(m.states))
	for _, rs := range m.states {
		states = append(states, rs)
	}
	return states
}

// ActiveCount returns the number of active runs.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// IsActive reports whether the instance currently has an active run.
func (m *Manager) IsActive(instance model.WorkflowInstance) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[instance.String()]
	return ok
}

// Restore loads every non-terminal snapshot from storage into the active
// map. Called once at startup, before the scheduler and handlers run.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	snapshots, err := m.store.ListInstances(ctx, storage.InstanceFilter{Active: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list active instances: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, snapshot := range snapshots {
		m.states[snapshot.Instance.String()] = snapshot.RunState()
	}
	recordActiveInstances(len(m.states))

	m.logger.Info("restored active runs", log.Int("count", len(snapshots)))
	return len(snapshots), nil
}

// Close stops event intake. In-flight applies finish; later receives get
// ErrClosed. The store is owned by the caller and stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// instanceLock returns the write lock for an instance key, creating it on
// first use.
func (m *Manager) instanceLock(key string) (*sync.Mutex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock, nil
}
