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

// Package storage provides persistence backends for the scheduler.
//
// # Interface Hierarchy
//
// The package uses interface segregation to allow minimal implementations:
//
//   - InstanceStore (core, required): snapshot upsert and lookup
//   - EventStore (core, required): append-only event log per instance
//   - WorkflowStore: registered workflow configurations and trigger cursors
//   - io.Closer: lifecycle management
//
// The Store interface composes all of these for full-featured backends.
// Components can accept the narrow interfaces for minimal requirements;
// tests typically fake only what they need.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

var (
	// ErrDuplicateEvent is returned by AppendEvent when an event for the
	// same instance and counter already exists. The counter is the
	// serialization witness for an instance, so a duplicate indicates two
	// writers raced.
	ErrDuplicateEvent = errors.New("storage: duplicate event")
)

// InstanceSnapshot is the persisted form of a run state. It carries exactly
// the fields needed to restore the state via state.Create.
type InstanceSnapshot struct {
	Instance        model.WorkflowInstance `json:"workflow_instance"`
	State           state.State            `json:"state"`
	TimestampMillis int64                  `json:"timestamp_ms"`
	Counter         int64                  `json:"counter"`
	Data            state.StateData        `json:"data"`
}

// RunState rebuilds the in-memory state from the snapshot.
func (s InstanceSnapshot) RunState() state.RunState {
	return state.Create(s.Instance, s.State, s.Data, s.TimestampMillis, s.Counter)
}

// SnapshotOf captures a run state for persistence.
func SnapshotOf(rs state.RunState) InstanceSnapshot {
	return InstanceSnapshot{
		Instance:        rs.Instance(),
		State:           rs.State(),
		TimestampMillis: rs.TimestampMillis(),
		Counter:         rs.Counter(),
		Data:            rs.Data(),
	}
}

// EventRecord is one row of the per-instance event log.
type EventRecord struct {
	Instance        model.WorkflowInstance `json:"workflow_instance"`
	Counter         int64                  `json:"counter"`
	TimestampMillis int64                  `json:"timestamp_ms"`
	Event           model.Event            `json:"event"`
}

// WorkflowRecord is a registered workflow plus its trigger cursor. The
// cursor is the next natural trigger instant; nil means the scheduler has
// not initialized it yet (or the workflow has no schedule).
type WorkflowRecord struct {
	Workflow    model.Workflow `json:"workflow"`
	NextTrigger *time.Time     `json:"next_trigger,omitempty"`
}

// InstanceFilter contains filtering options for listing instance snapshots.
type InstanceFilter struct {
	// State restricts results to instances in this state. Empty matches all.
	State state.State

	// Active restricts results to non-terminal instances.
	Active bool

	// Limit bounds the number of results. Zero means no limit.
	Limit int
}

// InstanceStore is the core interface for run-state snapshots.
type InstanceStore interface {
	// SaveInstance inserts or replaces the snapshot for an instance.
	SaveInstance(ctx context.Context, snapshot InstanceSnapshot) error

	// GetInstance retrieves the snapshot for an instance.
	// Returns *errors.NotFoundError when no snapshot exists.
	GetInstance(ctx context.Context, instance model.WorkflowInstance) (InstanceSnapshot, error)

	// ListInstances lists snapshots matching the filter, ordered by
	// instance key.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]InstanceSnapshot, error)

	// DeleteInstance removes the snapshot for an instance. Deleting a
	// missing instance is not an error.
	DeleteInstance(ctx context.Context, instance model.WorkflowInstance) error
}

// EventStore is the append-only event log.
type EventStore interface {
	// AppendEvent appends one event row. The (instance, counter) pair is
	// unique; a second append at the same counter returns ErrDuplicateEvent.
	AppendEvent(ctx context.Context, record EventRecord) error

	// ListEvents returns an instance's event log in counter order.
	ListEvents(ctx context.Context, instance model.WorkflowInstance) ([]EventRecord, error)

	// LatestEventCounter returns the highest counter in the instance's
	// event log, or state.NoEventsProcessed when the log is empty. A new
	// run of a previously completed instance continues the log from here
	// rather than reusing counters.
	LatestEventCounter(ctx context.Context, instance model.WorkflowInstance) (int64, error)
}

// WorkflowStore holds registered workflow configurations.
type WorkflowStore interface {
	// SaveWorkflow inserts or updates a workflow configuration. An
	// existing trigger cursor is preserved.
	SaveWorkflow(ctx context.Context, workflow model.Workflow) error

	// GetWorkflow retrieves a workflow and its trigger cursor.
	// Returns *errors.NotFoundError when the workflow is not registered.
	GetWorkflow(ctx context.Context, id model.WorkflowID) (WorkflowRecord, error)

	// ListWorkflows returns all registered workflows ordered by id.
	ListWorkflows(ctx context.Context) ([]WorkflowRecord, error)

	// DeleteWorkflow removes a workflow. Deleting a missing workflow is
	// not an error.
	DeleteWorkflow(ctx context.Context, id model.WorkflowID) error

	// SetNextTrigger advances the workflow's trigger cursor.
	SetNextTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error
}

// Store defines the full interface for scheduler storage.
type Store interface {
	InstanceStore
	EventStore
	WorkflowStore
	io.Closer
}
