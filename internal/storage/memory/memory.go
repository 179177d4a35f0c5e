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

// Package memory provides an in-memory storage implementation for tests and
// ephemeral single-process deployments. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ratchetworks/ratchet/internal/storage"
	ratcheterrors "github.com/ratchetworks/ratchet/pkg/errors"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// Compile-time interface assertions.
var (
	_ storage.InstanceStore = (*Store)(nil)
	_ storage.EventStore    = (*Store)(nil)
	_ storage.WorkflowStore = (*Store)(nil)
	_ storage.Store         = (*Store)(nil)
)

// Store keeps all records in process memory, guarded by a single lock.
type Store struct {
	mu        sync.RWMutex
	instances map[string]storage.InstanceSnapshot
	events    map[string][]storage.EventRecord
	workflows map[string]storage.WorkflowRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		instances: make(map[string]storage.InstanceSnapshot),
		events:    make(map[string][]storage.EventRecord),
		workflows: make(map[string]storage.WorkflowRecord),
	}
}

// SaveInstance inserts or replaces the snapshot for an instance.
func (s *Store) SaveInstance(_ context.Context, snapshot storage.InstanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.Data = snapshot.Data.Clone()
	s.instances[snapshot.Instance.String()] = snapshot
	return nil
}

// GetInstance retrieves the snapshot for an instance.
func (s *Store) GetInstance(_ context.Context, instance model.WorkflowInstance) (storage.InstanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.instances[instance.String()]
	if !ok {
		return storage.InstanceSnapshot{}, &ratcheterrors.NotFoundError{Resource: "instance", ID: instance.String()}
	}

	snapshot.Data = snapshot.Data.Clone()
	return snapshot, nil
}

// ListInstances lists snapshots matching the filter, ordered by instance key.
func (s *Store) ListInstances(_ context.Context, filter storage.InstanceFilter) ([]storage.InstanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.instances))
	for key := range s.instances {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var snapshots []storage.InstanceSnapshot
	for _, key := range keys {
		snapshot := s.instances[key]

		if filter.State != "" && snapshot.State != filter.State {
			continue
		}
		if filter.Active && snapshot.State.Terminal() {
			continue
		}

		snapshot.Data = snapshot.Data.Clone()
		snapshots = append(snapshots, snapshot)

		if filter.Limit > 0 && len(snapshots) >= filter.Limit {
			break
		}
	}

	return snapshots, nil
}

// DeleteInstance removes the snapshot for an instance.
func (s *Store) DeleteInstance(_ context.Context, instance model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.instances, instance.String())
	return nil
}

// AppendEvent appends one event record.
func (s *Store) AppendEvent(_ context.Context, record storage.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.Instance.String()
	for _, existing := range s.events[key] {
		if existing.Counter == record.Counter {
			return fmt.Errorf("%w: %s at counter %d", storage.ErrDuplicateEvent, record.Instance, record.Counter)
		}
	}

	s.events[key] = append(s.events[key], record)
	return nil
}

// ListEvents returns an instance's event log in counter order.
func (s *Store) ListEvents(_ context.Context, instance model.WorkflowInstance) ([]storage.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[instance.String()]
	records := make([]storage.EventRecord, len(stored))
	copy(records, stored)

	sort.Slice(records, func(i, j int) bool {
		return records[i].Counter < records[j].Counter
	})

	return records, nil
}

// LatestEventCounter returns the highest counter in the instance's event log.
func (s *Store) LatestEventCounter(_ context.Context, instance model.WorkflowInstance) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := state.NoEventsProcessed
	for _, record := range s.events[instance.String()] {
		if record.Counter > latest {
			latest = record.Counter
		}
	}
	return latest, nil
}

// SaveWorkflow inserts or updates a workflow configuration, preserving any
// existing trigger cursor.
func (s *Store) SaveWorkflow(_ context.Context, workflow model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := workflow.ID.String()
	record := storage.WorkflowRecord{Workflow: workflow}
	if existing, ok := s.workflows[key]; ok {
		record.NextTrigger = existing.NextTrigger
	}

	s.workflows[key] = record
	return nil
}

// GetWorkflow retrieves a workflow and its trigger cursor.
func (s *Store) GetWorkflow(_ context.Context, id model.WorkflowID) (storage.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.workflows[id.String()]
	if !ok {
		return storage.WorkflowRecord{}, &ratcheterrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}

	return record, nil
}

// ListWorkflows returns all registered workflows ordered by id.
func (s *Store) ListWorkflows(_ context.Context) ([]storage.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.workflows))
	for key := range s.workflows {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]storage.WorkflowRecord, 0, len(keys))
	for _, key := range keys {
		records = append(records, s.workflows[key])
	}

	return records, nil
}

// DeleteWorkflow removes a workflow.
func (s *Store) DeleteWorkflow(_ context.Context, id model.WorkflowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workflows, id.String())
	return nil
}

// SetNextTrigger advances the workflow's trigger cursor.
func (s *Store) SetNextTrigger(_ context.Context, id model.WorkflowID, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.workflows[id.String()]
	if !ok {
		return &ratcheterrors.NotFoundError{Resource: "workflow", ID: id.String()}
	}

	t := next.UTC()
	record.NextTrigger = &t
	s.workflows[id.String()] = record
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
