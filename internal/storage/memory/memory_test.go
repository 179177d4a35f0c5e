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

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ratchetworks/ratchet/internal/storage"
	ratcheterrors "github.com/ratchetworks/ratchet/pkg/errors"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

func testInstance(parameter string) model.WorkflowInstance {
	return model.NewWorkflowInstance("acme", "nightly-report", parameter)
}

func TestMemoryStore_SaveAndGetInstance(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	instance := testInstance("2026-08-24")

	snapshot := storage.InstanceSnapshot{
		Instance:        instance,
		State:           state.StateQueued,
		TimestampMillis: 1700000000000,
		Counter:         2,
		Data:            state.StateData{TriggerID: "natural-trigger", Tries: 1},
	}

	if err := s.SaveInstance(ctx, snapshot); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}

	retrieved, err := s.GetInstance(ctx, instance)
	if err != nil {
		t.Fatalf("failed to get instance: %v", err)
	}
	if retrieved.State != state.StateQueued || retrieved.Counter != 2 {
		t.Errorf("expected QUEUED at counter 2, got %s at %d", retrieved.State, retrieved.Counter)
	}
	if retrieved.Data.TriggerID != "natural-trigger" {
		t.Errorf("expected trigger id natural-trigger, got %s", retrieved.Data.TriggerID)
	}

	_, err = s.GetInstance(ctx, testInstance("2099-01-01"))
	var notFound *ratcheterrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestMemoryStore_SnapshotsDoNotAlias(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	instance := testInstance("2026-08-24")

	saved := storage.InstanceSnapshot{
		Instance:        instance,
		State:           state.StatePrepare,
		TimestampMillis: 1,
		Counter:         1,
		Data:            state.StateData{ResourceIDs: []string{"db-pool", "gpu"}},
	}
	if err := s.SaveInstance(ctx, saved); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}

	// Mutating the caller's slice after saving must not reach the store.
	saved.Data.ResourceIDs[0] = "poisoned"

	first, err := s.GetInstance(ctx, instance)
	if err != nil {
		t.Fatalf("failed to get instance: %v", err)
	}
	if first.Data.ResourceIDs[0] != "db-pool" {
		t.Errorf("store aliased caller's slice: got %v", first.Data.ResourceIDs)
	}

	// Mutating a returned snapshot must not reach the store either.
	first.Data.ResourceIDs[1] = "poisoned"

	second, err := s.GetInstance(ctx, instance)
	if err != nil {
		t.Fatalf("failed to get instance: %v", err)
	}
	if second.Data.ResourceIDs[1] != "gpu" {
		t.Errorf("store aliased returned slice: got %v", second.Data.ResourceIDs)
	}
}

func TestMemoryStore_ListInstancesFilters(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	snapshots := []storage.InstanceSnapshot{
		{Instance: testInstance("2026-08-21"), State: state.StateDone, Counter: 9},
		{Instance: testInstance("2026-08-22"), State: state.StateRunning, Counter: 5},
		{Instance: testInstance("2026-08-23"), State: state.StateQueued, Counter: 0},
	}
	for _, snapshot := range snapshots {
		if err := s.SaveInstance(ctx, snapshot); err != nil {
			t.Fatalf("failed to save instance: %v", err)
		}
	}

	all, err := s.ListInstances(ctx, storage.InstanceFilter{})
	if err != nil {
		t.Fatalf("failed to list instances: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 instances, got %d", len(all))
	}
	if all[0].Instance.Parameter != "2026-08-21" || all[2].Instance.Parameter != "2026-08-23" {
		t.Errorf("instances not ordered by key: %v", all)
	}

	active, err := s.ListInstances(ctx, storage.InstanceFilter{Active: true})
	if err != nil {
		t.Fatalf("failed to list active instances: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active instances, got %d", len(active))
	}

	queued, err := s.ListInstances(ctx, storage.InstanceFilter{State: state.StateQueued})
	if err != nil {
		t.Fatalf("failed to list queued instances: %v", err)
	}
	if len(queued) != 1 || queued[0].Instance.Parameter != "2026-08-23" {
		t.Errorf("expected single QUEUED instance for 2026-08-23, got %v", queued)
	}

	limited, err := s.ListInstances(ctx, storage.InstanceFilter{Limit: 1})
	if err != nil {
		t.Fatalf("failed to list limited instances: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 instance with limit, got %d", len(limited))
	}
}

func TestMemoryStore_DeleteInstance(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	instance := testInstance("2026-08-24")

	if err := s.SaveInstance(ctx, storage.InstanceSnapshot{Instance: instance, State: state.StateQueued}); err != nil {
		t.Fatalf("failed to save instance: %v", err)
	}
	if err := s.DeleteInstance(ctx, instance); err != nil {
		t.Fatalf("failed to delete instance: %v", err)
	}
	if _, err := s.GetInstance(ctx, instance); err == nil {
		t.Errorf("expected error getting deleted instance, got nil")
	}
	if err := s.DeleteInstance(ctx, instance); err != nil {
		t.Errorf("expected deleting missing instance to succeed, got %v", err)
	}
}

func TestMemoryStore_AppendAndListEvents(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	instance := testInstance("2026-08-24")

	records := []storage.EventRecord{
		{Instance: instance, Counter: 1, TimestampMillis: 2000, Event: model.Dequeue{WorkflowInstance: instance}},
		{Instance: instance, Counter: 0, TimestampMillis: 1000, Event: model.TriggerExecution{WorkflowInstance: instance, Trigger: model.NaturalTrigger()}},
	}
	for _, record := range records {
		if err := s.AppendEvent(ctx, record); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	listed, err := s.ListEvents(ctx, instance)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 events, got %d", len(listed))
	}
	if listed[0].Counter != 0 || listed[1].Counter != 1 {
		t.Errorf("events not in counter order: %d, %d", listed[0].Counter, listed[1].Counter)
	}

	err = s.AppendEvent(ctx, records[0])
	if !errors.Is(err, storage.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestMemoryStore_LatestEventCounter(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	instance := testInstance("2026-08-24")

	counter, err := s.LatestEventCounter(ctx, instance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter != state.NoEventsProcessed {
		t.Errorf("expected sentinel for empty log, got %d", counter)
	}

	for _, c := range []int64{0, 1, 4} {
		record := storage.EventRecord{
			Instance: instance, Counter: c, TimestampMillis: 1000 + c,
			Event: model.Info{WorkflowInstance: instance, Message: model.InfoMessage("probe")},
		}
		if err := s.AppendEvent(ctx, record); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	counter, err = s.LatestEventCounter(ctx, instance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter != 4 {
		t.Errorf("expected latest counter 4, got %d", counter)
	}
}

func TestMemoryStore_WorkflowCursor(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	workflow := model.NewWorkflow("acme", model.WorkflowConfiguration{ID: "nightly-report", Schedule: "@daily"})

	if err := s.SaveWorkflow(ctx, workflow); err != nil {
		t.Fatalf("failed to save workflow: %v", err)
	}

	next := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	if err := s.SetNextTrigger(ctx, workflow.ID, next); err != nil {
		t.Fatalf("failed to set next trigger: %v", err)
	}

	// Upsert keeps the cursor.
	workflow.Configuration.DockerImage = "acme/report:2.0.0"
	if err := s.SaveWorkflow(ctx, workflow); err != nil {
		t.Fatalf("failed to update workflow: %v", err)
	}

	record, err := s.GetWorkflow(ctx, workflow.ID)
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if record.NextTrigger == nil || !record.NextTrigger.Equal(next) {
		t.Errorf("expected cursor %v preserved, got %v", next, record.NextTrigger)
	}

	err = s.SetNextTrigger(ctx, model.NewWorkflowID("acme", "missing"), next)
	var notFound *ratcheterrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestMemoryStore_ListAndDeleteWorkflows(t *testing.T) {
	s := New()
	defer s.Close()

	ctx := context.Background()
	for _, id := range []string{"bravo", "alpha"} {
		workflow := model.NewWorkflow("acme", model.WorkflowConfiguration{ID: id, Schedule: "@daily"})
		if err := s.SaveWorkflow(ctx, workflow); err != nil {
			t.Fatalf("failed to save workflow %s: %v", id, err)
		}
	}

	records, err := s.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("failed to list workflows: %v", err)
	}
	if len(records) != 2 || records[0].Workflow.ID.ID != "alpha" {
		t.Errorf("expected [alpha bravo], got %v", records)
	}

	if err := s.DeleteWorkflow(ctx, records[0].Workflow.ID); err != nil {
		t.Fatalf("failed to delete workflow: %v", err)
	}
	if _, err := s.GetWorkflow(ctx, records[0].Workflow.ID); err == nil {
		t.Errorf("expected error getting deleted workflow, got nil")
	}
}
