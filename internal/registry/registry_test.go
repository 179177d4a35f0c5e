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

package registry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ratchetworks/ratchet/internal/storage/memory"
	"github.com/ratchetworks/ratchet/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestRegistry(t *testing.T, dir string) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	r, err := New(dir, []string{"**/*.yaml", "**/*.yml"}, store, testLogger())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return r, store
}

const reportDefinition = `component: acme
workflows:
  - id: nightly-report
    schedule: "@daily"
    docker_image: acme/report:1
    docker_args: ["report", "--date", "{}"]
`

func TestRegistry_LoadRegistersWorkflows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", reportDefinition)
	writeFile(t, dir, "nested/billing.yml", `component: billing
workflows:
  - id: invoices
    schedule: "@hourly"
    docker_image: billing/invoices:2
  - id: reminders
    docker_image: billing/reminders:2
`)

	r, store := newTestRegistry(t, dir)
	ctx := context.Background()

	result, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if result.Files != 2 || result.Loaded != 3 || len(result.Problems) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	id := model.WorkflowID{Component: "billing", ID: "invoices"}
	wf, ok := r.Get(id)
	if !ok {
		t.Fatalf("expected %s registered", id)
	}
	if wf.Configuration.Schedule != model.ScheduleHourly {
		t.Errorf("expected hourly schedule, got %q", wf.Configuration.Schedule)
	}

	records, err := store.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("failed to list workflows: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 stored workflows, got %d", len(records))
	}

	snapshot := r.Snapshot()
	if len(snapshot) != 3 {
		t.Errorf("expected snapshot of 3 workflows, got %d", len(snapshot))
	}
}

func TestRegistry_LoadSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", reportDefinition)
	writeFile(t, dir, "broken.yaml", "component: [not\n  closed")
	writeFile(t, dir, "invalid.yaml", `workflows:
  - id: orphan
    docker_image: x
`)

	r, _ := newTestRegistry(t, dir)

	result, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if result.Loaded != 1 {
		t.Errorf("expected the good file to load, got %d workflows", result.Loaded)
	}
	if len(result.Problems) != 2 {
		t.Errorf("expected 2 problems, got %v", result.Problems)
	}
	if _, ok := r.Get(model.WorkflowID{Component: "acme", ID: "nightly-report"}); !ok {
		t.Error("expected the good workflow to be registered despite broken neighbors")
	}
}

func TestRegistry_LoadRemovesDeletedWorkflows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acme.yaml", reportDefinition)

	r, store := newTestRegistry(t, dir)
	ctx := context.Background()

	if _, err := r.Load(ctx); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove definition: %v", err)
	}

	result, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}
	if result.Removed != 1 || result.Loaded != 0 {
		t.Errorf("expected one removal, got %+v", result)
	}

	records, err := store.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("failed to list workflows: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected store emptied, got %d records", len(records))
	}
	if r.Count() != 0 {
		t.Errorf("expected empty snapshot, got %d", r.Count())
	}
}

func TestRegistry_ReloadPreservesTriggerCursor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", reportDefinition)

	r, store := newTestRegistry(t, dir)
	ctx := context.Background()

	if _, err := r.Load(ctx); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	id := model.WorkflowID{Component: "acme", ID: "nightly-report"}
	cursor := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	if err := store.SetNextTrigger(ctx, id, cursor); err != nil {
		t.Fatalf("failed to set cursor: %v", err)
	}

	if _, err := r.Load(ctx); err != nil {
		t.Fatalf("unexpected reload error: %v", err)
	}

	record, err := store.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if record.NextTrigger == nil || !record.NextTrigger.Equal(cursor) {
		t.Errorf("expected cursor preserved at %v, got %v", cursor, record.NextTrigger)
	}
}

func TestRegistry_DuplicateAcrossFilesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", reportDefinition)
	writeFile(t, dir, "b.yaml", `component: acme
workflows:
  - id: nightly-report
    docker_image: other/image:1
`)

	r, _ := newTestRegistry(t, dir)

	result, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if result.Loaded != 1 {
		t.Errorf("expected exactly one registration, got %d", result.Loaded)
	}
	if len(result.Problems) != 1 {
		t.Errorf("expected a duplicate problem, got %v", result.Problems)
	}
}

func TestRegistry_IgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", reportDefinition)
	writeFile(t, dir, "README.md", "# not a definition")
	writeFile(t, dir, "acme.yaml.bak", reportDefinition)

	r, _ := newTestRegistry(t, dir)

	result, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if result.Files != 1 || result.Loaded != 1 {
		t.Errorf("expected only the yaml file considered, got %+v", result)
	}
}

func TestRegistry_LoadFailsOnMissingDirectory(t *testing.T) {
	r, _ := newTestRegistry(t, filepath.Join(t.TempDir(), "missing"))
	if _, err := r.Load(context.Background()); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name:    "valid",
			yaml:    reportDefinition,
			wantErr: false,
		},
		{
			name: "missing component",
			yaml: `workflows:
  - id: x
    docker_image: img
`,
			wantErr: true,
		},
		{
			name: "component with separator",
			yaml: `component: "a#b"
workflows:
  - id: x
    docker_image: img
`,
			wantErr: true,
		},
		{
			name:    "no workflows",
			yaml:    "component: acme\n",
			wantErr: true,
		},
		{
			name: "duplicate ids",
			yaml: `component: acme
workflows:
  - id: x
    docker_image: img
  - id: x
    docker_image: img2
`,
			wantErr: true,
		},
		{
			name: "invalid schedule",
			yaml: `component: acme
workflows:
  - id: x
    schedule: "@fortnightly"
    docker_image: img
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(tt.yaml))
			if err != nil {
				if !tt.wantErr {
					t.Fatalf("unexpected parse error: %v", err)
				}
				return
			}
			err = def.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRegistry(t, dir)
	ctx := context.Background()

	if _, err := r.Load(ctx); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}

	w, err := NewWatcher(r, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	w.Start(ctx)
	defer func() {
		if err := w.Stop(); err != nil {
			t.Errorf("failed to stop watcher: %v", err)
		}
	}()

	writeFile(t, dir, "acme.yaml", reportDefinition)

	if !waitFor(t, 3*time.Second, func() bool { return r.Count() == 1 }) {
		t.Fatalf("expected the new definition to be loaded, registry has %d", r.Count())
	}

	// Removing the file unregisters the workflow on the next reload.
	if err := os.Remove(filepath.Join(dir, "acme.yaml")); err != nil {
		t.Fatalf("failed to remove definition: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return r.Count() == 0 }) {
		t.Fatalf("expected the removed definition to be unloaded, registry has %d", r.Count())
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRegistry(t, dir)

	w, err := NewWatcher(r, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	w.Start(context.Background())

	if err := w.Stop(); err != nil {
		t.Errorf("unexpected stop error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("unexpected second stop error: %v", err)
	}
}
