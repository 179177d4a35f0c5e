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

package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// terminations buffers the Terminate events a runner posts.
type terminations struct {
	events chan model.Event
}

func newTerminations() *terminations {
	return &terminations{events: make(chan model.Event, 16)}
}

func (s *terminations) Receive(ctx context.Context, event model.Event) error {
	s.events <- event
	return nil
}

func (s *terminations) wait(t *testing.T) model.Terminate {
	t.Helper()
	select {
	case event := <-s.events:
		terminate, ok := event.(model.Terminate)
		if !ok {
			t.Fatalf("expected Terminate, got %T", event)
		}
		return terminate
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for termination")
		return model.Terminate{}
	}
}

// submittingRun builds a run ready for Start.
func submittingRun(parameter, execID string, args ...string) state.RunState {
	instance := model.NewWorkflowInstance("acme", "nightly-report", parameter)
	data := state.StateData{
		ExecutionID:          execID,
		ExecutionDescription: &model.ExecutionDescription{Image: "example/report:1", Args: args},
	}
	return state.Create(instance, state.StateSubmitting, data, 1700000000000, 2)
}

func TestLocalRunner_RunsToTermination(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{}, sink, testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "e1", "sh", "-c", "exit 0")
	runnerID, err := r.Start(context.Background(), rs)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if runnerID != "local" {
		t.Errorf("default runner id = %q, want local", runnerID)
	}

	terminate := sink.wait(t)
	if terminate.WorkflowInstance != rs.Instance() {
		t.Errorf("termination for wrong instance: %s", terminate.WorkflowInstance)
	}
	if terminate.ExitCode == nil || *terminate.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", terminate.ExitCode)
	}
}

func TestLocalRunner_ReportsExitCode(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{}, sink, testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "e1", "sh", "-c", "exit 20")
	if _, err := r.Start(context.Background(), rs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	terminate := sink.wait(t)
	if terminate.ExitCode == nil || *terminate.ExitCode != 20 {
		t.Errorf("exit code = %v, want 20", terminate.ExitCode)
	}
}

func TestLocalRunner_SubstitutesParameter(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{}, sink, testLogger())
	defer r.Close()

	// $0 is the substituted placeholder; exit 0 only on a match.
	rs := submittingRun("2026-08-24", "e1",
		"sh", "-c", `test "$0" = "2026-08-24"`, "{}")
	if _, err := r.Start(context.Background(), rs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	terminate := sink.wait(t)
	if terminate.ExitCode == nil || *terminate.ExitCode != 0 {
		t.Errorf("placeholder was not substituted, exit = %v", terminate.ExitCode)
	}
}

func TestLocalRunner_InjectsRunEnvironment(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{}, sink, testLogger())
	defer r.Close()

	instance := model.NewWorkflowInstance("acme", "nightly-report", "2026-08-24")
	data := state.StateData{
		ExecutionID: "e1",
		TriggerParameters: &model.TriggerParameters{
			Env: map[string]string{"REPORT_MODE": "full"},
		},
		ExecutionDescription: &model.ExecutionDescription{
			Image: "example/report:1",
			Args: []string{"sh", "-c",
				`test "$RATCHET_COMPONENT" = acme &&
				 test "$RATCHET_WORKFLOW" = nightly-report &&
				 test "$RATCHET_PARAMETER" = 2026-08-24 &&
				 test "$RATCHET_EXECUTION_ID" = e1 &&
				 test "$REPORT_MODE" = full`},
		},
	}
	rs := state.Create(instance, state.StateSubmitting, data, 1700000000000, 2)

	if _, err := r.Start(context.Background(), rs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	terminate := sink.wait(t)
	if terminate.ExitCode == nil || *terminate.ExitCode != 0 {
		t.Errorf("environment not injected as expected, exit = %v", terminate.ExitCode)
	}
}

func TestLocalRunner_StartValidation(t *testing.T) {
	r := NewLocalRunner(LocalConfig{}, newTerminations(), testLogger())
	defer r.Close()

	instance := model.NewWorkflowInstance("acme", "nightly-report", "2026-08-24")

	noExecID := state.Create(instance, state.StateSubmitting, state.StateData{
		ExecutionDescription: &model.ExecutionDescription{Args: []string{"true"}},
	}, 0, 2)
	if _, err := r.Start(context.Background(), noExecID); err == nil {
		t.Error("expected error without an execution id")
	}

	noDescription := state.Create(instance, state.StateSubmitting, state.StateData{
		ExecutionID: "e1",
	}, 0, 2)
	if _, err := r.Start(context.Background(), noDescription); err == nil {
		t.Error("expected error without a description")
	}

	noArgs := state.Create(instance, state.StateSubmitting, state.StateData{
		ExecutionID:          "e1",
		ExecutionDescription: &model.ExecutionDescription{Image: "example/report:1"},
	}, 0, 2)
	if _, err := r.Start(context.Background(), noArgs); err == nil {
		t.Error("expected error without args")
	}
}

func TestLocalRunner_StartFailsForMissingBinary(t *testing.T) {
	r := NewLocalRunner(LocalConfig{}, newTerminations(), testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "e1", "ratchet-no-such-binary-for-test")
	if _, err := r.Start(context.Background(), rs); err == nil {
		t.Fatal("expected Start to fail for an unknown binary")
	}
}

func TestLocalRunner_HaltKillsProcess(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{}, sink, testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "e1", "sleep", "60")
	if _, err := r.Start(context.Background(), rs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := r.Halt(context.Background(), rs); err != nil {
		t.Fatalf("Halt failed: %v", err)
	}

	terminate := sink.wait(t)
	if terminate.ExitCode != nil {
		t.Errorf("a killed process has no exit code, got %d", *terminate.ExitCode)
	}
}

func TestLocalRunner_HaltUnknownExecutionIsNoop(t *testing.T) {
	r := NewLocalRunner(LocalConfig{}, newTerminations(), testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "never-started", "true")
	if err := r.Halt(context.Background(), rs); err != nil {
		t.Fatalf("halting an unknown execution should be a no-op, got: %v", err)
	}
}

func TestLocalRunner_ConfiguredRunnerID(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{ID: "dev-a"}, sink, testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "e1", "true")
	runnerID, err := r.Start(context.Background(), rs)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if runnerID != "dev-a" {
		t.Errorf("runner id = %q, want dev-a", runnerID)
	}
	sink.wait(t)
}

func TestLocalRunner_LogDirCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{LogDir: dir}, sink, testLogger())
	defer r.Close()

	rs := submittingRun("2026-08-24", "e1", "sh", "-c", "echo hello from the run")
	if _, err := r.Start(context.Background(), rs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sink.wait(t)

	content, err := os.ReadFile(filepath.Join(dir, "e1.log"))
	if err != nil {
		t.Fatalf("failed to read execution log: %v", err)
	}
	if !strings.Contains(string(content), "hello from the run") {
		t.Errorf("execution output not captured, got %q", content)
	}
}

func TestLocalRunner_CloseKillsRemaining(t *testing.T) {
	sink := newTerminations()
	r := NewLocalRunner(LocalConfig{}, sink, testLogger())

	rs := submittingRun("2026-08-24", "e1", "sleep", "60")
	if _, err := r.Start(context.Background(), rs); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return after killing the process")
	}

	terminate := sink.wait(t)
	if terminate.ExitCode != nil {
		t.Errorf("a killed process has no exit code, got %d", *terminate.ExitCode)
	}
}

func TestSubstituteParameter(t *testing.T) {
	got := substituteParameter([]string{"report", "--date", "{}", "--strict"}, "2026-08-24")
	want := []string{"report", "--date", "2026-08-24", "--strict"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}

	original := []string{"{}"}
	substituteParameter(original, "x")
	if original[0] != "{}" {
		t.Error("substitution must not mutate the description args")
	}
}
