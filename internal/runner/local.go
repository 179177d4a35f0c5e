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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// ParameterPlaceholder in a docker arg is replaced with the instance
// parameter at launch.
const ParameterPlaceholder = "{}"

// LocalConfig configures the local process runner.
type LocalConfig struct {
	// ID names this runner in Submitted events. Default: "local".
	ID string

	// LogDir receives one <execution-id>.log file per execution. Empty
	// discards execution output.
	LogDir string
}

// LocalRunner runs executions as child processes of the scheduler. The
// description's args are the argv; the docker image is recorded but not
// pulled, which makes this runner suitable for development and for
// single-host deployments where executions are plain commands.
//
// Each started process gets a monitor goroutine that reports the exit code
// as a Terminate event. Processes do not survive a scheduler restart, so
// runs restored into RUNNING are reclaimed by the timeout sweep rather than
// by this runner.
type LocalRunner struct {
	id     string
	logDir string
	events EventSink
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]*exec.Cmd
	wg    sync.WaitGroup
}

// NewLocalRunner creates a LocalRunner reporting terminations to events.
func NewLocalRunner(cfg LocalConfig, events EventSink, logger *slog.Logger) *LocalRunner {
	id := cfg.ID
	if id == "" {
		id = "local"
	}
	return &LocalRunner{
		id:     id,
		logDir: cfg.LogDir,
		events: events,
		logger: log.WithComponent(logger, "runner"),
		procs:  make(map[string]*exec.Cmd),
	}
}

// Start launches the run's execution and returns once the process is
// spawned.
func (r *LocalRunner) Start(ctx context.Context, rs state.RunState) (string, error) {
	data := rs.Data()
	if data.ExecutionID == "" {
		return "", errors.New("run state has no execution id")
	}
	if data.ExecutionDescription == nil {
		return "", errors.New("run state has no execution description")
	}

	argv := substituteParameter(data.ExecutionDescription.Args, rs.Instance().Parameter)
	if len(argv) == 0 {
		return "", errors.New("execution description has no args to run")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = executionEnv(rs)

	logFile, err := r.openLogFile(data.ExecutionID)
	if err != nil {
		return "", err
	}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return "", fmt.Errorf("failed to start execution %s: %w", data.ExecutionID, err)
	}

	r.mu.Lock()
	r.procs[data.ExecutionID] = cmd
	r.mu.Unlock()

	r.logger.Info("execution started",
		log.String(log.InstanceKey, rs.Instance().String()),
		log.String(log.ExecutionIDKey, data.ExecutionID),
		log.Int("pid", cmd.Process.Pid),
	)
	recordExecutionStarted()

	r.wg.Add(1)
	go r.monitor(rs.Instance(), data.ExecutionID, cmd, logFile)

	return r.id, nil
}

// Halt kills the run's process. Unknown executions, including those lost to
// a restart, are a no-op; the timeout sweep reclaims their runs.
func (r *LocalRunner) Halt(ctx context.Context, rs state.RunState) error {
	execID := rs.Data().ExecutionID
	if execID == "" {
		return nil
	}

	r.mu.Lock()
	cmd, ok := r.procs[execID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill execution %s: %w", execID, err)
	}

	r.logger.Info("execution halted",
		log.String(log.InstanceKey, rs.Instance().String()),
		log.String(log.ExecutionIDKey, execID),
	)
	recordExecutionHalted()
	return nil
}

// Close kills all tracked processes and waits for their monitors. Runs they
// belonged to are reclaimed by the timeout sweep after restart.
func (r *LocalRunner) Close() error {
	r.mu.Lock()
	for _, cmd := range r.procs {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.logger.Warn("failed to kill execution during shutdown", log.Error(err))
		}
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// monitor waits for the process and reports its exit as a Terminate event.
func (r *LocalRunner) monitor(instance model.WorkflowInstance, execID string, cmd *exec.Cmd, logFile *os.File) {
	defer r.wg.Done()

	err := cmd.Wait()
	if logFile != nil {
		logFile.Close()
	}

	r.mu.Lock()
	delete(r.procs, execID)
	r.mu.Unlock()

	exitCode := exitCodeOf(err)
	r.logger.Info("execution exited",
		log.String(log.InstanceKey, instance.String()),
		log.String(log.ExecutionIDKey, execID),
		log.String("exit", formatExit(exitCode)),
	)
	recordExecutionExit(exitCode)

	event := model.Terminate{WorkflowInstance: instance, ExitCode: exitCode}
	if err := r.events.Receive(context.Background(), event); err != nil {
		// The run moved on without us, typically because it was halted
		// or timed out while the process was still winding down.
		r.logger.Debug("termination not applied",
			log.String(log.InstanceKey, instance.String()),
			log.String(log.ExecutionIDKey, execID),
			log.Error(err),
		)
	}
}

// openLogFile opens the per-execution output file, or nil when output is
// discarded.
func (r *LocalRunner) openLogFile(execID string) (*os.File, error) {
	if r.logDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(r.logDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create execution log directory: %w", err)
	}
	path := filepath.Join(r.logDir, execID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution log: %w", err)
	}
	return f, nil
}

// substituteParameter replaces the {} placeholder args with the instance
// parameter.
func substituteParameter(args []string, parameter string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if arg == ParameterPlaceholder {
			out[i] = parameter
		} else {
			out[i] = arg
		}
	}
	return out
}

// executionEnv is the child process environment: the scheduler's own
// environment plus the run's identity and the workflow-level variables
// captured at trigger time.
func executionEnv(rs state.RunState) []string {
	instance := rs.Instance()
	data := rs.Data()

	env := os.Environ()
	if data.TriggerParameters != nil {
		for k, v := range data.TriggerParameters.Env {
			env = append(env, k+"="+v)
		}
	}
	env = append(env,
		"RATCHET_COMPONENT="+instance.WorkflowID.Component,
		"RATCHET_WORKFLOW="+instance.WorkflowID.ID,
		"RATCHET_PARAMETER="+instance.Parameter,
		"RATCHET_EXECUTION_ID="+data.ExecutionID,
		"RATCHET_TRIGGER_ID="+data.TriggerID,
		"RATCHET_TRIGGER_TYPE="+triggerTypeOf(data),
	)
	return env
}

func triggerTypeOf(data state.StateData) string {
	if data.Trigger == nil {
		return string(model.TriggerTypeUnknown)
	}
	return string(data.Trigger.Type())
}

// exitCodeOf maps a Wait error to the scheduler's exit code convention:
// 0 for clean exit, the process code when there is one, and absent when the
// process died without one (killed by a signal, for example).
func exitCodeOf(err error) *int {
	if err == nil {
		code := 0
		return &code
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return &code
		}
	}
	return nil
}

func formatExit(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *code)
}
