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

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/manager"
	"github.com/ratchetworks/ratchet/internal/runner"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// ExecutionIDPrefix starts every execution id this scheduler generates.
const ExecutionIDPrefix = "ratchet-run-"

// ExecutionHandler drives a run through submission: PREPARE gets an
// execution description and id, SUBMITTING hands the execution to the
// runner, SUBMITTED confirms it started. Terminal entries reap whatever the
// runner still holds for the run.
//
// Every posted event carries the counter the decision was made at, so a
// decision racing a newer transition is dropped instead of misapplied.
type ExecutionHandler struct {
	workflows WorkflowSupplier
	events    EventSink
	runner    runner.Runner
	logger    *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(workflows WorkflowSupplier, events EventSink, r runner.Runner, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		workflows: workflows,
		events:    events,
		runner:    r,
		logger:    log.WithComponent(logger, "execution"),
	}
}

// TransitionInto reacts to the submission states and to terminal entries.
func (h *ExecutionHandler) TransitionInto(ctx context.Context, rs state.RunState) error {
	switch {
	case rs.State() == state.StatePrepare:
		return h.prepare(ctx, rs)
	case rs.State() == state.StateSubmitting:
		return h.submit(ctx, rs)
	case rs.State() == state.StateSubmitted:
		return h.post(ctx, rs, model.Started{WorkflowInstance: rs.Instance()})
	case rs.State().Terminal():
		return h.reap(ctx, rs)
	default:
		return nil
	}
}

// prepare builds the execution description from the workflow configuration
// and posts Submit. A run whose workflow vanished or carries no image gets a
// RunError instead.
func (h *ExecutionHandler) prepare(ctx context.Context, rs state.RunState) error {
	instance := rs.Instance()

	wf, ok := h.workflows()[instance.WorkflowID]
	if !ok {
		recordRunError("workflow_not_registered")
		return h.post(ctx, rs, model.RunError{
			WorkflowInstance: instance,
			Message:          "workflow not registered",
		})
	}
	if wf.Configuration.DockerImage == "" {
		recordRunError("no_docker_image")
		return h.post(ctx, rs, model.RunError{
			WorkflowInstance: instance,
			Message:          "workflow has no docker image",
		})
	}

	return h.post(ctx, rs, model.Submit{
		WorkflowInstance: instance,
		Description: model.ExecutionDescription{
			Image:     wf.Configuration.DockerImage,
			Args:      slices.Clone(wf.Configuration.DockerArgs),
			CommitSHA: wf.Configuration.CommitSHA,
		},
		ExecutionID: ExecutionIDPrefix + uuid.New().String(),
	})
}

// submit hands the execution to the runner and posts Submitted, or RunError
// when the runner refused it.
func (h *ExecutionHandler) submit(ctx context.Context, rs state.RunState) error {
	instance := rs.Instance()

	runnerID, err := h.runner.Start(ctx, rs)
	if err != nil {
		h.logger.Warn("runner failed to start execution",
			log.String(log.InstanceKey, instance.String()),
			log.String(log.ExecutionIDKey, rs.Data().ExecutionID),
			log.Error(err),
		)
		recordRunError("start_failed")
		return h.post(ctx, rs, model.RunError{
			WorkflowInstance: instance,
			Message:          fmt.Sprintf("failed to start execution: %v", err),
		})
	}

	recordSubmission()
	return h.post(ctx, rs, model.Submitted{
		WorkflowInstance: instance,
		ExecutionID:      rs.Data().ExecutionID,
		RunnerID:         runnerID,
	})
}

// reap halts any execution a finished run still owns. Runs that terminated
// normally have nothing left to halt.
func (h *ExecutionHandler) reap(ctx context.Context, rs state.RunState) error {
	if rs.Data().ExecutionID == "" {
		return nil
	}
	if err := h.runner.Halt(ctx, rs); err != nil {
		return fmt.Errorf("failed to halt execution %s: %w", rs.Data().ExecutionID, err)
	}
	return nil
}

// post sends an event tagged with the observed counter. A stale drop means a
// newer event already advanced the run; the decision is simply discarded.
func (h *ExecutionHandler) post(ctx context.Context, rs state.RunState, event model.Event) error {
	err := h.events.ReceiveIgnoreClosed(ctx, event, rs.Counter())
	if err != nil {
		if manager.IsStaleEvent(err) {
			h.logger.Debug("submission step superseded by newer event",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.String(log.EventKey, string(event.Type())),
				log.Int64(log.CounterKey, rs.Counter()),
			)
			return nil
		}
		return fmt.Errorf("failed to post %s: %w", event.Type(), err)
	}
	return nil
}
