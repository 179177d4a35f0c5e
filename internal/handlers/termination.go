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
	"time"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/manager"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// RetryPolicy controls how failed runs are retried.
type RetryPolicy struct {
	// BaseDelay is the first backoff step; it doubles per consecutive
	// failure.
	BaseDelay time.Duration

	// MaxExponent caps the doubling.
	MaxExponent int

	// MissingDepsDelay is the fixed re-queue delay after a missing
	// dependencies exit; upstream data usually needs real time to land,
	// so backoff math does not apply.
	MissingDepsDelay time.Duration

	// MaxCost is the retry budget; a run whose accumulated retryCost
	// reaches it is stopped.
	MaxCost float64
}

// TerminationHandler decides what happens after a run terminates or fails:
// complete it, give up on it, or re-queue it with a delay.
//
// Decision order for TERMINATED runs: exit 0 completes, exit 50 stops,
// exhausted retry budget stops, a false retry_condition stops, everything
// else retries. FAILED runs carry no exit code and skip the first two rules.
type TerminationHandler struct {
	policy    RetryPolicy
	workflows WorkflowSupplier
	events    EventSink
	evaluator *Evaluator
	logger    *slog.Logger
}

// NewTerminationHandler creates a TerminationHandler.
func NewTerminationHandler(policy RetryPolicy, workflows WorkflowSupplier, events EventSink, logger *slog.Logger) *TerminationHandler {
	return &TerminationHandler{
		policy:    policy,
		workflows: workflows,
		events:    events,
		evaluator: NewEvaluator(),
		logger:    log.WithComponent(logger, "termination"),
	}
}

// TransitionInto reacts to TERMINATED and FAILED entries.
func (h *TerminationHandler) TransitionInto(ctx context.Context, rs state.RunState) error {
	switch rs.State() {
	case state.StateTerminated, state.StateFailed:
	default:
		return nil
	}

	event, outcome := h.decide(rs)
	err := h.events.ReceiveIgnoreClosed(ctx, event, rs.Counter())
	if err != nil {
		if manager.IsStaleEvent(err) {
			h.logger.Debug("termination decision superseded by newer event",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.Int64(log.CounterKey, rs.Counter()),
			)
			return nil
		}
		return fmt.Errorf("failed to post %s: %w", event.Type(), err)
	}

	h.logger.Info("termination decided",
		log.String(log.InstanceKey, rs.Instance().String()),
		log.String(log.EventKey, string(event.Type())),
		log.String("outcome", outcome),
	)
	recordTerminationOutcome(outcome)
	return nil
}

// decide picks the follow-up event for one terminated or failed snapshot.
func (h *TerminationHandler) decide(rs state.RunState) (model.Event, string) {
	instance := rs.Instance()
	data := rs.Data()

	if rs.State() == state.StateTerminated && data.LastExit != nil {
		switch *data.LastExit {
		case state.ExitSuccess:
			return model.Success{WorkflowInstance: instance}, "success"
		case state.ExitUnrecoverableFailure:
			return model.Stop{WorkflowInstance: instance}, "stop_unrecoverable"
		}
	}

	if data.RetryCost >= h.policy.MaxCost {
		return model.Stop{WorkflowInstance: instance}, "stop_budget_exhausted"
	}

	if !h.shouldRetry(rs) {
		return model.Stop{WorkflowInstance: instance}, "stop_retry_condition"
	}

	if rs.State() == state.StateTerminated && data.LastExit != nil && *data.LastExit == state.ExitMissingDependencies {
		return model.RetryAfter{
			WorkflowInstance: instance,
			DelayMillis:      h.policy.MissingDepsDelay.Milliseconds(),
		}, "retry_missing_deps"
	}

	return model.RetryAfter{
		WorkflowInstance: instance,
		DelayMillis:      h.backoff(data.ConsecutiveFailures).Milliseconds(),
	}, "retry_backoff"
}

// shouldRetry consults the workflow's retry_condition, if any. A condition
// that fails to evaluate counts as false: a broken expression must not turn
// into an unbounded retry loop.
func (h *TerminationHandler) shouldRetry(rs state.RunState) bool {
	wf, ok := h.workflows()[rs.Instance().WorkflowID]
	if !ok || wf.Configuration.RetryCondition == "" {
		return true
	}

	data := rs.Data()

	// FAILED runs have no exit code for this cycle; a LastExit left over
	// from an earlier cycle must not leak into the condition.
	var exitCode any
	if rs.State() == state.StateTerminated && data.LastExit != nil {
		exitCode = *data.LastExit
	}
	triggerType := string(model.TriggerTypeUnknown)
	if data.Trigger != nil {
		triggerType = string(data.Trigger.Type())
	}

	retry, err := h.evaluator.EvalBool(wf.Configuration.RetryCondition, map[string]any{
		"exitCode":            exitCode,
		"tries":               data.Tries,
		"consecutiveFailures": data.ConsecutiveFailures,
		"retryCost":           data.RetryCost,
		"triggerType":         triggerType,
	})
	if err != nil {
		h.logger.Warn("retry condition failed to evaluate, not retrying",
			log.String(log.WorkflowKey, rs.Instance().WorkflowID.String()),
			log.Error(err),
		)
		return false
	}
	return retry
}

// backoff computes the exponential re-queue delay for the current failure
// streak: base * 2^(consecutiveFailures-1), capped at MaxExponent doublings.
func (h *TerminationHandler) backoff(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent > h.policy.MaxExponent {
		exponent = h.policy.MaxExponent
	}
	return h.policy.BaseDelay * (1 << exponent)
}
