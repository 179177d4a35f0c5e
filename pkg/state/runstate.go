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

package state

import (
	"time"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// Clock supplies the current time. Every time read in this package goes
// through an injected Clock so replay and tests are deterministic.
type Clock func() time.Time

// SystemClock reads the wall clock.
var SystemClock Clock = time.Now

// NoEventsProcessed is the counter of a fresh run. The first applied event
// moves the counter to 0, so a counter of 0 means one event was processed.
const NoEventsProcessed int64 = -1

// RunState is one instance's position in its lifecycle: the state, the
// bookkeeping data consistent with it, the time the state was entered, and
// the count of events processed so far. Values are immutable; Transition
// returns a new one.
type RunState struct {
	instance  model.WorkflowInstance
	state     State
	timestamp int64
	data      StateData
	counter   int64
}

// Fresh returns the initial RunState for an instance: NEW, zero data, and
// the counter at its sentinel.
func Fresh(instance model.WorkflowInstance, clock Clock) RunState {
	return RunState{
		instance:  instance,
		state:     StateNew,
		timestamp: clock().UnixMilli(),
		data:      ZeroData(),
		counter:   NoEventsProcessed,
	}
}

// Create restores a RunState from persistence. No clock is read; the stored
// timestamp is authoritative.
func Create(instance model.WorkflowInstance, st State, data StateData, timestampMillis, counter int64) RunState {
	return RunState{
		instance:  instance,
		state:     st,
		timestamp: timestampMillis,
		data:      data,
		counter:   counter,
	}
}

// Instance returns the workflow instance this run belongs to.
func (r RunState) Instance() model.WorkflowInstance { return r.instance }

// State returns the lifecycle position.
func (r RunState) State() State { return r.state }

// TimestampMillis returns when the current state was entered, in epoch
// milliseconds.
func (r RunState) TimestampMillis() int64 { return r.timestamp }

// Data returns the accumulated bookkeeping. The value shares backing arrays
// with the run state; callers that hold onto it across transitions should
// Clone it.
func (r RunState) Data() StateData { return r.data }

// Counter returns the number of the last processed event.
func (r RunState) Counter() int64 { return r.counter }

// Transition applies one event. On success the returned value carries the
// successor state, the updated data, the clock's time, and counter+1. A
// (state, event) pair outside the transition table fails with
// *IllegalTransitionError and leaves the receiver meaningful as-is.
func (r RunState) Transition(event model.Event, clock Clock) (RunState, error) {
	// Terminal states admit nothing, including timeout and halt.
	if r.state.Terminal() {
		return RunState{}, r.illegal(event)
	}

	switch e := event.(type) {
	case model.TriggerExecution:
		if r.state != StateNew {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		trigger := e.Trigger
		params := e.Parameters
		d.Trigger = &trigger
		d.TriggerID = trigger.ID()
		d.TriggerParameters = &params
		return r.next(StateQueued, d, clock), nil

	case model.TimeTrigger:
		// Legacy: trigger metadata was not recorded yet.
		if r.state != StateNew {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		trigger := model.UnknownTrigger("UNKNOWN")
		d.Trigger = &trigger
		d.TriggerID = "UNKNOWN"
		return r.next(StateSubmitted, d, clock), nil

	case model.Info:
		if r.state != StateQueued {
			return RunState{}, r.illegal(event)
		}
		return r.next(StateQueued, r.data.appendMessage(e.Message), clock), nil

	case model.Dequeue:
		if r.state != StateQueued {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		d.RetryDelayMillis = nil
		d.ResourceIDs = normalizeResourceIDs(e.ResourceIDs)
		return r.next(StatePrepare, d, clock), nil

	case model.Submit:
		if r.state != StateQueued && r.state != StatePrepare {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		desc := e.Description
		d.ExecutionDescription = &desc
		d.ExecutionID = e.ExecutionID
		return r.next(StateSubmitting, d, clock), nil

	case model.Submitted:
		if r.state != StateSubmitting {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		// An execution id assigned at submit time wins over the runner's.
		if d.ExecutionID == "" {
			d.ExecutionID = e.ExecutionID
		}
		d.RunnerID = e.RunnerID
		d.Tries++
		return r.next(StateSubmitted, d, clock), nil

	case model.Created:
		// Legacy: submit and submitted were one event.
		if r.state != StatePrepare && r.state != StateQueued {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		desc := model.ExecutionDescriptionForImage(e.DockerImage)
		d.ExecutionID = e.ExecutionID
		d.ExecutionDescription = &desc
		d.Tries++
		return r.next(StateSubmitted, d, clock), nil

	case model.Started:
		if r.state != StateSubmitted && r.state != StatePrepare {
			return RunState{}, r.illegal(event)
		}
		return r.next(StateRunning, r.data, clock), nil

	case model.Terminate:
		if r.state != StateRunning {
			return RunState{}, r.illegal(event)
		}
		d := r.data
		d.RetryCost += exitCost(e.ExitCode)
		d.LastExit = copyExitCode(e.ExitCode)
		if endsFailureStreak(e.ExitCode) {
			d.ConsecutiveFailures = 0
		} else {
			d.ConsecutiveFailures++
		}
		d = d.appendMessage(model.Message{
			Level: exitLevel(e.ExitCode),
			Line:  "Exit code: " + formatExitCode(e.ExitCode),
		})
		return r.next(StateTerminated, d, clock), nil

	case model.RunError:
		switch r.state {
		case StateQueued, StatePrepare, StateSubmitting, StateSubmitted, StateRunning:
		default:
			return RunState{}, r.illegal(event)
		}
		d := r.data
		d.RetryCost += FailureCost
		d.LastExit = nil
		d.ConsecutiveFailures++
		d = d.appendMessage(model.ErrorMessage(e.Message))
		return r.next(StateFailed, d, clock), nil

	case model.Success:
		if r.state != StateTerminated {
			return RunState{}, r.illegal(event)
		}
		return r.next(StateDone, r.data, clock), nil

	case model.RetryAfter:
		switch r.state {
		case StateTerminated, StateFailed, StateQueued:
		default:
			return RunState{}, r.illegal(event)
		}
		d := r.data
		delay := e.DelayMillis
		d.RetryDelayMillis = &delay
		d.ExecutionID = ""
		d.ExecutionDescription = nil
		d.ResourceIDs = nil
		return r.next(StateQueued, d, clock), nil

	case model.Retry:
		// Legacy: unlike RetryAfter this clears nothing, not even the
		// execution id or resource holds. Preserved for replay fidelity.
		switch r.state {
		case StateTerminated, StateFailed, StateQueued:
		default:
			return RunState{}, r.illegal(event)
		}
		return r.next(StatePrepare, r.data, clock), nil

	case model.Stop:
		if r.state != StateTerminated && r.state != StateFailed {
			return RunState{}, r.illegal(event)
		}
		return r.next(StateError, r.data, clock), nil

	case model.Timeout:
		// Admin-level: legal from every non-terminal state.
		return r.next(StateFailed, r.data, clock), nil

	case model.Halt:
		// Admin-level: legal from every non-terminal state.
		return r.next(StateError, r.data, clock), nil

	default:
		return RunState{}, r.illegal(event)
	}
}

// next builds the successor value. The single clock read per transition
// happens here.
func (r RunState) next(st State, d StateData, clock Clock) RunState {
	return RunState{
		instance:  r.instance,
		state:     st,
		timestamp: clock().UnixMilli(),
		data:      d,
		counter:   r.counter + 1,
	}
}

func (r RunState) illegal(event model.Event) error {
	return &IllegalTransitionError{
		Instance: r.instance,
		State:    r.state,
		Event:    event.Type(),
	}
}

func copyExitCode(code *int) *int {
	if code == nil {
		return nil
	}
	v := *code
	return &v
}
