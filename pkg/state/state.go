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

// Package state implements the per-workflow-instance run-state machine.
//
// A RunState is an immutable value: feeding it an event through Transition
// either yields the next value or fails with an illegal transition. All
// bookkeeping the scheduler relies on (tries, failure streaks, retry cost,
// resource holds, messages) is carried in StateData and updated only by
// transitions, so a run can be replayed exactly from its event log.
package state

import "fmt"

// State is a position in the run lifecycle.
type State string

const (
	StateNew        State = "NEW"
	StateQueued     State = "QUEUED"
	StatePrepare    State = "PREPARE"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
	StateRunning    State = "RUNNING"
	StateTerminated State = "TERMINATED"
	StateFailed     State = "FAILED"
	StateError      State = "ERROR"
	StateDone       State = "DONE"
)

// States lists every state, in lifecycle order.
var States = []State{
	StateNew,
	StateQueued,
	StatePrepare,
	StateSubmitting,
	StateSubmitted,
	StateRunning,
	StateTerminated,
	StateFailed,
	StateError,
	StateDone,
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// ParseState validates a stored state string.
func ParseState(s string) (State, error) {
	st := State(s)
	for _, known := range States {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown run state %q", s)
}
