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

package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// Replay folds a persisted event log back into the run state it produced.
// Each step uses the recorded timestamp as the clock, so the result is
// bit-identical to the state the live run reached: transitions read no other
// ambient input.
//
// The records must be one instance's complete log in counter order, as
// returned by ListEvents. The log may span several runs: re-triggering a
// finished instance continues its counter sequence, so a trigger record
// after a terminal state starts a fresh run exactly as Trigger does. A
// counter that does not line up with its position means the log is corrupt
// or truncated at the front.
func Replay(records []storage.EventRecord) (state.RunState, error) {
	if len(records) == 0 {
		return state.RunState{}, errors.New("cannot replay empty event log")
	}

	instance := records[0].Instance
	rs := state.Fresh(instance, clockAt(records[0].TimestampMillis))

	for _, record := range records {
		if record.Instance != instance {
			return state.RunState{}, fmt.Errorf("event log mixes instances: %s and %s", instance, record.Instance)
		}

		if rs.State().Terminal() {
			if _, ok := record.Event.(model.TriggerExecution); !ok {
				return state.RunState{}, fmt.Errorf("event log corrupt: %s event at counter %d after terminal state %s",
					record.Event.Type(), record.Counter, rs.State())
			}
			rs = state.Create(instance, state.StateNew, state.ZeroData(), record.TimestampMillis, rs.Counter())
		}

		next, err := rs.Transition(record.Event, clockAt(record.TimestampMillis))
		if err != nil {
			return state.RunState{}, fmt.Errorf("replay failed at counter %d: %w", record.Counter, err)
		}
		if next.Counter() != record.Counter {
			return state.RunState{}, fmt.Errorf("event log corrupt: expected counter %d, record says %d",
				next.Counter(), record.Counter)
		}
		rs = next
	}

	return rs, nil
}

// clockAt returns a Clock frozen at the given epoch millisecond.
func clockAt(millis int64) state.Clock {
	return func() time.Time {
		return time.UnixMilli(millis)
	}
}
