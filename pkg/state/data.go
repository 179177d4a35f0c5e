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
	"maps"
	"slices"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// StateData is the bookkeeping accumulated over a run. Values are derived,
// never mutated: each transition copies the data and replaces the fields the
// event touches.
//
// Pointer fields distinguish absent from present-zero; that distinction is
// load-bearing for LastExit (exit 0 is success, no exit is a failure) and
// RetryDelayMillis (a zero delay is immediately eligible, no delay is not
// waiting at all). ResourceIDs distinguishes nil (no holds recorded) from
// empty (dequeued holding nothing), which the JSON shape preserves as null
// versus [].
type StateData struct {
	Trigger              *model.Trigger              `json:"trigger,omitempty"`
	TriggerID            string                      `json:"trigger_id,omitempty"`
	TriggerParameters    *model.TriggerParameters    `json:"trigger_parameters,omitempty"`
	ExecutionID          string                      `json:"execution_id,omitempty"`
	ExecutionDescription *model.ExecutionDescription `json:"execution_description,omitempty"`
	RunnerID             string                      `json:"runner_id,omitempty"`
	ResourceIDs          []string                    `json:"resource_ids"`
	RetryDelayMillis     *int64                      `json:"retry_delay_millis,omitempty"`
	Tries                int                         `json:"tries"`
	ConsecutiveFailures  int                         `json:"consecutive_failures"`
	RetryCost            float64                     `json:"retry_cost"`
	LastExit             *int                        `json:"last_exit,omitempty"`
	Messages             []model.Message             `json:"messages,omitempty"`
}

// ZeroData is the data of a run that has seen no events: all optionals
// absent, counters at zero, no messages.
func ZeroData() StateData {
	return StateData{}
}

// Clone returns a deep copy. Transitions never mutate shared backing arrays,
// but snapshots handed outside the state manager get a Clone so callers
// cannot reach back in.
func (d StateData) Clone() StateData {
	if d.Trigger != nil {
		t := *d.Trigger
		d.Trigger = &t
	}
	if d.TriggerParameters != nil {
		p := model.TriggerParameters{Env: maps.Clone(d.TriggerParameters.Env)}
		d.TriggerParameters = &p
	}
	if d.ExecutionDescription != nil {
		desc := *d.ExecutionDescription
		desc.Args = slices.Clone(desc.Args)
		d.ExecutionDescription = &desc
	}
	d.ResourceIDs = slices.Clone(d.ResourceIDs)
	if d.RetryDelayMillis != nil {
		v := *d.RetryDelayMillis
		d.RetryDelayMillis = &v
	}
	if d.LastExit != nil {
		v := *d.LastExit
		d.LastExit = &v
	}
	d.Messages = slices.Clone(d.Messages)
	return d
}

// appendMessage derives a data value with one more message. The backing
// array is copied so earlier values never observe the append.
func (d StateData) appendMessage(msg model.Message) StateData {
	msgs := make([]model.Message, len(d.Messages), len(d.Messages)+1)
	copy(msgs, d.Messages)
	d.Messages = append(msgs, msg)
	return d
}

// normalizeResourceIDs copies, sorts, and dedupes a resource set so equal
// sets have one canonical form. nil stays nil.
func normalizeResourceIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
