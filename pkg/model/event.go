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

package model

import (
	"encoding/json"
	"fmt"
)

// EventType tags an event variant. The values are stable wire constants:
// persisted event logs are decoded against them, including logs written by
// retired producers (timeTrigger, created, retry).
type EventType string

const (
	EventTimeTrigger      EventType = "timeTrigger"
	EventTriggerExecution EventType = "triggerExecution"
	EventInfo             EventType = "info"
	EventDequeue          EventType = "dequeue"
	EventCreated          EventType = "created"
	EventSubmit           EventType = "submit"
	EventSubmitted        EventType = "submitted"
	EventStarted          EventType = "started"
	EventTerminate        EventType = "terminate"
	EventRunError         EventType = "runError"
	EventSuccess          EventType = "success"
	EventRetryAfter       EventType = "retryAfter"
	EventRetry            EventType = "retry"
	EventStop             EventType = "stop"
	EventTimeout          EventType = "timeout"
	EventHalt             EventType = "halt"
)

// Event is one message in the life of a workflow instance. Every variant
// carries the instance it addresses; the state machine switches on the
// variant to decide the transition.
type Event interface {
	Instance() WorkflowInstance
	Type() EventType
	isEvent()
}

// TriggerExecution requests a fresh run on behalf of a trigger.
type TriggerExecution struct {
	WorkflowInstance WorkflowInstance  `json:"workflow_instance"`
	Trigger          Trigger           `json:"trigger"`
	Parameters       TriggerParameters `json:"parameters"`
}

// Info attaches an operator-visible message to a queued run.
type Info struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	Message          Message          `json:"message"`
}

// Dequeue moves a queued run into preparation, recording the resources the
// scheduler reserved for it.
type Dequeue struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	ResourceIDs      []string         `json:"resource_ids"`
}

// Submit records the execution about to be handed to the runner.
type Submit struct {
	WorkflowInstance WorkflowInstance     `json:"workflow_instance"`
	Description      ExecutionDescription `json:"execution_description"`
	ExecutionID      string               `json:"execution_id"`
}

// Submitted reports that a runner accepted the execution.
type Submitted struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	ExecutionID      string           `json:"execution_id"`
	RunnerID         string           `json:"runner_id"`
}

// Started reports that the execution began running.
type Started struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// Terminate reports that the execution finished. ExitCode is nil when the
// runner could not observe one; that is distinct from exit 0.
type Terminate struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	ExitCode         *int             `json:"exit_code,omitempty"`
}

// RunError reports an execution failure outside the executed process, for
// example a runner that could not start it.
type RunError struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	Message          string           `json:"message"`
}

// Success completes a terminated run.
type Success struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// RetryAfter re-queues a run, to become eligible for dequeue after the
// given delay.
type RetryAfter struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	DelayMillis      int64            `json:"delay_millis"`
}

// Retry re-runs immediately, skipping the queue delay. Legacy: accepted for
// replay of historical logs; new code posts RetryAfter.
type Retry struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// Stop gives up on a failed run.
type Stop struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// Timeout fails a run that dwelt too long in its current state.
type Timeout struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// Halt is the administrative kill switch; the run ends in ERROR.
type Halt struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// TimeTrigger is the pre-trigger-metadata form of TriggerExecution. Legacy:
// accepted for replay of historical logs only.
type TimeTrigger struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
}

// Created is the pre-submit-handshake form of Submit+Submitted. Legacy:
// accepted for replay of historical logs only.
type Created struct {
	WorkflowInstance WorkflowInstance `json:"workflow_instance"`
	ExecutionID      string           `json:"execution_id"`
	DockerImage      string           `json:"docker_image"`
}

func (e TriggerExecution) Instance() WorkflowInstance { return e.WorkflowInstance }
func (e Info) Instance() WorkflowInstance             { return e.WorkflowInstance }
func (e Dequeue) Instance() WorkflowInstance          { return e.WorkflowInstance }
func (e Submit) Instance() WorkflowInstance           { return e.WorkflowInstance }
func (e Submitted) Instance() WorkflowInstance        { return e.WorkflowInstance }
func (e Started) Instance() WorkflowInstance          { return e.WorkflowInstance }
func (e Terminate) Instance() WorkflowInstance        { return e.WorkflowInstance }
func (e RunError) Instance() WorkflowInstance         { return e.WorkflowInstance }
func (e Success) Instance() WorkflowInstance          { return e.WorkflowInstance }
func (e RetryAfter) Instance() WorkflowInstance       { return e.WorkflowInstance }
func (e Retry) Instance() WorkflowInstance            { return e.WorkflowInstance }
func (e Stop) Instance() WorkflowInstance             { return e.WorkflowInstance }
func (e Timeout) Instance() WorkflowInstance          { return e.WorkflowInstance }
func (e Halt) Instance() WorkflowInstance             { return e.WorkflowInstance }
func (e TimeTrigger) Instance() WorkflowInstance      { return e.WorkflowInstance }
func (e Created) Instance() WorkflowInstance          { return e.WorkflowInstance }

func (TriggerExecution) Type() EventType { return EventTriggerExecution }
func (Info) Type() EventType             { return EventInfo }
func (Dequeue) Type() EventType          { return EventDequeue }
func (Submit) Type() EventType           { return EventSubmit }
func (Submitted) Type() EventType        { return EventSubmitted }
func (Started) Type() EventType          { return EventStarted }
func (Terminate) Type() EventType        { return EventTerminate }
func (RunError) Type() EventType         { return EventRunError }
func (Success) Type() EventType          { return EventSuccess }
func (RetryAfter) Type() EventType       { return EventRetryAfter }
func (Retry) Type() EventType            { return EventRetry }
func (Stop) Type() EventType             { return EventStop }
func (Timeout) Type() EventType          { return EventTimeout }
func (Halt) Type() EventType             { return EventHalt }
func (TimeTrigger) Type() EventType      { return EventTimeTrigger }
func (Created) Type() EventType          { return EventCreated }

func (TriggerExecution) isEvent() {}
func (Info) isEvent()             {}
func (Dequeue) isEvent()          {}
func (Submit) isEvent()           {}
func (Submitted) isEvent()        {}
func (Started) isEvent()          {}
func (Terminate) isEvent()        {}
func (RunError) isEvent()         {}
func (Success) isEvent()          {}
func (RetryAfter) isEvent()       {}
func (Retry) isEvent()            {}
func (Stop) isEvent()             {}
func (Timeout) isEvent()          {}
func (Halt) isEvent()             {}
func (TimeTrigger) isEvent()      {}
func (Created) isEvent()          {}

// MarshalEvent encodes an event as a flat JSON object tagged with "@type".
// Keys are emitted in sorted order, so equal events encode identically.
func MarshalEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot marshal nil event")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Type(), err)
	}
	tag, err := json.Marshal(e.Type())
	if err != nil {
		return nil, err
	}
	fields["@type"] = tag
	return json.Marshal(fields)
}

// UnmarshalEvent decodes an event produced by MarshalEvent. Every variant in
// the alphabet is handled; unknown tags are an error so corrupted logs fail
// loudly instead of replaying wrong.
func UnmarshalEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"@type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	switch head.Type {
	case EventTriggerExecution:
		return decodeEvent[TriggerExecution](data)
	case EventInfo:
		return decodeEvent[Info](data)
	case EventDequeue:
		return decodeEvent[Dequeue](data)
	case EventSubmit:
		return decodeEvent[Submit](data)
	case EventSubmitted:
		return decodeEvent[Submitted](data)
	case EventStarted:
		return decodeEvent[Started](data)
	case EventTerminate:
		return decodeEvent[Terminate](data)
	case EventRunError:
		return decodeEvent[RunError](data)
	case EventSuccess:
		return decodeEvent[Success](data)
	case EventRetryAfter:
		return decodeEvent[RetryAfter](data)
	case EventRetry:
		return decodeEvent[Retry](data)
	case EventStop:
		return decodeEvent[Stop](data)
	case EventTimeout:
		return decodeEvent[Timeout](data)
	case EventHalt:
		return decodeEvent[Halt](data)
	case EventTimeTrigger:
		return decodeEvent[TimeTrigger](data)
	case EventCreated:
		return decodeEvent[Created](data)
	case "":
		return nil, fmt.Errorf("decoding event: missing @type tag")
	default:
		return nil, fmt.Errorf("decoding event: unknown type %q", head.Type)
	}
}

func decodeEvent[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", e.Type(), err)
	}
	return e, nil
}
