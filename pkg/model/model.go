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

// Package model defines the identities and value types shared across the
// scheduler: workflow ids, workflow instances, workflow configuration, and
// the event alphabet that drives run states.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WorkflowID identifies a workflow definition within a component.
type WorkflowID struct {
	Component string `json:"component" yaml:"component"`
	ID        string `json:"id" yaml:"id"`
}

// NewWorkflowID creates a WorkflowID from a component and a workflow name.
func NewWorkflowID(component, id string) WorkflowID {
	return WorkflowID{Component: component, ID: id}
}

// ParseWorkflowID parses the "component#id" key form.
func ParseWorkflowID(s string) (WorkflowID, error) {
	parts := strings.Split(s, "#")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return WorkflowID{}, fmt.Errorf("invalid workflow id %q: want component#id", s)
	}
	return WorkflowID{Component: parts[0], ID: parts[1]}, nil
}

// String returns the "component#id" key form.
func (w WorkflowID) String() string {
	return w.Component + "#" + w.ID
}

// MarshalJSON encodes the id in its key form.
func (w WorkflowID) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON decodes the "component#id" key form.
func (w *WorkflowID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseWorkflowID(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// WorkflowInstance names one parameterized invocation of a workflow, for
// example the 2026-08-25T14 partition of an hourly workflow.
type WorkflowInstance struct {
	WorkflowID WorkflowID
	Parameter  string
}

// NewWorkflowInstance creates a WorkflowInstance.
func NewWorkflowInstance(component, id, parameter string) WorkflowInstance {
	return WorkflowInstance{
		WorkflowID: WorkflowID{Component: component, ID: id},
		Parameter:  parameter,
	}
}

// ParseWorkflowInstance parses the "component#id#parameter" key form.
func ParseWorkflowInstance(s string) (WorkflowInstance, error) {
	parts := strings.Split(s, "#")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return WorkflowInstance{}, fmt.Errorf("invalid workflow instance %q: want component#id#parameter", s)
	}
	return WorkflowInstance{
		WorkflowID: WorkflowID{Component: parts[0], ID: parts[1]},
		Parameter:  parts[2],
	}, nil
}

// String returns the "component#id#parameter" key form. Storage and event
// logs key instances by this string.
func (wi WorkflowInstance) String() string {
	return wi.WorkflowID.String() + "#" + wi.Parameter
}

// MarshalJSON encodes the instance in its key form.
func (wi WorkflowInstance) MarshalJSON() ([]byte, error) {
	return json.Marshal(wi.String())
}

// UnmarshalJSON decodes the "component#id#parameter" key form.
func (wi *WorkflowInstance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseWorkflowInstance(s)
	if err != nil {
		return err
	}
	*wi = parsed
	return nil
}

// Workflow pairs a workflow id with its configuration.
type Workflow struct {
	ID            WorkflowID            `json:"id"`
	Configuration WorkflowConfiguration `json:"configuration"`
}

// NewWorkflow builds a Workflow for a component from a configuration.
func NewWorkflow(component string, cfg WorkflowConfiguration) Workflow {
	return Workflow{
		ID:            WorkflowID{Component: component, ID: cfg.ID},
		Configuration: cfg,
	}
}

// WorkflowConfiguration is the user-supplied definition of a workflow:
// when it runs, what it executes, and how failures are retried.
type WorkflowConfiguration struct {
	// ID is the workflow name, unique within its component.
	ID string `json:"id" yaml:"id"`

	// Schedule is a well-known alias (@hourly, @daily, ...) or a cron
	// expression. Empty disables natural triggering.
	Schedule Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Offset delays natural triggers past the end of each partition, for
	// upstream data that lands late.
	Offset time.Duration `json:"offset,omitempty" yaml:"offset,omitempty"`

	// DockerImage and DockerArgs describe what an execution runs. Args may
	// reference the instance parameter via the {} placeholder.
	DockerImage string   `json:"docker_image,omitempty" yaml:"docker_image,omitempty"`
	DockerArgs  []string `json:"docker_args,omitempty" yaml:"docker_args,omitempty"`

	// Env is injected into every execution of this workflow.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// CommitSHA records the source revision the image was built from.
	CommitSHA string `json:"commit_sha,omitempty" yaml:"commit_sha,omitempty"`

	// RunningTimeout overrides the default RUNNING time-to-live.
	RunningTimeout *time.Duration `json:"running_timeout,omitempty" yaml:"running_timeout,omitempty"`

	// RetryCondition is an optional boolean expression consulted before a
	// failed run is retried. Variables: exitCode, tries,
	// consecutiveFailures, retryCost, triggerType.
	RetryCondition string `json:"retry_condition,omitempty" yaml:"retry_condition,omitempty"`

	// Resources names the concurrency resources an execution holds while
	// it is dequeued.
	Resources []string `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Concurrency caps concurrent executions of this workflow. Nil means
	// unlimited.
	Concurrency *int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Enabled gates natural triggering. Defaults to true.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether natural triggers should fire for the workflow.
func (c WorkflowConfiguration) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks the configuration for structural problems.
func (c WorkflowConfiguration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if strings.Contains(c.ID, "#") {
		return fmt.Errorf("workflow id %q must not contain '#'", c.ID)
	}
	if c.Schedule != "" {
		if err := c.Schedule.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", c.ID, err)
		}
	}
	if c.Offset < 0 {
		return fmt.Errorf("workflow %s: offset must not be negative", c.ID)
	}
	if c.Concurrency != nil && *c.Concurrency < 1 {
		return fmt.Errorf("workflow %s: concurrency must be at least 1", c.ID)
	}
	for _, r := range c.Resources {
		if r == "" {
			return fmt.Errorf("workflow %s: resource names must not be empty", c.ID)
		}
	}
	return nil
}

// TriggerParameters is the opaque parameter bag supplied with a trigger.
type TriggerParameters struct {
	Env map[string]string `json:"env,omitempty"`
}

// ExecutionDescription captures what was handed to the runner at submission
// time, so the run can be traced back to an image and revision.
type ExecutionDescription struct {
	Image     string   `json:"docker_image"`
	Args      []string `json:"docker_args,omitempty"`
	CommitSHA string   `json:"commit_sha,omitempty"`
}

// ExecutionDescriptionForImage builds a description carrying only an image.
// Used when replaying legacy created events, which recorded nothing else.
func ExecutionDescriptionForImage(image string) ExecutionDescription {
	return ExecutionDescription{Image: image}
}
