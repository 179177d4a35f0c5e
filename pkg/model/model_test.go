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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowInstanceKeyForm(t *testing.T) {
	wi := NewWorkflowInstance("acme", "nightly-report", "2026-08-24")
	assert.Equal(t, "acme#nightly-report#2026-08-24", wi.String())

	parsed, err := ParseWorkflowInstance(wi.String())
	require.NoError(t, err)
	assert.Equal(t, wi, parsed)

	for _, bad := range []string{"", "acme", "acme#wf", "acme#wf#", "#wf#p", "a#b#c#d"} {
		_, err := ParseWorkflowInstance(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestWorkflowIDJSONUsesKeyForm(t *testing.T) {
	id := NewWorkflowID("acme", "nightly-report")
	encoded, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"acme#nightly-report"`, string(encoded))

	var decoded WorkflowID
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, id, decoded)

	var bad WorkflowID
	assert.Error(t, json.Unmarshal([]byte(`"missing-separator"`), &bad))
}

func TestWorkflowConfigurationValidate(t *testing.T) {
	one := 1
	zero := 0
	valid := WorkflowConfiguration{
		ID:          "nightly-report",
		Schedule:    ScheduleDaily,
		DockerImage: "busybox",
		Resources:   []string{"db-pool"},
		Concurrency: &one,
	}
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name string
		mut  func(*WorkflowConfiguration)
	}{
		{"empty id", func(c *WorkflowConfiguration) { c.ID = "" }},
		{"id with separator", func(c *WorkflowConfiguration) { c.ID = "a#b" }},
		{"bad schedule", func(c *WorkflowConfiguration) { c.Schedule = "often" }},
		{"negative offset", func(c *WorkflowConfiguration) { c.Offset = -time.Hour }},
		{"zero concurrency", func(c *WorkflowConfiguration) { c.Concurrency = &zero }},
		{"empty resource name", func(c *WorkflowConfiguration) { c.Resources = []string{""} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mut(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWorkflowConfigurationEnabledDefaultsTrue(t *testing.T) {
	var cfg WorkflowConfiguration
	assert.True(t, cfg.IsEnabled())

	off := false
	cfg.Enabled = &off
	assert.False(t, cfg.IsEnabled())
}
