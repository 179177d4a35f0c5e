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

package registry

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// Definition is one workflow definition file: a component name plus the
// workflows it owns. Workflow ids are unique within the component.
type Definition struct {
	Component string                        `yaml:"component"`
	Workflows []model.WorkflowConfiguration `yaml:"workflows"`
}

// ParseDefinition decodes a definition file.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("failed to parse definition: %w", err)
	}
	return def, nil
}

// Validate checks the definition for structural problems: a usable component
// name, at least one workflow, valid workflow configurations, and no
// duplicate ids.
func (d Definition) Validate() error {
	if d.Component == "" {
		return fmt.Errorf("definition has no component name")
	}
	if strings.Contains(d.Component, "#") {
		return fmt.Errorf("component %q must not contain '#'", d.Component)
	}
	if len(d.Workflows) == 0 {
		return fmt.Errorf("component %s defines no workflows", d.Component)
	}

	seen := make(map[string]bool, len(d.Workflows))
	for _, cfg := range d.Workflows {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("component %s: %w", d.Component, err)
		}
		if seen[cfg.ID] {
			return fmt.Errorf("component %s: duplicate workflow id %q", d.Component, cfg.ID)
		}
		seen[cfg.ID] = true
	}
	return nil
}

// Models converts the definition into registerable workflows.
func (d Definition) Models() []model.Workflow {
	workflows := make([]model.Workflow, 0, len(d.Workflows))
	for _, cfg := range d.Workflows {
		workflows = append(workflows, model.NewWorkflow(d.Component, cfg))
	}
	return workflows
}
