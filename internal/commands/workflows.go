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

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratchetworks/ratchet/internal/registry"
)

// NewWorkflowsCommand creates the workflows command group.
func NewWorkflowsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and validate workflow definitions",
		Long: `Commands for the workflow definitions the daemon schedules: list what
is registered in the store, and validate definition files before they
are dropped into the watched directory.`,
	}

	cmd.AddCommand(newWorkflowsListCommand())
	cmd.AddCommand(newWorkflowsValidateCommand())
	cmd.AddCommand(newWorkflowsShowCommand())

	return cmd
}

func newWorkflowsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		Example: `  # Example 1: List workflows with their trigger cursors
  ratchet workflows list

  # Example 2: Find workflows whose next trigger is overdue
  ratchet workflows list --json | jq '.[] | select(.next_trigger != null)'`,
		Args: cobra.NoArgs,
		RunE: workflowsList,
	}
}

func workflowsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(globalDB)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListWorkflows(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	if globalJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKFLOW\tSCHEDULE\tENABLED\tNEXT TRIGGER")
	for _, r := range records {
		schedule := string(r.Workflow.Configuration.Schedule)
		if schedule == "" {
			schedule = "-"
		}
		next := "-"
		if r.NextTrigger != nil {
			next = r.NextTrigger.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
			r.Workflow.ID, schedule, r.Workflow.Configuration.IsEnabled(), next)
	}
	return w.Flush()
}

func newWorkflowsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate workflow definition files",
		Long: `Validate parses definition files and checks them the way the daemon's
registry does: YAML syntax, required fields, schedule expressions, and
duplicate workflow ids within a file.`,
		Example: `  # Example 1: Validate one file
  ratchet workflows validate workflows/acme.yaml

  # Example 2: Validate everything before deploying
  ratchet workflows validate workflows/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: workflowsValidate,
	}
}

func workflowsValidate(cmd *cobra.Command, args []string) error {
	failures := 0
	for _, path := range args {
		def, err := loadDefinition(path)
		if err != nil {
			failures++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: error: %v\n", path, err)
			continue
		}
		cmd.Printf("%s: ok (%d workflows)\n", path, len(def.Workflows))
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d files failed validation", failures, len(args))
	}
	return nil
}

func newWorkflowsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Show the workflows a definition file declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflowsShow(cmd, args[0])
		},
	}
}

func workflowsShow(cmd *cobra.Command, path string) error {
	def, err := loadDefinition(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	workflows := def.Models()
	if globalJSON {
		data, err := json.MarshalIndent(workflows, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	for i, wf := range workflows {
		if i > 0 {
			cmd.Println()
		}
		cfg := wf.Configuration
		cmd.Printf("Workflow:     %s\n", wf.ID)
		if cfg.Schedule != "" {
			cmd.Printf("Schedule:     %s (offset %s)\n", cfg.Schedule, cfg.Offset)
		}
		cmd.Printf("Image:        %s\n", cfg.DockerImage)
		if len(cfg.DockerArgs) > 0 {
			cmd.Printf("Args:         %s\n", strings.Join(cfg.DockerArgs, " "))
		}
		if len(cfg.Resources) > 0 {
			cmd.Printf("Resources:    %s\n", strings.Join(cfg.Resources, ", "))
		}
		if cfg.Concurrency != nil {
			cmd.Printf("Concurrency:  %d\n", *cfg.Concurrency)
		}
		if cfg.RetryCondition != "" {
			cmd.Printf("Retry when:   %s\n", cfg.RetryCondition)
		}
		if !cfg.IsEnabled() {
			cmd.Println("Enabled:      false")
		}
	}
	return nil
}

// loadDefinition reads, parses, and validates one definition file.
func loadDefinition(path string) (registry.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return registry.Definition{}, err
	}
	def, err := registry.ParseDefinition(data)
	if err != nil {
		return registry.Definition{}, err
	}
	if err := def.Validate(); err != nil {
		return registry.Definition{}, err
	}
	return def, nil
}
