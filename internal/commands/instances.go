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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// NewInstancesCommand creates the instances command group.
func NewInstancesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect workflow run instances",
		Long: `Commands for listing and examining run instances: the per-partition
runs the scheduler drives through the QUEUED/RUNNING/DONE lifecycle.`,
	}

	cmd.AddCommand(newInstancesListCommand())
	cmd.AddCommand(newInstancesShowCommand())

	return cmd
}

func newInstancesListCommand() *cobra.Command {
	var (
		stateFilter string
		active      bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List run instances",
		Example: `  # Example 1: List all run instances
  ratchet instances list

  # Example 2: Only runs currently waiting in the queue
  ratchet instances list --state QUEUED

  # Example 3: Everything that is not yet terminal
  ratchet instances list --active

  # Example 4: Pipe to jq
  ratchet instances list --json | jq '.[].workflow_instance'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return instancesList(cmd, stateFilter, active, limit)
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Filter by state (NEW, QUEUED, PREPARE, ...)")
	cmd.Flags().BoolVar(&active, "active", false, "Show only active (non-terminal) runs")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results (0 = unlimited)")

	return cmd
}

func instancesList(cmd *cobra.Command, stateFilter string, active bool, limit int) error {
	store, err := openStore(globalDB)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := storage.InstanceFilter{Active: active, Limit: limit}
	if stateFilter != "" {
		st, err := state.ParseState(strings.ToUpper(stateFilter))
		if err != nil {
			return err
		}
		filter.State = st
	}

	snapshots, err := store.ListInstances(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if globalJSON {
		data, err := json.MarshalIndent(snapshots, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATE\tTRIES\tCOUNTER\tUPDATED")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			s.Instance, s.State, s.Data.Tries, s.Counter, formatMillis(s.TimestampMillis))
	}
	return w.Flush()
}

func newInstancesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <component#workflow#parameter>",
		Short: "Show one run instance in detail",
		Example: `  # Example 1: Show the 2026-08-24 partition of a daily workflow
  ratchet instances show acme#nightly-report#2026-08-24

  # Example 2: Extract the recorded exit code
  ratchet instances show acme#nightly-report#2026-08-24 --json | jq '.data.last_exit'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return instancesShow(cmd, args[0])
		},
	}
}

func instancesShow(cmd *cobra.Command, key string) error {
	instance, err := model.ParseWorkflowInstance(key)
	if err != nil {
		return err
	}

	store, err := openStore(globalDB)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshot, err := store.GetInstance(cmd.Context(), instance)
	if err != nil {
		return err
	}

	if globalJSON {
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	printSnapshot(cmd, snapshot)
	return nil
}

func printSnapshot(cmd *cobra.Command, s storage.InstanceSnapshot) {
	cmd.Printf("Instance:     %s\n", s.Instance)
	cmd.Printf("State:        %s\n", s.State)
	cmd.Printf("Updated:      %s\n", formatMillis(s.TimestampMillis))
	cmd.Printf("Counter:      %d\n", s.Counter)
	cmd.Printf("Tries:        %d (consecutive failures: %d, retry cost: %.1f)\n",
		s.Data.Tries, s.Data.ConsecutiveFailures, s.Data.RetryCost)

	if s.Data.Trigger != nil {
		cmd.Printf("Trigger:      %s\n", s.Data.Trigger)
	}
	if s.Data.ExecutionID != "" {
		cmd.Printf("Execution:    %s\n", s.Data.ExecutionID)
	}
	if s.Data.RunnerID != "" {
		cmd.Printf("Runner:       %s\n", s.Data.RunnerID)
	}
	if desc := s.Data.ExecutionDescription; desc != nil {
		cmd.Printf("Image:        %s\n", desc.Image)
		if len(desc.Args) > 0 {
			cmd.Printf("Args:         %s\n", strings.Join(desc.Args, " "))
		}
	}
	if s.Data.ResourceIDs != nil {
		cmd.Printf("Resources:    %s\n", strings.Join(s.Data.ResourceIDs, ", "))
	}
	if s.Data.RetryDelayMillis != nil {
		cmd.Printf("Retry delay:  %dms\n", *s.Data.RetryDelayMillis)
	}
	if s.Data.LastExit != nil {
		cmd.Printf("Last exit:    %d\n", *s.Data.LastExit)
	}
	if len(s.Data.Messages) > 0 {
		cmd.Println("Messages:")
		for _, msg := range s.Data.Messages {
			cmd.Printf("  %-8s %s\n", msg.Level, msg.Line)
		}
	}
}
