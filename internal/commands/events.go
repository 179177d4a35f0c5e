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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ratchetworks/ratchet/internal/manager"
	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/internal/storage/sqlite"
	ratcheterrors "github.com/ratchetworks/ratchet/pkg/errors"
	"github.com/ratchetworks/ratchet/pkg/model"
)

// NewEventsCommand creates the events command.
func NewEventsCommand() *cobra.Command {
	var replay bool

	cmd := &cobra.Command{
		Use:   "events <component#workflow#parameter>",
		Short: "Show an instance's event log",
		Long: `Print the append-only event log of a run instance in counter order.

With --replay the log is folded back through the state machine and the
result is checked against the stored snapshot. Transitions are pure, so
a healthy log always replays to exactly the persisted state; a mismatch
means the snapshot and the log have diverged.`,
		Example: `  # Example 1: Print the event log
  ratchet events acme#nightly-report#2026-08-24

  # Example 2: Verify the snapshot against the log
  ratchet events acme#nightly-report#2026-08-24 --replay`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eventsList(cmd, args[0], replay)
		},
	}

	cmd.Flags().BoolVar(&replay, "replay", false, "Replay the log and verify it against the stored snapshot")

	return cmd
}

func eventsList(cmd *cobra.Command, key string, replay bool) error {
	instance, err := model.ParseWorkflowInstance(key)
	if err != nil {
		return err
	}

	store, err := openStore(globalDB)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListEvents(cmd.Context(), instance)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no events recorded for %s", instance)
	}

	if globalJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
	} else {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COUNTER\tTIME\tEVENT\tDETAILS")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
				r.Counter, formatMillis(r.TimestampMillis), r.Event.Type(), eventDetails(r.Event))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if !replay {
		return nil
	}
	return verifyReplay(cmd, store, instance, records)
}

// verifyReplay folds the log and compares the result with the snapshot. A
// missing snapshot is reported but not an error: snapshots of finished runs
// may have been pruned while the log was kept.
func verifyReplay(cmd *cobra.Command, store *sqlite.Store, instance model.WorkflowInstance, records []storage.EventRecord) error {
	replayed, err := manager.Replay(records)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	cmd.Println()
	cmd.Printf("Replayed %d events: %s at counter %d (%s)\n",
		len(records), replayed.State(), replayed.Counter(), formatMillis(replayed.TimestampMillis()))

	snapshot, err := store.GetInstance(cmd.Context(), instance)
	var notFound *ratcheterrors.NotFoundError
	if errors.As(err, &notFound) {
		cmd.Println("No stored snapshot to verify against.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	if !reflect.DeepEqual(storage.SnapshotOf(replayed), snapshot) {
		return fmt.Errorf("replay diverges from the stored snapshot: replayed %s at counter %d, stored %s at counter %d",
			replayed.State(), replayed.Counter(), snapshot.State, snapshot.Counter)
	}
	cmd.Println("Replay matches the stored snapshot.")
	return nil
}

// eventDetails renders the variant-specific payload of an event for the log
// table. Variants without a payload render as "-".
func eventDetails(event model.Event) string {
	switch e := event.(type) {
	case model.TriggerExecution:
		return fmt.Sprintf("trigger=%s", e.Trigger)
	case model.Info:
		return e.Message.Line
	case model.Dequeue:
		if len(e.ResourceIDs) == 0 {
			return "-"
		}
		return "resources=" + strings.Join(e.ResourceIDs, ",")
	case model.Submit:
		return fmt.Sprintf("execution=%s image=%s", e.ExecutionID, e.Description.Image)
	case model.Submitted:
		return fmt.Sprintf("execution=%s runner=%s", e.ExecutionID, e.RunnerID)
	case model.Terminate:
		if e.ExitCode == nil {
			return "exit=none"
		}
		return fmt.Sprintf("exit=%d", *e.ExitCode)
	case model.RunError:
		return e.Message
	case model.RetryAfter:
		return fmt.Sprintf("delay=%dms", e.DelayMillis)
	case model.Created:
		return fmt.Sprintf("execution=%s image=%s", e.ExecutionID, e.DockerImage)
	default:
		return "-"
	}
}
