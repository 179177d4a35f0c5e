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

// Package commands implements the ratchet CLI: offline inspection of the
// daemon's SQLite store (run instances, event logs, registered workflows)
// and validation of workflow definition files.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratchetworks/ratchet/internal/config"
	"github.com/ratchetworks/ratchet/internal/storage/sqlite"
)

// Version information (set from build-time ldflags via SetVersion)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags shared by all subcommands.
var (
	globalDB   string
	globalJSON bool
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand creates the root Cobra command for the ratchet CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratchet",
		Short: "Ratchet - workflow run inspection",
		Long: `Ratchet inspects the state ratchetd persists: run instances and their
event logs, plus the workflow definitions the daemon has registered.
It reads the daemon's SQLite database directly, so it works whether or
not the daemon is running.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // main prints the error itself
	}

	cmd.PersistentFlags().StringVar(&globalDB, "db", "", "SQLite database path (default: the daemon's configured path)")
	cmd.PersistentFlags().BoolVar(&globalJSON, "json", false, "Output in JSON format")

	return cmd
}

// openStore opens the daemon's database for inspection. The file must
// already exist: an inspection command that quietly creates an empty
// database would only hide a wrong --db path.
func openStore(path string) (*sqlite.Store, error) {
	if path == "" {
		path = config.Default().Storage.Path
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no database at %s (pass --db, or check the daemon's storage config)", path)
	}
	return sqlite.New(sqlite.Config{Path: path, WAL: true})
}

// formatMillis renders an epoch-millisecond timestamp for table output.
func formatMillis(millis int64) string {
	if millis == 0 {
		return "-"
	}
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}
