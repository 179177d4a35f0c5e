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

package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ratchetworks/ratchet/pkg/state"
)

var (
	// executionsStarted tracks processes spawned
	executionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratchet_runner_executions_started_total",
			Help: "Total executions started by the local runner",
		},
	)

	// executionsHalted tracks processes killed on request
	executionsHalted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratchet_runner_executions_halted_total",
			Help: "Total executions halted by the local runner",
		},
	)

	// executionExits tracks process exits by class
	executionExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_runner_execution_exits_total",
			Help: "Total execution exits by exit class",
		},
		[]string{"class"},
	)
)

// recordExecutionStarted increments the started counter
func recordExecutionStarted() {
	executionsStarted.Inc()
}

// recordExecutionHalted increments the halted counter
func recordExecutionHalted() {
	executionsHalted.Inc()
}

// recordExecutionExit increments the exit counter
func recordExecutionExit(code *int) {
	executionExits.WithLabelValues(exitClass(code)).Inc()
}

// exitClass buckets an exit code the way the retry policy sees it.
func exitClass(code *int) string {
	if code == nil {
		return "unknown"
	}
	switch *code {
	case state.ExitSuccess:
		return "success"
	case state.ExitMissingDependencies:
		return "missing_dependencies"
	case state.ExitUnrecoverableFailure:
		return "unrecoverable"
	default:
		return "failure"
	}
}
