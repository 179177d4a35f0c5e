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

package handlers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// timeouts tracks runs timed out by the state they dwelled in
	timeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_handlers_timeouts_total",
			Help: "Total runs timed out by state",
		},
		[]string{"state"},
	)

	// terminationOutcomes tracks retry decisions by outcome
	terminationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_handlers_termination_outcomes_total",
			Help: "Total termination decisions by outcome",
		},
		[]string{"outcome"},
	)

	// submissions tracks executions handed to the runner
	submissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratchet_handlers_submissions_total",
			Help: "Total executions submitted to the runner",
		},
	)

	// runErrorsRaised tracks run errors raised by the execution handler
	runErrorsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_handlers_run_errors_total",
			Help: "Total run errors raised by reason",
		},
		[]string{"reason"},
	)

	// stateEntries tracks every observed transition by destination state
	stateEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_runs_state_entries_total",
			Help: "Total run state entries by state",
		},
		[]string{"state"},
	)
)

// recordTimeout increments the timeout counter
func recordTimeout(state string) {
	timeouts.WithLabelValues(state).Inc()
}

// recordTerminationOutcome increments the decision counter
func recordTerminationOutcome(outcome string) {
	terminationOutcomes.WithLabelValues(outcome).Inc()
}

// recordSubmission increments the submission counter
func recordSubmission() {
	submissions.Inc()
}

// recordRunError increments the run error counter
func recordRunError(reason string) {
	runErrorsRaised.WithLabelValues(reason).Inc()
}

// recordStateEntry increments the state entry counter
func recordStateEntry(state string) {
	stateEntries.WithLabelValues(state).Inc()
}
