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

package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsApplied tracks applied events by type and resulting state
	eventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_manager_events_applied_total",
			Help: "Total events applied by event type and resulting state",
		},
		[]string{"event_type", "to_state"},
	)

	// eventsRejected tracks rejected events by type and reason
	eventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_manager_events_rejected_total",
			Help: "Total events rejected by event type and reason",
		},
		[]string{"event_type", "reason"},
	)

	// applyDuration tracks end-to-end apply latency including persistence
	applyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ratchet_manager_apply_duration_seconds",
			Help:    "Time to apply one event, including persistence",
			Buckets: prometheus.DefBuckets,
		},
	)

	// activeInstances tracks the size of the active run map
	activeInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratchet_manager_active_instances",
			Help: "Number of active (non-terminal) run states",
		},
	)

	// handlerErrors tracks output handler failures by state
	handlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_manager_handler_errors_total",
			Help: "Total output handler failures by state",
		},
		[]string{"state"},
	)
)

// recordEventApplied increments the applied counter and observes latency
func recordEventApplied(eventType, toState string, elapsed time.Duration) {
	eventsApplied.WithLabelValues(eventType, toState).Inc()
	applyDuration.Observe(elapsed.Seconds())
}

// recordEventRejected increments the rejected counter
func recordEventRejected(eventType, reason string) {
	eventsRejected.WithLabelValues(eventType, reason).Inc()
}

// recordActiveInstances updates the active instance gauge
func recordActiveInstances(count int) {
	activeInstances.Set(float64(count))
}

// recordHandlerError increments the handler error counter
func recordHandlerError(state string) {
	handlerErrors.WithLabelValues(state).Inc()
}
