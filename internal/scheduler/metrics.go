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

package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sweepDuration tracks the latency of each sweep kind per tick
	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ratchet_scheduler_sweep_duration_seconds",
			Help:    "Time spent in one scheduler sweep, by sweep kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	// triggers tracks natural trigger attempts by outcome
	triggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_scheduler_triggers_total",
			Help: "Total natural trigger attempts by outcome",
		},
		[]string{"outcome"},
	)

	// dequeues tracks runs moved from QUEUED into PREPARE
	dequeues = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratchet_scheduler_dequeues_total",
			Help: "Total queued runs dequeued into preparation",
		},
	)

	// dequeueSkips tracks queued runs left in place, by reason
	dequeueSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratchet_scheduler_dequeue_skips_total",
			Help: "Total queued runs skipped during a dequeue sweep, by reason",
		},
		[]string{"reason"},
	)

	// queueDepth tracks the number of QUEUED runs seen per sweep
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratchet_scheduler_queue_depth",
			Help: "Number of runs in the queued state at the last sweep",
		},
	)
)

// recordSweep observes the duration of one sweep
func recordSweep(sweep string, elapsed time.Duration) {
	sweepDuration.WithLabelValues(sweep).Observe(elapsed.Seconds())
}

// recordTrigger increments the trigger counter for an outcome
func recordTrigger(outcome string) {
	triggers.WithLabelValues(outcome).Inc()
}

// recordDequeue increments the dequeue counter
func recordDequeue() {
	dequeues.Inc()
}

// recordDequeueSkip increments the skip counter for a reason
func recordDequeueSkip(reason string) {
	dequeueSkips.WithLabelValues(reason).Inc()
}

// recordQueueDepth updates the queue depth gauge
func recordQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
