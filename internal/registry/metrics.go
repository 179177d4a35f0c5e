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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// registered tracks the number of workflows after the last load
	registered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratchet_registry_workflows",
			Help: "Number of registered workflows after the last load",
		},
	)

	// loadProblems tracks definition files skipped during loads
	loadProblems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratchet_registry_load_problems_total",
			Help: "Total definition files or workflows skipped during loads",
		},
	)

	// reloads tracks watcher-initiated reloads
	reloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratchet_registry_reloads_total",
			Help: "Total hot reloads triggered by file changes",
		},
	)
)

// recordLoad updates the gauge and problem counter after a load pass
func recordLoad(workflows, problems int) {
	registered.Set(float64(workflows))
	loadProblems.Add(float64(problems))
}

// recordReload counts a watcher-triggered reload
func recordReload() {
	reloads.Inc()
}
