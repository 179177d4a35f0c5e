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

// Package handlers contains the output handlers that drive runs forward:
// submission, termination policy, timeout supervision, logging, and metrics.
// Each handler observes every state a run enters and reacts by posting
// follow-up events; the state machine itself stays pure.
package handlers

import (
	"context"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// EventSink is where handlers post follow-up events. The state manager
// satisfies it; tests substitute a recorder.
type EventSink interface {
	// Receive applies an event at whatever counter the instance is at.
	Receive(ctx context.Context, event model.Event) error

	// ReceiveIgnoreClosed applies an event only if the instance's counter
	// still matches, swallowing not-active and closed outcomes. Stale
	// counters surface as *manager.StaleEventError.
	ReceiveIgnoreClosed(ctx context.Context, event model.Event, expectedCounter int64) error
}

// WorkflowSupplier returns the current registered workflows, keyed by id.
// The registry serves this from memory; handlers call it on every decision
// so hot-reloaded configuration takes effect immediately.
type WorkflowSupplier func() map[model.WorkflowID]model.Workflow
