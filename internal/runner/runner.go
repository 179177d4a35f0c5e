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

// Package runner starts and stops workflow executions. The scheduler core
// only sees the Runner interface; the default implementation runs executions
// as local child processes.
package runner

import (
	"context"

	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// Runner starts and halts executions.
type Runner interface {
	// Start launches the execution described by the run's StateData and
	// returns once it is running, along with an identifier for the runner
	// that owns it. Termination is reported asynchronously through the
	// event sink.
	Start(ctx context.Context, rs state.RunState) (runnerID string, err error)

	// Halt stops the run's execution if this runner still owns it.
	// Halting an execution the runner does not know is a no-op.
	Halt(ctx context.Context, rs state.RunState) error
}

// EventSink is where a runner reports terminations.
type EventSink interface {
	Receive(ctx context.Context, event model.Event) error
}
