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
	"context"
	"sync"

	"github.com/ratchetworks/ratchet/pkg/state"
)

// FakeRunner records Start and Halt calls for tests. Zero value is usable;
// RunnerID defaults to "fake".
type FakeRunner struct {
	// RunnerID is returned from Start.
	RunnerID string

	// StartErr, when set, is returned from every Start call.
	StartErr error

	// HaltErr, when set, is returned from every Halt call.
	HaltErr error

	mu         sync.Mutex
	startCalls []state.RunState
	haltCalls  []state.RunState
}

var _ Runner = (*FakeRunner)(nil)

// Start records the call.
func (f *FakeRunner) Start(ctx context.Context, rs state.RunState) (string, error) {
	f.mu.Lock()
	f.startCalls = append(f.startCalls, rs)
	f.mu.Unlock()

	if f.StartErr != nil {
		return "", f.StartErr
	}
	if f.RunnerID != "" {
		return f.RunnerID, nil
	}
	return "fake", nil
}

// Halt records the call.
func (f *FakeRunner) Halt(ctx context.Context, rs state.RunState) error {
	f.mu.Lock()
	f.haltCalls = append(f.haltCalls, rs)
	f.mu.Unlock()
	return f.HaltErr
}

// StartCalls returns the recorded Start arguments.
func (f *FakeRunner) StartCalls() []state.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]state.RunState, len(f.startCalls))
	copy(out, f.startCalls)
	return out
}

// HaltCalls returns the recorded Halt arguments.
func (f *FakeRunner) HaltCalls() []state.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]state.RunState, len(f.haltCalls))
	copy(out, f.haltCalls)
	return out
}
