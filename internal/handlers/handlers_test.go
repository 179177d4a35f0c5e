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
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClock(millis int64) state.Clock {
	return func() time.Time {
		return time.UnixMilli(millis)
	}
}

func testInstance(parameter string) model.WorkflowInstance {
	return model.NewWorkflowInstance("acme", "nightly-report", parameter)
}

func intp(v int) *int {
	return &v
}

// countedEvent is one ReceiveIgnoreClosed call seen by the recorder.
type countedEvent struct {
	event   model.Event
	counter int64
}

// recorderSink stands in for the state manager and records what handlers
// post. A non-nil err is returned from every call without recording.
type recorderSink struct {
	mu      sync.Mutex
	err     error
	plain   []model.Event
	counted []countedEvent
}

func (s *recorderSink) Receive(ctx context.Context, event model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.plain = append(s.plain, event)
	return nil
}

func (s *recorderSink) ReceiveIgnoreClosed(ctx context.Context, event model.Event, expectedCounter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.counted = append(s.counted, countedEvent{event: event, counter: expectedCounter})
	return nil
}

func (s *recorderSink) countedEvents() []countedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]countedEvent, len(s.counted))
	copy(out, s.counted)
	return out
}

// staticWorkflows builds a WorkflowSupplier over a fixed set.
func staticWorkflows(wfs ...model.Workflow) WorkflowSupplier {
	m := make(map[model.WorkflowID]model.Workflow, len(wfs))
	for _, wf := range wfs {
		m[wf.ID] = wf
	}
	return func() map[model.WorkflowID]model.Workflow {
		return m
	}
}
