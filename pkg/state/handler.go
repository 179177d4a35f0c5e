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

package state

import "context"

// OutputHandler observes every state a run enters. The state manager invokes
// handlers after a transition has been applied and persisted, passing the
// post-transition snapshot. Handlers may post follow-up events back through
// the manager; they must tolerate seeing the same state more than once, as
// the scheduler also sweeps active snapshots through them periodically.
type OutputHandler interface {
	TransitionInto(ctx context.Context, runState RunState) error
}

// OutputHandlerFunc adapts a function to OutputHandler.
type OutputHandlerFunc func(ctx context.Context, runState RunState) error

// TransitionInto calls f.
func (f OutputHandlerFunc) TransitionInto(ctx context.Context, runState RunState) error {
	return f(ctx, runState)
}
