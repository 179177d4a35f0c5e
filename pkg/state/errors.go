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

import (
	"errors"
	"fmt"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// IllegalTransitionError reports an event the current state does not admit.
// It signals a bug or a stale view in the caller, never an execution
// failure; execution failures travel as RunError events.
type IllegalTransitionError struct {
	Instance model.WorkflowInstance
	State    State
	Event    model.EventType
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s received %s while in %s", e.Instance, e.Event, e.State)
}

// IsIllegalTransition reports whether err is an illegal-transition failure.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}
