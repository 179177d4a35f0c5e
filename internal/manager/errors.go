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
	"errors"
	"fmt"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// ErrClosed is returned when events arrive after Close.
var ErrClosed = errors.New("state manager closed")

// ErrAlreadyActive is returned by Trigger when the instance already has an
// active run.
var ErrAlreadyActive = errors.New("instance already active")

// StaleEventError rejects a counted receive whose observed counter no longer
// matches the instance's current counter. The caller raced another event;
// it may re-read and retry, or drop the event.
type StaleEventError struct {
	Instance model.WorkflowInstance
	Expected int64
	Actual   int64
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("stale event for %s: expected counter %d, current is %d",
		e.Instance, e.Expected, e.Actual)
}

// IsStaleEvent reports whether err is a StaleEventError.
func IsStaleEvent(err error) bool {
	var stale *StaleEventError
	return errors.As(err, &stale)
}

// NotActiveError rejects an event for an instance with no active run, either
// because it was never triggered or because it already reached a terminal
// state and was archived.
type NotActiveError struct {
	Instance model.WorkflowInstance
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("instance not active: %s", e.Instance)
}

// IsNotActive reports whether err is a NotActiveError.
func IsNotActive(err error) bool {
	var notActive *NotActiveError
	return errors.As(err, &notActive)
}
