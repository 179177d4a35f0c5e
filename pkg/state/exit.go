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
	"strconv"

	"github.com/ratchetworks/ratchet/pkg/model"
)

// Exit codes with scheduler-level meaning. These are stable wire constants:
// executions signal them and persisted runs record them.
const (
	ExitSuccess              = 0
	ExitMissingDependencies  = 20
	ExitUnrecoverableFailure = 50
	ExitUnknownError         = 1
)

// Retry cost charged per termination class. Missing dependencies barely dent
// the retry budget; real failures consume it one unit at a time.
const (
	MissingDependenciesCost = 0.1
	FailureCost             = 1.0
)

// exitCost returns the retry-budget charge for an exit code. A nil code
// means the runner never observed one, which is charged like a failure.
func exitCost(code *int) float64 {
	if code == nil {
		return FailureCost
	}
	switch *code {
	case ExitSuccess:
		return 0.0
	case ExitMissingDependencies:
		return MissingDependenciesCost
	default:
		return FailureCost
	}
}

// endsFailureStreak reports whether the exit resets consecutiveFailures.
// Only clean success and missing dependencies do; everything else, including
// an absent code, extends the streak.
func endsFailureStreak(code *int) bool {
	return code != nil && (*code == ExitSuccess || *code == ExitMissingDependencies)
}

// exitLevel returns the message level a termination is recorded at.
func exitLevel(code *int) model.MessageLevel {
	if code == nil {
		return model.MessageLevelError
	}
	switch *code {
	case ExitSuccess:
		return model.MessageLevelInfo
	case ExitMissingDependencies:
		return model.MessageLevelWarning
	default:
		return model.MessageLevelError
	}
}

// formatExitCode renders an exit code for run messages; "-" when absent.
func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}
