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
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	ratcheterrors "github.com/ratchetworks/ratchet/pkg/errors"
)

// Evaluator evaluates retry-condition expressions. Compiled programs are
// cached; workflows re-evaluate the same condition on every failed run.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// EvalBool evaluates a boolean expression against the given variables.
// An empty expression is vacuously true.
func (e *Evaluator) EvalBool(expression string, vars map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &ratcheterrors.ValidationError{
			Field:      "retry_condition",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax; variables are exitCode, tries, consecutiveFailures, retryCost, triggerType",
		}
	}

	result, err := expr.Run(program, vars)
	if err != nil {
		return false, &ratcheterrors.ValidationError{
			Field:      "retry_condition",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "variables are exitCode, tries, consecutiveFailures, retryCost, triggerType",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &ratcheterrors.ValidationError{
			Field:      "retry_condition",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			Suggestion: "use comparison operators (==, !=, <, >) or boolean connectives",
		}
	}

	return boolResult, nil
}

// CacheSize returns the number of compiled programs held.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// compile compiles an expression and caches the result.
func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	// exitCode is nil for runs that failed without exiting, so variables
	// stay untyped and undefined names are tolerated at compile time.
	prog, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}
