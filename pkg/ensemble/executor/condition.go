// Copyright 2026 Conductor Authors
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

package executor

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// conditionEvaluator evaluates a step's `when` or a branch/while's
// condition expression, caching compiled programs by expression text.
// Mirrors the scoring package's RuleEvaluator, both descending from the
// same compile-cache idiom.
type conditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: make(map[string]*vm.Program)}
}

func (c *conditionEvaluator) compile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	if p, ok := c.cache[expression]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	program, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, &conductorerrors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax against input/state/outputs/env",
		}
	}

	c.mu.Lock()
	c.cache[expression] = program
	c.mu.Unlock()
	return program, nil
}

// Eval evaluates expression against env. An empty expression is always
// true, matching the teacher's "no condition means always run" default.
func (c *conditionEvaluator) Eval(expression string, env map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := c.compile(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &conductorerrors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced input/state/outputs/env paths exist",
		}
	}

	b, ok := result.(bool)
	if !ok {
		return false, &conductorerrors.ValidationError{
			Field:      "when",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			Suggestion: "use comparison operators (==, !=, <, >) or boolean functions",
		}
	}
	return b, nil
}
