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

// Package scoring evaluates a step's output against configurable
// thresholds and drives bounded retry with backoff. Four evaluator kinds
// share one Report shape so the retry loop never needs to know which
// produced a given score.
package scoring

import (
	"fmt"
	"strings"
	"sync"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Report is the outcome of one evaluation.
type Report struct {
	Average   float64
	Breakdown map[string]float64
	Threshold float64
	Passed    bool
	Detail    string
}

// Criterion is one named check an evaluator scores independently; the
// aggregation policy combines criteria into Report.Average.
type Criterion struct {
	Name   string
	Weight float64

	// Rule
	Expression string

	// NLP / Embedding
	Reference string
}

// Evaluator scores content against a set of criteria.
type Evaluator interface {
	Evaluate(content string, criteria []Criterion) (Report, error)
}

// JudgeFunc delegates scoring to an external collaborator (typically a
// Think member): given content and a criterion, return a score in [0,1].
// The Judge evaluator is a thin adapter over this, since the actual LLM
// call is a member body and out of this package's scope.
type JudgeFunc func(content string, criterion Criterion) (float64, error)

// RuleEvaluator scores boolean expressions over
// {length, wordCount, lineCount, includes(s)} via expr-lang, the same
// engine the executor uses for `when`/`condition` fields. Compiled
// programs are cached by expression text since the same criterion is
// typically re-evaluated across scoring retries.
type RuleEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewRuleEvaluator returns a RuleEvaluator with an empty compile cache.
func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{cache: make(map[string]*vm.Program)}
}

func (r *RuleEvaluator) compile(expression string) (*vm.Program, error) {
	r.mu.RLock()
	if p, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	p, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[expression] = p
	r.mu.Unlock()
	return p, nil
}

func (r *RuleEvaluator) Evaluate(content string, criteria []Criterion) (Report, error) {
	env := ruleEnv(content)
	breakdown := make(map[string]float64, len(criteria))
	var weightedSum, weightSum float64

	for _, c := range criteria {
		program, err := r.compile(c.Expression)
		if err != nil {
			return Report{}, &conductorerrors.ValidationError{
				Field:      "scoring.expression",
				Message:    fmt.Sprintf("criterion %q failed to compile: %s", c.Name, err),
				Suggestion: "check that the expression only references length, wordCount, lineCount, includes(s)",
			}
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return Report{}, &conductorerrors.ValidationError{
				Field:   "scoring.expression",
				Message: fmt.Sprintf("criterion %q failed to evaluate: %s", c.Name, err),
			}
		}
		ok, isBool := result.(bool)
		if !isBool {
			return Report{}, &conductorerrors.ValidationError{
				Field:   "scoring.expression",
				Message: fmt.Sprintf("criterion %q must evaluate to a boolean, got %T", c.Name, result),
			}
		}
		weight := c.Weight
		if weight == 0 {
			weight = 1
		}
		score := 0.0
		if ok {
			score = 1.0
		}
		breakdown[c.Name] = score
		weightedSum += score * weight
		weightSum += weight
	}

	avg := 0.0
	if weightSum > 0 {
		avg = weightedSum / weightSum
	}
	return Report{Average: avg, Breakdown: breakdown}, nil
}

func ruleEnv(content string) map[string]any {
	return map[string]any{
		"length":    len(content),
		"wordCount": len(strings.Fields(content)),
		"lineCount": len(strings.Split(content, "\n")),
		"includes": func(s string) bool {
			return strings.Contains(content, s)
		},
	}
}
