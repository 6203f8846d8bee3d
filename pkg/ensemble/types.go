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

// Package ensemble is the top-level runtime: the data model shared by the
// interpolator, cache, state store, member registry, scoring controller,
// executors, suspend/resume manager, and the driver that ties them
// together.
package ensemble

import (
	"fmt"
	"sync"
	"time"

	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// StepResult is what a completed step leaves behind in ExecutionContext's
// outputs map: the member's response plus the bookkeeping the driver needs
// to project a final output or replay history.
type StepResult struct {
	Data       any
	Error      string
	DurationMs int64
	Metadata   map[string]any
}

// ToMap flattens a StepResult for interpolation: callers write
// "${outputs.foo.data}" / "${outputs.foo.error}", so both keys are always
// present (empty string when there's no error).
func (r StepResult) ToMap() map[string]any {
	m := map[string]any{
		"data":       r.Data,
		"error":      r.Error,
		"durationMs": r.DurationMs,
	}
	if r.Metadata != nil {
		m["metadata"] = r.Metadata
	}
	return m
}

// StepScore is one step's recorded scoring-gate outcome, kept for the
// aggregate score and for history replay.
type StepScore struct {
	Average    float64
	Breakdown  map[string]float64
	Threshold  float64
	Passed     bool
	RetryCount int
}

// ScoringState is the scoring sub-object of ExecutionContext.
type ScoringState struct {
	PerStepHistory map[string][]StepScore
	AggregateScore float64
	RetryCounts    map[string]int
}

func newScoringState() *ScoringState {
	return &ScoringState{
		PerStepHistory: make(map[string][]StepScore),
		RetryCounts:    make(map[string]int),
	}
}

// RunMetrics is the metrics sub-object of ExecutionContext.
type RunMetrics struct {
	StartTime     time.Time
	MemberTimings map[string]int64
	CacheHits     int
	Retries       int
}

func newRunMetrics() *RunMetrics {
	return &RunMetrics{
		StartTime:     timeNow(),
		MemberTimings: make(map[string]int64),
	}
}


// timeNow exists so tests can stub wall-clock start time without the
// runtime ever calling time.Now() more than once per entry point.
var timeNow = time.Now

// ExecutionContext carries everything one ensemble run needs: the frozen
// input, mutable permission-scoped state, step outputs, frozen environment
// bindings, and the scoring/metrics side-channels. The maps are private
// and reached only through typed accessors; the Scoring and Metrics
// side-channels are exported fields.
type ExecutionContext struct {
	// mu guards outputs, Scoring, and Metrics: the Graph Scheduler's
	// parallel/foreach/map-reduce siblings invoke ExecuteStep concurrently
	// against one shared ExecutionContext, so every mutating accessor
	// below takes mu before touching state the Linear Executor only ever
	// touched from a single goroutine.
	mu sync.Mutex

	input   map[string]any
	state   map[string]any
	outputs map[string]StepResult
	env     map[string]any

	// item/index/hasItem and items/hasItems are the foreach and
	// map-reduce iteration bindings, set by WithIteration/WithItems.
	// A plain ExecutionContext never has these set; only the derived
	// contexts the Graph Scheduler builds per iteration do.
	item     any
	index    int
	hasItem  bool
	items    []any
	hasItems bool

	Scoring *ScoringState
	Metrics *RunMetrics
}

// NewExecutionContext builds a fresh context for one ensemble run. A nil
// input or env is normalized to an empty map so accessors never need a
// nil-check.
func NewExecutionContext(input, env, initialState map[string]any) *ExecutionContext {
	if input == nil {
		input = make(map[string]any)
	}
	if env == nil {
		env = make(map[string]any)
	}
	if initialState == nil {
		initialState = make(map[string]any)
	}
	return &ExecutionContext{
		input:   input,
		state:   initialState,
		outputs: make(map[string]StepResult),
		env:     env,
		Scoring: newScoringState(),
		Metrics: newRunMetrics(),
	}
}

// Input returns the value at key from the caller's frozen arguments.
func (c *ExecutionContext) Input(key string) (any, bool) {
	v, ok := c.input[key]
	return v, ok
}

// InputSnapshot returns a shallow copy of the full input map, for the
// interpolator's layered context.
func (c *ExecutionContext) InputSnapshot() map[string]any {
	return copyMap(c.input)
}

// StateValue reads a raw state value without permission checking. The
// state package's Handle, which enforces permissions, wraps a state.Store
// rather than this map.
func (c *ExecutionContext) StateValue(key string) (any, bool) {
	v, ok := c.state[key]
	return v, ok
}

// SetStateValue writes a raw state value without permission checking.
func (c *ExecutionContext) SetStateValue(key string, value any) {
	c.state[key] = value
}

// StateSnapshot returns a shallow copy of the full state map.
func (c *ExecutionContext) StateSnapshot() map[string]any {
	return copyMap(c.state)
}

// Output returns the recorded result for stepID, and whether it exists.
func (c *ExecutionContext) Output(stepID string) (StepResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.outputs[stepID]
	return v, ok
}

// SetOutput records stepID's result. Safe for the Graph Scheduler's
// concurrent siblings: a step never observes an uncommitted later
// write regardless, since state visibility (I1) is governed by the
// state store's own commit sequence, not by this map.
func (c *ExecutionContext) SetOutput(stepID string, result StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[stepID] = result
}

// OutputsSnapshot returns a shallow copy of step outputs, flattened to
// plain maps for the interpolator.
func (c *ExecutionContext) OutputsSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v.ToMap()
	}
	return out
}

// RecordStepScore appends a scoring outcome for stepID under concurrent
// access from sibling branches.
func (c *ExecutionContext) RecordStepScore(stepID string, score StepScore, aggregate float64, extraRetries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Scoring.PerStepHistory[stepID] = append(c.Scoring.PerStepHistory[stepID], score)
	c.Scoring.RetryCounts[stepID] += extraRetries
	c.Scoring.AggregateScore = aggregate
}

// RecordMetrics folds one step's timing/cache/retry counters into the
// run's aggregate metrics under concurrent access from sibling branches.
func (c *ExecutionContext) RecordMetrics(memberName string, durationMs int64, cacheHit bool, retries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if memberName != "" {
		c.Metrics.MemberTimings[memberName] += durationMs
	}
	if cacheHit {
		c.Metrics.CacheHits++
	}
	c.Metrics.Retries += retries
}

// WithIteration returns a derived ExecutionContext for one foreach or
// map-reduce map-phase iteration: it shares this context's input, state
// view, and env, starts with an empty outputs map (so an iteration's
// step IDs never collide with the parent flow's or with a sibling
// iteration's), and binds item/index for "${item}"/"${index}"
// resolution for the iteration's lifetime.
func (c *ExecutionContext) WithIteration(item any, index int) *ExecutionContext {
	return &ExecutionContext{
		input:   c.input,
		state:   c.state,
		outputs: make(map[string]StepResult),
		env:     c.env,
		item:    item,
		index:   index,
		hasItem: true,
		Scoring: c.Scoring,
		Metrics: c.Metrics,
	}
}

// WithItems returns a derived ExecutionContext bound to a map-reduce
// reduce phase's collected map-step results ("${items}").
func (c *ExecutionContext) WithItems(items []any) *ExecutionContext {
	return &ExecutionContext{
		input:    c.input,
		state:    c.state,
		outputs:  make(map[string]StepResult),
		env:      c.env,
		items:    items,
		hasItems: true,
		Scoring:  c.Scoring,
		Metrics:  c.Metrics,
	}
}

// Iteration returns the item/index bound by WithIteration, if any.
func (c *ExecutionContext) Iteration() (item any, index int, ok bool) {
	return c.item, c.index, c.hasItem
}

// ItemsBinding returns the items slice bound by WithItems, if any.
func (c *ExecutionContext) ItemsBinding() ([]any, bool) {
	return c.items, c.hasItems
}

// Env returns a deployment-time binding by key.
func (c *ExecutionContext) Env(key string) (any, bool) {
	v, ok := c.env[key]
	return v, ok
}

// EnvSnapshot returns a shallow copy of the environment map.
func (c *ExecutionContext) EnvSnapshot() map[string]any {
	return copyMap(c.env)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetString retrieves a string input value. Mirrors the strict-accessor /
// *Or-convenience pairing used throughout the state and interpolate
// packages: callers that need a default never have to inspect the error.
func (c *ExecutionContext) GetString(key string) (string, error) {
	v, ok := c.input[key]
	if !ok {
		return "", &conductorerrors.NotFoundError{Resource: "input", ID: key}
	}
	s, ok := v.(string)
	if !ok {
		return "", &conductorerrors.StateTypeError{Key: key, Got: fmt.Sprintf("%T", v), Want: "string"}
	}
	return s, nil
}

// GetStringOr returns a string input value, or defaultVal if missing or
// the wrong type. Never errors.
func (c *ExecutionContext) GetStringOr(key, defaultVal string) string {
	s, err := c.GetString(key)
	if err != nil {
		return defaultVal
	}
	return s
}
