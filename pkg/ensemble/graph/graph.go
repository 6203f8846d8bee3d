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

// Package graph is the scheduler for flow elements the Linear Executor
// can't run by itself: parallel, branch, foreach, while, try, switch,
// and map-reduce blocks. It plans each block before running any step in
// it (cycle and conflicting-write detection), then dispatches ready
// nodes onto bounded-concurrency errgroups rooted in a context the
// block can cancel early (a waitFor:any parallel winning, a cancelled
// run). Leaf `step` nodes still run through
// executor.ExecuteStep; this package owns block composition only.
package graph

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/executor"
	"github.com/ensemble-edge/conductor/pkg/ensemble/interpolate"
	"github.com/ensemble-edge/conductor/pkg/ensemble/state"
	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// Scheduler runs a flow containing any mix of leaf steps and blocks. It
// wraps an *executor.Executor rather than re-implementing leaf-step
// semantics: every `step` element, however deeply nested in a block,
// ultimately goes through the same fingerprinting/caching/scoring/retry
// path the Linear Executor uses.
type Scheduler struct {
	Exec *executor.Executor
}

// New returns a Scheduler delegating leaf steps to exec.
func New(exec *executor.Executor) *Scheduler {
	return &Scheduler{Exec: exec}
}

// RunFlow runs every element of flow in declared order, dispatching
// blocks to their dedicated handler. Unlike the Linear Executor, this is
// the entry point an ensemble.Driver picks once it sees any non-Step
// element anywhere in the parsed flow.
func (s *Scheduler) RunFlow(ctx context.Context, flow []ensemble.FlowElement, store *state.Store, ec *ensemble.ExecutionContext) error {
	if err := Plan(flow); err != nil {
		return err
	}
	return s.runSequence(ctx, flow, store, ec)
}

// Plan validates flow and every block nested within it before any step
// runs: dependsOn cycles within a single parallel/foreach block's
// sibling steps, and overlapping stateSet declarations among
// concurrently-scheduled siblings. It only inspects static structure;
// RunFlow calls it at the start of every run.
func Plan(flow []ensemble.FlowElement) error {
	for i := range flow {
		if err := planElement(flow[i]); err != nil {
			return err
		}
	}
	return nil
}

func planElement(el ensemble.FlowElement) error {
	switch {
	case el.Step != nil:
		return el.Step.Validate()

	case el.Parallel != nil:
		if err := planConcurrentSiblings(el.Parallel.Steps); err != nil {
			return err
		}
		return Plan(el.Parallel.Steps)

	case el.Branch != nil:
		if err := Plan(el.Branch.Then); err != nil {
			return err
		}
		return Plan(el.Branch.Else)

	case el.Foreach != nil:
		if err := planConcurrentSiblings(el.Foreach.Steps); err != nil {
			return err
		}
		return Plan(el.Foreach.Steps)

	case el.While != nil:
		return Plan(el.While.Steps)

	case el.Try != nil:
		for _, group := range [][]ensemble.FlowElement{el.Try.Steps, el.Try.Catch, el.Try.Finally} {
			if err := Plan(group); err != nil {
				return err
			}
		}
		return nil

	case el.Switch != nil:
		for _, group := range el.Switch.Cases {
			if err := Plan(group); err != nil {
				return err
			}
		}
		return Plan(el.Switch.Default)

	case el.MapReduce != nil:
		if err := planConcurrentSiblings(el.MapReduce.Map); err != nil {
			return err
		}
		if err := Plan(el.MapReduce.Map); err != nil {
			return err
		}
		return Plan(el.MapReduce.Reduce)

	default:
		return &conductorerrors.ValidationError{Field: "flow", Message: "empty flow element"}
	}
}

// planConcurrentSiblings checks a block's direct step children (not
// nested sub-blocks) for a dependsOn cycle and for a stateSet key
// written by more than one sibling.
func planConcurrentSiblings(children []ensemble.FlowElement) error {
	var setKeyLists [][]string
	ids := make(map[string]bool)
	for _, c := range children {
		if c.Step == nil {
			continue
		}
		setKeyLists = append(setKeyLists, c.Step.StateSet)
		ids[c.Step.ID] = true
	}

	if key := state.DetectOverlap(setKeyLists); key != "" {
		var writers []string
		for _, c := range children {
			if c.Step == nil {
				continue
			}
			for _, k := range c.Step.StateSet {
				if k == key {
					writers = append(writers, c.Step.ID)
				}
			}
		}
		return &conductorerrors.ConflictingWritesError{Key: key, StepIDs: writers}
	}

	return detectCycle(children, ids)
}

// detectCycle runs a DFS over the dependsOn edges among children (edges
// to an ID outside this sibling set, e.g. a step earlier in the outer
// flow, are not part of this block's graph and are ignored).
func detectCycle(children []ensemble.FlowElement, ids map[string]bool) error {
	edges := make(map[string][]string, len(children))
	for _, c := range children {
		if c.Step == nil {
			continue
		}
		for _, dep := range c.Step.DependsOn {
			if ids[dep] {
				edges[c.Step.ID] = append(edges[c.Step.ID], dep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(children))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			cycle := append(append([]string{}, path...), id)
			return &conductorerrors.CyclicDependencyError{Cycle: cycle}
		}
		color[id] = gray
		path = append(path, id)
		for _, dep := range edges[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, c := range children {
		if c.Step == nil {
			continue
		}
		if err := visit(c.Step.ID); err != nil {
			return err
		}
	}
	return nil
}

// runSequence runs elements of a single flow level in declared order,
// dispatching each to its block handler. Sibling ordering at this level
// is always sequential; concurrency happens only within a block.
func (s *Scheduler) runSequence(ctx context.Context, flow []ensemble.FlowElement, store *state.Store, ec *ensemble.ExecutionContext) error {
	for i := range flow {
		if err := ctx.Err(); err != nil {
			return &conductorerrors.CancelledError{Scope: "flow", Cause: err}
		}
		if err := s.runElement(ctx, flow[i], store, ec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) runElement(ctx context.Context, el ensemble.FlowElement, store *state.Store, ec *ensemble.ExecutionContext) error {
	switch {
	case el.Step != nil:
		// A resumed run rehydrates ec with every step already committed
		// before the suspension point, so a step already present there
		// is skipped instead of re-invoked.
		if _, alreadyDone := ec.Output(el.Step.ID); alreadyDone {
			return nil
		}
		_, err := s.Exec.ExecuteStep(ctx, el.Step, store, ec)
		return err
	case el.Parallel != nil:
		return s.runParallel(ctx, el.Parallel, store, ec)
	case el.Branch != nil:
		return s.runBranch(ctx, el.Branch, store, ec)
	case el.Foreach != nil:
		return s.runForeach(ctx, el.Foreach, store, ec)
	case el.While != nil:
		return s.runWhile(ctx, el.While, store, ec)
	case el.Try != nil:
		return s.runTry(ctx, el.Try, store, ec)
	case el.Switch != nil:
		return s.runSwitch(ctx, el.Switch, store, ec)
	case el.MapReduce != nil:
		return s.runMapReduce(ctx, el.MapReduce, store, ec)
	default:
		return &conductorerrors.ValidationError{Field: "flow", Message: "empty flow element"}
	}
}

// runParallel schedules Steps as a dependsOn DAG (siblings with no
// dependsOn are simply independent and run as soon as the block
// starts), bounded by MaxConcurrency. waitFor:all (the default) runs
// every sibling to completion and fails on the first error, the same
// semantics errgroup.Group gives for free. waitFor:any cancels the
// remaining siblings on the first success and only fails if every
// sibling does.
func (s *Scheduler) runParallel(ctx context.Context, p *ensemble.Parallel, store *state.Store, ec *ensemble.ExecutionContext) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := func(gctx context.Context, el ensemble.FlowElement) error {
		return s.runElement(gctx, el, store, ec)
	}

	if p.WaitFor == "any" {
		return runAnyDAG(runCtx, cancel, p.Steps, p.MaxConcurrency, run)
	}
	return runAllDAG(runCtx, p.Steps, p.MaxConcurrency, run)
}

// runBranch evaluates Condition and recurses into Then or Else.
func (s *Scheduler) runBranch(ctx context.Context, b *ensemble.Branch, store *state.Store, ec *ensemble.ExecutionContext) error {
	ok, err := s.Exec.EvalCondition(b.Condition, s.Exec.InterpolationEnv(ec, store))
	if err != nil {
		return conductorerrors.Wrap(err, "evaluating branch condition")
	}
	if ok {
		return s.runSequence(ctx, b.Then, store, ec)
	}
	return s.runSequence(ctx, b.Else, store, ec)
}

// runForeach resolves Items, then runs Steps once per item bound to
// "${item}"/"${index}", up to MaxConcurrency at a time. Each iteration
// gets its own derived ExecutionContext (ensemble.ExecutionContext's
// WithIteration) so iteration-local step IDs never collide across
// concurrent iterations; BreakWhen, evaluated against the iteration's
// own env after each iteration, stops scheduling further items (already
// in-flight iterations still finish).
func (s *Scheduler) runForeach(ctx context.Context, f *ensemble.Foreach, store *state.Store, ec *ensemble.ExecutionContext) error {
	items, err := resolveItems(f.Items, s.Exec.InterpolateContext(ec, store))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var broke atomic.Bool
	run := func(gctx context.Context, i int) error {
		if broke.Load() {
			return nil
		}
		iterCtx := ec.WithIteration(items[i], i)
		if err := s.runSequence(gctx, f.Steps, store, iterCtx); err != nil {
			return err
		}
		if f.BreakWhen != "" {
			stop, err := s.Exec.EvalCondition(f.BreakWhen, s.Exec.InterpolationEnv(iterCtx, store))
			if err != nil {
				return conductorerrors.Wrap(err, "evaluating foreach breakWhen")
			}
			if stop {
				broke.Store(true)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(limitOf(f.MaxConcurrency))
	for i := range items {
		i := i
		g.Go(func() error { return run(gctx, i) })
	}
	if err := g.Wait(); err != nil && !broke.Load() {
		return err
	}
	return nil
}

// runWhile re-evaluates Condition before each iteration, bounded by
// MaxIterations (0 means unbounded). Iterations are inherently
// sequential: each one can change the state the next iteration's
// condition reads.
func (s *Scheduler) runWhile(ctx context.Context, w *ensemble.While, store *state.Store, ec *ensemble.ExecutionContext) error {
	for i := 0; w.MaxIterations <= 0 || i < w.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return &conductorerrors.CancelledError{Scope: "while", Cause: err}
		}
		ok, err := s.Exec.EvalCondition(w.Condition, s.Exec.InterpolationEnv(ec, store))
		if err != nil {
			return conductorerrors.Wrap(err, "evaluating while condition")
		}
		if !ok {
			return nil
		}
		if err := s.runSequence(ctx, w.Steps, store, ec); err != nil {
			return err
		}
	}
	return &conductorerrors.IterationLimitError{StepID: "while", MaxIterations: w.MaxIterations}
}

// runTry runs Steps, falls back to Catch if any step fails, and always
// runs Finally afterward regardless of which path taken. A Finally
// failure takes precedence over an already-caught error, matching the
// teacher's own panic/recover idiom of the last unwind winning.
func (s *Scheduler) runTry(ctx context.Context, t *ensemble.Try, store *state.Store, ec *ensemble.ExecutionContext) error {
	runErr := s.runSequence(ctx, t.Steps, store, ec)
	if runErr != nil && len(t.Catch) > 0 {
		runErr = s.runSequence(ctx, t.Catch, store, ec)
	}
	if len(t.Finally) > 0 {
		if finallyErr := s.runSequence(ctx, t.Finally, store, ec); finallyErr != nil {
			return finallyErr
		}
	}
	return runErr
}

// runSwitch evaluates Value and dispatches to the matching Cases entry,
// falling back to Default when nothing matches (and succeeding with no
// work done if there is no Default either).
func (s *Scheduler) runSwitch(ctx context.Context, sw *ensemble.Switch, store *state.Store, ec *ensemble.ExecutionContext) error {
	resolved, err := interpolate.Resolve(sw.Value, s.Exec.InterpolateContext(ec, store))
	if err != nil {
		return conductorerrors.Wrap(err, "resolving switch value")
	}
	key := fmt.Sprint(resolved)
	if branch, ok := sw.Cases[key]; ok {
		return s.runSequence(ctx, branch, store, ec)
	}
	return s.runSequence(ctx, sw.Default, store, ec)
}

// runMapReduce runs Map once per item of the resolved Items (bounded by
// MaxConcurrency, each iteration isolated the same way runForeach
// isolates its iterations), collects every iteration's last-step output
// in item order, then runs Reduce once with the collected results bound
// to "${items}".
func (s *Scheduler) runMapReduce(ctx context.Context, mr *ensemble.MapReduce, store *state.Store, ec *ensemble.ExecutionContext) error {
	items, err := resolveItems(mr.Items, s.Exec.InterpolateContext(ec, store))
	if err != nil {
		return err
	}

	results := make([]any, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limitOf(mr.MaxConcurrency))
	for i := range items {
		i := i
		g.Go(func() error {
			iterCtx := ec.WithIteration(items[i], i)
			if err := s.runSequence(gctx, mr.Map, store, iterCtx); err != nil {
				return err
			}
			results[i] = lastOutput(mr.Map, iterCtx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	reduceCtx := ec.WithItems(results)
	return s.runSequence(ctx, mr.Reduce, store, reduceCtx)
}

// lastOutput returns the StepResult.Data of the last leaf step in
// elements, or nil if elements has no steps (a Map/Reduce phase made
// only of further blocks rather than a bare step list).
func lastOutput(elements []ensemble.FlowElement, ec *ensemble.ExecutionContext) any {
	for i := len(elements) - 1; i >= 0; i-- {
		if elements[i].Step == nil {
			continue
		}
		if r, ok := ec.Output(elements[i].Step.ID); ok {
			return r.Data
		}
	}
	return nil
}

// resolveItems resolves expr against ctx and requires the result to be
// an array; foreach/map-reduce always iterate a concrete list, never a
// single scalar.
func resolveItems(expr string, ctx interpolate.Context) ([]any, error) {
	resolved, err := interpolate.Resolve(expr, ctx)
	if err != nil {
		return nil, conductorerrors.Wrap(err, "resolving items expression")
	}
	items, ok := resolved.([]any)
	if !ok {
		return nil, &conductorerrors.ValidationError{
			Field:      "items",
			Message:    fmt.Sprintf("items expression %q did not resolve to an array (got %T)", expr, resolved),
			Suggestion: "items must reference an input/state/outputs array",
		}
	}
	return items, nil
}

func limitOf(maxConcurrency int) int {
	if maxConcurrency <= 0 {
		return -1
	}
	return maxConcurrency
}

// runAllDAG runs children respecting dependsOn edges, bounded by
// maxConcurrency. A node is dispatched as soon as it has no unfinished
// predecessor; dagState.complete reports each node's newly-unblocked
// dependents so the dispatcher can queue the next wave without ever
// busy-polling for readiness. The first sibling error cancels gctx
// (errgroup's standard behavior); Wait still blocks until every
// already-started sibling returns.
func runAllDAG(ctx context.Context, children []ensemble.FlowElement, maxConcurrency int, run func(context.Context, ensemble.FlowElement) error) error {
	if len(children) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limitOf(maxConcurrency))

	d := newDagState(children)
	readyCh := make(chan int, len(children))
	for _, idx := range d.initialReady() {
		readyCh <- idx
	}

	remaining := len(children)
dispatch:
	for remaining > 0 {
		select {
		case idx := <-readyCh:
			remaining--
			idx, el := idx, children[idx]
			g.Go(func() error {
				err := run(gctx, el)
				for _, next := range d.complete(idx) {
					readyCh <- next
				}
				return err
			})
		case <-gctx.Done():
			// A sibling failed: stop dispatching new nodes (their
			// predecessors may never complete) and let Wait surface
			// the error that caused the cancellation.
			break dispatch
		}
	}
	return g.Wait()
}

// runAnyDAG dispatches the same way runAllDAG does, but cancel (set up
// by the caller via context.WithCancel) fires the instant any sibling
// succeeds, and an all-failed outcome is reported as a single
// CancelledError wrapping the last failure rather than errgroup's
// first-error-wins.
func runAnyDAG(ctx context.Context, cancel context.CancelFunc, children []ensemble.FlowElement, maxConcurrency int, run func(context.Context, ensemble.FlowElement) error) error {
	if len(children) == 0 {
		return nil
	}
	results := make(chan error, len(children))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limitOf(maxConcurrency))

	d := newDagState(children)
	readyCh := make(chan int, len(children))
	for _, idx := range d.initialReady() {
		readyCh <- idx
	}

	remaining := len(children)
dispatch:
	for remaining > 0 {
		select {
		case idx := <-readyCh:
			remaining--
			idx, el := idx, children[idx]
			g.Go(func() error {
				err := run(gctx, el)
				for _, next := range d.complete(idx) {
					readyCh <- next
				}
				results <- err
				if err == nil {
					cancel()
				}
				return nil
			})
		case <-gctx.Done():
			// A sibling succeeded (cancel) or the parent ctx ended:
			// stop dispatching new nodes.
			break dispatch
		}
	}
	_ = g.Wait()
	close(results)

	var lastErr error
	for err := range results {
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil
	}
	return &conductorerrors.CancelledError{Scope: "parallel:waitFor=any", Cause: lastErr}
}

