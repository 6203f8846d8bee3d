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

// Package driver is the Ensemble Driver: the single entry point that
// parses nothing itself but takes an already-parsed ensemble.Ensemble
// and drives it to completion, suspension, or failure. It decides
// Linear Executor vs Graph Scheduler, wires the Event Emitter and
// Suspend/Resume Manager around whichever one runs, and projects the
// ensemble's output template from the final ExecutionContext.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/events"
	"github.com/ensemble-edge/conductor/pkg/ensemble/executor"
	"github.com/ensemble-edge/conductor/pkg/ensemble/graph"
	"github.com/ensemble-edge/conductor/pkg/ensemble/interpolate"
	"github.com/ensemble-edge/conductor/pkg/ensemble/member"
	"github.com/ensemble-edge/conductor/pkg/ensemble/state"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// Status is the terminal (or suspended) state of one Run/Resume call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSuspended Status = "suspended"
)

// Result is what Run and Resume return: the projected output on
// success, the error on failure, or the resumption token on suspend.
type Result struct {
	Status      Status
	ExecutionID string
	Data        any
	Error       string
	Token       string
	History     []events.Event
	Metrics     Metrics
}

// Metrics is the public projection of ensemble.RunMetrics.
type Metrics struct {
	MemberTimings map[string]int64
	CacheHits     int
	Retries       int
	DurationMs    int64
}

// Driver wires the Member Registry, Cache, scoring evaluators, and a
// FrameStore into one object capable of running any parsed Ensemble.
type Driver struct {
	Registry   *member.Registry
	Cache      *cache.Cache
	Evaluators executor.Evaluators
	Frames     *suspend.Manager
	Logger     *slog.Logger

	// Async controls whether each run's Event Emitter delivers
	// listeners synchronously or concurrently; false by default so a
	// caller observing events sees them strictly in sequence order.
	Async bool

	// newExecutionID generates execution IDs; overridable in tests.
	newExecutionID func() string
}

// New returns a Driver. frames may be nil, in which case Run returns an
// error the first time a member actually suspends — callers that never
// register a human-in-the-loop member can safely omit it.
func New(registry *member.Registry, c *cache.Cache, evaluators executor.Evaluators, frames *suspend.Manager, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		Registry:       registry,
		Cache:          c,
		Evaluators:     evaluators,
		Frames:         frames,
		Logger:         logger,
		newExecutionID: randomExecutionID,
	}
}

// Run validates ens's member references, builds a fresh execution,
// and drives it to completion or suspension.
func (d *Driver) Run(ctx context.Context, ens *ensemble.Ensemble, input map[string]any) (*Result, error) {
	if err := d.validateMembers(ens.Flow); err != nil {
		return nil, err
	}

	execID := d.newExecutionID()
	store := state.New(ens.InitialState, ens.StateSchema)
	ec := ensemble.NewExecutionContext(input, nil, ens.InitialState)
	emitter := events.NewEmitter(execID, d.Async)
	history := events.NewHistory()
	emitter.Attach(history.Record)

	emitter.EnsembleStarted(map[string]any{"ensemble": ens.Name})

	exec := executor.New(d.Registry, d.Cache, d.Evaluators, d.Logger)
	err := d.runFlow(ctx, ens, exec, store, ec)

	return d.finish(ctx, ens, execID, store, ec, emitter, history, err)
}

// Resume rehydrates a suspended run's frame (which must already be
// approved; the caller invokes the Suspend/Resume Manager's Approve
// first) and continues the ensemble from the exact step where control
// was relinquished.
func (d *Driver) Resume(ctx context.Context, token string, ens *ensemble.Ensemble) (*Result, error) {
	if d.Frames == nil {
		return nil, fmt.Errorf("driver: no Suspend/Resume Manager configured")
	}
	frame, err := d.Frames.Fetch(ctx, token)
	if err != nil {
		return nil, err
	}
	switch frame.Status {
	case suspend.StatusRejected:
		return nil, &conductorerrors.RejectedError{Token: token, Actor: frame.Actor, Reason: frame.RejectReason}
	case suspend.StatusPending:
		return nil, &conductorerrors.NotReadyError{Token: token}
	}

	execID := d.newExecutionID()
	store, ec := rehydrate(frame)
	emitter := events.NewEmitter(execID, d.Async)
	history := events.NewHistory()
	emitter.Attach(history.Record)
	emitter.EmitResumed(frame.StepID, token)

	// Feed the approval data back in as the suspended step's own
	// output, so any later step's "${outputs.<id>.data}" reference
	// resolves to what the approver supplied.
	ec.SetOutput(frame.StepID, ensemble.StepResult{Data: frame.ApprovalData})

	exec := executor.New(d.Registry, d.Cache, d.Evaluators, d.Logger)
	runErr := d.runFlow(ctx, ens, exec, store, ec)

	result, err := d.finish(ctx, ens, execID, store, ec, emitter, history, runErr)
	if err == nil {
		_ = d.Frames.Cancel(ctx, token) // best-effort: frame has served its purpose
	}
	return result, err
}

// runFlow picks the Linear Executor when flow contains only leaf
// steps, and the Graph Scheduler the moment any control-flow block
// appears anywhere in the tree.
func (d *Driver) runFlow(ctx context.Context, ens *ensemble.Ensemble, exec *executor.Executor, store *state.Store, ec *ensemble.ExecutionContext) error {
	if needsGraph(ens.Flow) {
		sched := graph.New(exec)
		return sched.RunFlow(ctx, ens.Flow, store, ec)
	}
	return exec.RunFlow(ctx, ens.Flow, store, ec)
}

// needsGraph reports whether flow contains any element the Linear
// Executor can't run directly.
func needsGraph(flow []ensemble.FlowElement) bool {
	for _, el := range flow {
		if el.Step == nil {
			return true
		}
	}
	return false
}

// finish turns a run's outcome into a Result: suspension, failure, or
// a projected success.
func (d *Driver) finish(ctx context.Context, ens *ensemble.Ensemble, execID string, store *state.Store, ec *ensemble.ExecutionContext, emitter *events.Emitter, history *events.History, runErr error) (*Result, error) {
	var suspended *executor.Suspended
	if conductorerrors.As(runErr, &suspended) {
		return d.suspend(ctx, ens, execID, store, ec, emitter, history, suspended)
	}

	metrics := projectMetrics(ec)
	if runErr != nil {
		emitter.EnsembleFailed(runErr)
		return &Result{
			Status: StatusFailed, ExecutionID: execID, Error: runErr.Error(),
			History: history.Events(), Metrics: metrics,
		}, nil
	}

	data, err := projectOutput(ens, store, ec)
	if err != nil {
		emitter.EnsembleFailed(err)
		return &Result{Status: StatusFailed, ExecutionID: execID, Error: err.Error(), History: history.Events(), Metrics: metrics}, nil
	}

	emitter.EnsembleCompleted(map[string]any{"data": data})
	return &Result{
		Status: StatusCompleted, ExecutionID: execID, Data: data,
		History: history.Events(), Metrics: metrics,
	}, nil
}

func (d *Driver) suspend(ctx context.Context, ens *ensemble.Ensemble, execID string, store *state.Store, ec *ensemble.ExecutionContext, emitter *events.Emitter, history *events.History, s *executor.Suspended) (*Result, error) {
	if d.Frames == nil {
		return nil, fmt.Errorf("driver: step %q suspended but no Suspend/Resume Manager is configured", s.StepID)
	}
	frame := &suspend.Frame{
		EnsembleRef:     ens.Name,
		ContextSnapshot: snapshot(store, ec),
		StepID:          s.StepID,
		Reason:          s.Suspend.Reason,
		NotifyChannel:   s.Suspend.NotifyChannel,
	}
	token, expiresAt, err := d.Frames.Capture(ctx, frame, suspend.DefaultTTL)
	if err != nil {
		return nil, err
	}
	emitter.EmitSuspended(s.StepID, token, s.Suspend.Reason)

	return &Result{
		Status:      StatusSuspended,
		ExecutionID: execID,
		Token:       token,
		Data:        map[string]any{"token": token, "expiresAt": expiresAt},
		History:     history.Events(),
		Metrics:     projectMetrics(ec),
	}, nil
}

// snapshot captures everything rehydrate needs to resume later.
func snapshot(store *state.Store, ec *ensemble.ExecutionContext) map[string]any {
	outputs := make(map[string]any, len(ec.OutputsSnapshot()))
	for id, v := range ec.OutputsSnapshot() {
		outputs[id] = v
	}
	return map[string]any{
		"input":   ec.InputSnapshot(),
		"state":   store.Snapshot(),
		"outputs": outputs,
		"env":     ec.EnvSnapshot(),
	}
}

// rehydrate rebuilds a Store and ExecutionContext from a captured
// frame's snapshot, restoring committed step outputs so the skip-if-
// already-done check in executor.RunFlow/graph.Scheduler.RunFlow takes
// over from exactly where the run suspended.
func rehydrate(frame *suspend.Frame) (*state.Store, *ensemble.ExecutionContext) {
	input, _ := frame.ContextSnapshot["input"].(map[string]any)
	stateVals, _ := frame.ContextSnapshot["state"].(map[string]any)
	env, _ := frame.ContextSnapshot["env"].(map[string]any)
	outputs, _ := frame.ContextSnapshot["outputs"].(map[string]any)

	store := state.New(stateVals, nil)
	ec := ensemble.NewExecutionContext(input, env, stateVals)
	for id, raw := range outputs {
		if m, ok := raw.(map[string]any); ok {
			ec.SetOutput(id, mapToStepResult(m))
		}
	}
	return store, ec
}

func mapToStepResult(m map[string]any) ensemble.StepResult {
	result := ensemble.StepResult{Data: m["data"]}
	if errStr, ok := m["error"].(string); ok {
		result.Error = errStr
	}
	if ms, ok := m["durationMs"].(int64); ok {
		result.DurationMs = ms
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		result.Metadata = meta
	}
	return result
}

// projectOutput resolves ens.Output's "${...}" templates against the
// final state/outputs, or returns the last step's data verbatim when
// the ensemble declares no explicit output template.
func projectOutput(ens *ensemble.Ensemble, store *state.Store, ec *ensemble.ExecutionContext) (any, error) {
	if len(ens.Output) == 0 {
		return lastStepData(ens.Flow, ec), nil
	}
	ictx := interpolate.Context{
		Input:   ec.InputSnapshot(),
		State:   store.Snapshot(),
		Outputs: ec.OutputsSnapshot(),
		Env:     ec.EnvSnapshot(),
	}
	return interpolate.Resolve(ens.Output, ictx)
}

func lastStepData(flow []ensemble.FlowElement, ec *ensemble.ExecutionContext) any {
	for i := len(flow) - 1; i >= 0; i-- {
		if flow[i].Step == nil {
			continue
		}
		if result, ok := ec.Output(flow[i].Step.ID); ok {
			return result.Data
		}
	}
	return nil
}

func projectMetrics(ec *ensemble.ExecutionContext) Metrics {
	return Metrics{
		MemberTimings: ec.Metrics.MemberTimings,
		CacheHits:     ec.Metrics.CacheHits,
		Retries:       ec.Metrics.Retries,
		DurationMs:    timeSince(ec.Metrics.StartTime),
	}
}

// validateMembers checks every memberRef the flow references resolves
// in the registry, before any step runs.
func (d *Driver) validateMembers(flow []ensemble.FlowElement) error {
	var walk func([]ensemble.FlowElement) error
	walk = func(elems []ensemble.FlowElement) error {
		for i := range elems {
			el := elems[i]
			if step := el.Step; step != nil {
				if !d.Registry.Has(step.MemberRef) {
					return &conductorerrors.MemberNotFoundError{Name: step.MemberRef}
				}
			}
			if err := walk(children(el)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(flow)
}

// children mirrors ensemble.FlowElement.children, which is unexported;
// the driver needs the same recursive walk to validate memberRefs
// across every block type before a run starts.
func children(e ensemble.FlowElement) []ensemble.FlowElement {
	switch {
	case e.Parallel != nil:
		return e.Parallel.Steps
	case e.Branch != nil:
		return append(append([]ensemble.FlowElement{}, e.Branch.Then...), e.Branch.Else...)
	case e.Foreach != nil:
		return e.Foreach.Steps
	case e.While != nil:
		return e.While.Steps
	case e.Try != nil:
		return append(append(append([]ensemble.FlowElement{}, e.Try.Steps...), e.Try.Catch...), e.Try.Finally...)
	case e.Switch != nil:
		var all []ensemble.FlowElement
		for _, v := range e.Switch.Cases {
			all = append(all, v...)
		}
		return append(all, e.Switch.Default...)
	case e.MapReduce != nil:
		return append(append([]ensemble.FlowElement{}, e.MapReduce.Map...), e.MapReduce.Reduce...)
	default:
		return nil
	}
}
