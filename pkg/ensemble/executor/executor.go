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

// Package executor walks a simple sequential flow, driving cache lookup,
// state commit, the scoring gate, and per-step retry for each step in
// declared order. The Graph Scheduler (not implemented in this package)
// reuses ExecuteStep for every leaf `step` node it visits; this package
// owns leaf-step semantics only, never block dispatch.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/interpolate"
	"github.com/ensemble-edge/conductor/pkg/ensemble/member"
	"github.com/ensemble-edge/conductor/pkg/ensemble/scoring"
	"github.com/ensemble-edge/conductor/pkg/ensemble/state"
	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// defaultStepTimeout applies when neither the step nor the ensemble
// declares one.
const defaultStepTimeout = 30 * time.Second

// Suspended is returned when a member's response carries a Suspend
// signal. The driver's suspend/resume layer matches it with errors.As to
// build a durable frame; this package has no opinion on persistence.
type Suspended struct {
	StepID  string
	Suspend member.Suspend
}

func (s *Suspended) Error() string {
	return fmt.Sprintf("step %q suspended: %s", s.StepID, s.Suspend.Reason)
}

// Evaluators maps a scoring policy's `evaluator` name to the Evaluator
// instance that implements it. The executor never constructs evaluators
// itself; the driver wires this map once at startup.
type Evaluators map[string]scoring.Evaluator

// Executor runs one ensemble's leaf steps, in the order RunFlow or
// ExecuteStep is called with. It holds no per-run state itself — the
// state store and ExecutionContext passed to each call carry that.
type Executor struct {
	Registry   *member.Registry
	Cache      *cache.Cache
	Evaluators Evaluators
	Logger     *slog.Logger

	condition *conditionEvaluator

	// DefaultTimeout is the ensemble-level fallback when a step declares
	// no timeout of its own. Zero means defaultStepTimeout.
	DefaultTimeout time.Duration
}

// New returns an Executor wired to the given registry, cache, and
// evaluator set.
func New(registry *member.Registry, c *cache.Cache, evaluators Evaluators, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Registry:   registry,
		Cache:      c,
		Evaluators: evaluators,
		Logger:     logger,
		condition:  newConditionEvaluator(),
	}
}

// RunFlow executes every element of flow as a leaf step, in declared
// order. It returns as soon as a step suspends or terminally fails,
// matching the Linear Executor's "no reordering, no partial fan-out"
// contract (spec §4.6's ordering guarantee). Any non-Step element is a
// configuration error here: composing those belongs to the Graph
// Scheduler, which calls ExecuteStep directly for each leaf it visits.
//
// A step whose output is already recorded in ec is skipped rather than
// re-invoked: a resumed run rehydrates ec with every step the Suspend/
// Resume Manager had already committed before the gate, so replaying
// from index 0 naturally resumes from the suspension point instead of
// re-running completed work.
func (x *Executor) RunFlow(ctx context.Context, flow []ensemble.FlowElement, store *state.Store, ec *ensemble.ExecutionContext) error {
	for i := range flow {
		el := flow[i]
		if el.Step == nil {
			return &conductorerrors.ValidationError{
				Field:   "flow",
				Message: fmt.Sprintf("linear executor reached a non-step flow element at index %d", i),
				Suggestion: "ensembles containing parallel/branch/foreach/while/try/switch/map-reduce " +
					"blocks must be run by the graph scheduler",
			}
		}
		if _, alreadyDone := ec.Output(el.Step.ID); alreadyDone {
			continue
		}
		if _, err := x.ExecuteStep(ctx, el.Step, store, ec); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteStep runs one step to completion: §4.6 algorithm steps a-j.
func (x *Executor) ExecuteStep(ctx context.Context, step *ensemble.Step, store *state.Store, ec *ensemble.ExecutionContext) (ensemble.StepResult, error) {
	start := time.Now()

	// a. evaluate `when`
	if step.When != "" {
		shouldRun, err := x.condition.Eval(step.When, x.interpolationEnv(ec, store))
		if err != nil {
			return ensemble.StepResult{}, conductorerrors.Wrapf(err, "evaluating when for step %q", step.ID)
		}
		if !shouldRun {
			result := ensemble.StepResult{Metadata: map[string]any{"skipped": true}}
			ec.SetOutput(step.ID, result)
			x.Logger.Debug("step skipped", "step_id", step.ID, "reason", "when evaluated false")
			return result, nil
		}
	}

	// b. resolve inputTemplate
	resolvedInput, err := resolveInputTemplate(step.InputTemplate, x.interpolateContext(ec, store))
	if err != nil {
		return ensemble.StepResult{}, conductorerrors.Wrapf(err, "resolving input for step %q", step.ID)
	}

	meta, err := x.Registry.Resolve(step.MemberRef)
	if err != nil {
		return ensemble.StepResult{}, err
	}

	// c. fingerprint / cache lookup. Config is opaque to the executor —
	// the registry never surfaces a project member's declared config, it
	// only hands back (name, version) plus a constructed Member — so the
	// fingerprint covers (name, version, resolvedInput) only. Two
	// registrations never share a (name, version) pair, so this cannot
	// collide across differently configured members.
	bypass := step.Cache != nil && step.Cache.Bypass
	var fingerprint string
	if !bypass {
		fingerprint, err = cache.Fingerprint(meta.Name, meta.Version, resolvedInput, nil)
		if err != nil {
			return ensemble.StepResult{}, conductorerrors.Wrapf(err, "fingerprinting step %q", step.ID)
		}
		if cached, ok := x.Cache.Get(fingerprint); ok {
			ec.RecordMetrics("", 0, true, 0)
			result := cached.(ensemble.StepResult)
			ec.SetOutput(step.ID, result)
			x.Logger.Debug("cache hit", "step_id", step.ID, "fingerprint", fingerprint)
			return result, nil
		}
	}

	// d. acquire state handle
	handle := store.BeginStep(step.StateUse, step.StateSet)

	deadline := stepTimeout(step, x.DefaultTimeout)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// e, g. invoke the member, applying its retry policy for transient
	// failures (errors returned by Execute itself, not ok:false
	// responses, which are a step failure rather than a transient one).
	response, attempts, err := x.invokeWithRetry(runCtx, step, meta, resolvedInput, ec)
	if err != nil {
		handle.Abort()
		return ensemble.StepResult{}, err
	}

	// A member response of ok:false is a step failure: it short-circuits
	// before scoring ever runs (scoring only evaluates content the
	// member actually considered successful).
	if !response.OK {
		handle.Abort()
		failResult := ensemble.StepResult{Error: response.Error, DurationMs: time.Since(start).Milliseconds()}
		if !bypass && step.Cache != nil && step.Cache.CacheFailures {
			x.Cache.Put(fingerprint, failResult, cacheOptsFor(step))
		}
		ec.SetOutput(step.ID, failResult)
		return ensemble.StepResult{}, &conductorerrors.MemberFailureError{
			MemberName: meta.Name, StepID: step.ID, Message: response.Error, Kind: response.ErrorKind,
		}
	}

	if response.Suspend != nil {
		handle.Abort()
		return ensemble.StepResult{}, &Suspended{StepID: step.ID, Suspend: *response.Suspend}
	}

	finalData := response.Data

	// f. scoring gate, if configured
	if step.Scoring != nil {
		outcome, finalContent, scoreErr := x.runScoringGate(runCtx, step, meta, resolvedInput, fmt.Sprint(response.Data), response.Data, ec)
		if scoreErr != nil {
			handle.Abort()
			return ensemble.StepResult{}, scoreErr
		}
		finalData = finalContent
		ec.RecordStepScore(step.ID, ensemble.StepScore{
			Average: outcome.Report.Average, Breakdown: outcome.Report.Breakdown,
			Threshold: outcome.Report.Threshold, Passed: outcome.Passed, RetryCount: outcome.Attempts - 1,
		}, outcome.Report.Average, outcome.Attempts-1)
		if step.Scoring.TrackInState {
			store.Put(fmt.Sprintf("_scoring.%s.average", step.ID), outcome.Report.Average)
			store.Put(fmt.Sprintf("_scoring.%s.passed", step.ID), outcome.Passed)
		}
	}

	// h. write declared state, commit, record output, cache. A member
	// reports state updates by returning a Data map whose keys overlap
	// the step's declared stateSet; anything else in Data is just the
	// step's output and never touches the store.
	if setMap, ok := finalData.(map[string]any); ok {
		for _, key := range step.StateSet {
			if v, present := setMap[key]; present {
				if werr := handle.Write(key, v); werr != nil {
					handle.Abort()
					return ensemble.StepResult{}, conductorerrors.Wrapf(werr, "writing state for step %q", step.ID)
				}
			}
		}
	}

	result := ensemble.StepResult{
		Data:       finalData,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   response.Metadata,
	}
	if err := handle.Commit(); err != nil {
		return ensemble.StepResult{}, conductorerrors.Wrapf(err, "committing state for step %q", step.ID)
	}
	ec.SetOutput(step.ID, result)
	ec.RecordMetrics(meta.Name, result.DurationMs, false, attempts-1)

	if !bypass {
		x.Cache.Put(fingerprint, result, cacheOptsFor(step))
	}

	x.Logger.Debug("step completed", "step_id", step.ID, "member", meta.Name, "duration_ms", result.DurationMs)
	return result, nil
}

func cacheOptsFor(step *ensemble.Step) cache.PutOptions {
	if step.Cache == nil {
		return cache.PutOptions{}
	}
	return cache.PutOptions{
		TTL:  time.Duration(step.Cache.TTLSeconds) * time.Second,
		Tags: step.Cache.Tags,
	}
}

// invokeWithRetry applies the step's member-level retry policy (g):
// bounded attempts, backoff between them, restricted to the declared
// retryOn error kinds when that list is non-empty. Scoring's own retry
// loop (f) sits above this: each scoring attempt re-enters here, so a
// single scored step may invoke the member attempts(retry) *
// retryLimit(scoring) times in the worst case.
func (x *Executor) invokeWithRetry(ctx context.Context, step *ensemble.Step, meta member.Metadata, resolvedInput map[string]any, ec *ensemble.ExecutionContext) (member.Response, int, error) {
	retry := step.Retry
	maxAttempts := 1
	var backoffStrategy string
	var initialDelay float64
	var retryOn []string
	if retry != nil {
		if retry.Attempts > 0 {
			maxAttempts = retry.Attempts
		}
		backoffStrategy = retry.Backoff
		initialDelay = retry.InitialDelaySeconds
		retryOn = retry.RetryOn
	}

	delay := time.Duration(initialDelay * float64(time.Second))
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		mem, err := x.Registry.Create(step.MemberRef, nil, ec.EnvSnapshot())
		if err != nil {
			return member.Response{}, attempt, err
		}

		response, err := mem.Execute(member.ExecuteContext{
			Input:        resolvedInput,
			Env:          ec.EnvSnapshot(),
			Cancellation: ctx,
		})
		if err == nil {
			return response, attempt, nil
		}

		lastErr = err
		if attempt == maxAttempts || !retryEligible(err, retryOn) {
			break
		}

		select {
		case <-ctx.Done():
			return member.Response{}, attempt, ctx.Err()
		case <-time.After(delay):
			delay = nextDelay(backoffStrategy, delay)
		}
	}

	return member.Response{}, maxAttempts, conductorerrors.Wrapf(lastErr, "step %q failed after %d attempt(s)", step.ID, maxAttempts)
}

// retryEligible reports whether err should trigger another attempt. An
// empty retryOn list retries any error (the teacher's default); a
// non-empty list restricts retry to errors whose ErrorType() matches.
func retryEligible(err error, retryOn []string) bool {
	if len(retryOn) == 0 {
		return true
	}
	var classified conductorerrors.ErrorClassifier
	if !conductorerrors.As(err, &classified) {
		return false
	}
	kind := classified.ErrorType()
	for _, k := range retryOn {
		if k == kind {
			return true
		}
	}
	return false
}

func nextDelay(strategy string, current time.Duration) time.Duration {
	switch strategy {
	case "linear":
		return current + time.Second
	case "fixed":
		return current
	default: // exponential
		return current * 2
	}
}

// runScoringGate runs the step's content through the gate loop. The
// first attempt reuses the response the caller already obtained (content
// already produced before the gate was even known to apply); every
// subsequent attempt re-invokes the member through invokeWithRetry, so a
// step's own retry policy still governs each individual scoring attempt.
// Returns the gate's Outcome plus the data produced by whichever attempt
// finally ran, since Outcome itself only carries the scored content as a
// string.
func (x *Executor) runScoringGate(ctx context.Context, step *ensemble.Step, meta member.Metadata, resolvedInput map[string]any, initialContent string, initialData any, ec *ensemble.ExecutionContext) (scoring.Outcome, any, error) {
	policy := step.Scoring
	evaluator, ok := x.Evaluators[policy.Evaluator]
	if !ok {
		return scoring.Outcome{}, nil, &conductorerrors.ValidationError{
			Field:   "scoring.evaluator",
			Message: fmt.Sprintf("step %q references unregistered evaluator %q", step.ID, policy.Evaluator),
		}
	}

	criteria := make([]scoring.Criterion, len(policy.Criteria))
	for i, c := range policy.Criteria {
		criteria[i] = scoring.Criterion{Name: c.Name, Weight: c.Weight, Expression: c.Expression, Reference: c.Reference}
	}

	cfg := scoring.GateConfig{
		StepID:   step.ID,
		Criteria: criteria,
		Thresholds: scoring.Thresholds{
			Minimum: policy.Thresholds.Minimum, Target: policy.Thresholds.Target, Excellent: policy.Thresholds.Excellent,
		},
		Aggregation:        policy.Aggregation,
		RetryLimit:         policy.RetryLimit,
		Backoff:            scoring.Backoff{Strategy: policy.Backoff.Strategy, InitialSeconds: policy.Backoff.InitialSeconds},
		OnFailure:          scoring.OnFailure(policy.OnFailure),
		RequireImprovement: policy.RequireImprovement,
		MinImprovement:     policy.MinImprovement,
	}

	finalData := initialData
	runFn := func(runCtx context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return initialContent, nil
		}
		response, _, err := x.invokeWithRetry(runCtx, step, meta, resolvedInput, ec)
		if err != nil {
			return "", err
		}
		if !response.OK {
			return "", &conductorerrors.MemberFailureError{
				MemberName: meta.Name, StepID: step.ID, Message: response.Error, Kind: response.ErrorKind,
			}
		}
		finalData = response.Data
		return fmt.Sprint(response.Data), nil
	}

	outcome, err := scoring.Run(ctx, evaluator, cfg, runFn)
	return outcome, finalData, err
}

func stepTimeout(step *ensemble.Step, ensembleDefault time.Duration) time.Duration {
	if step.TimeoutSeconds > 0 {
		return time.Duration(step.TimeoutSeconds) * time.Second
	}
	if ensembleDefault > 0 {
		return ensembleDefault
	}
	return defaultStepTimeout
}

// EvalCondition evaluates a branch/while/switch expression against env,
// reusing the same compiled-program cache `when` uses. The Graph
// Scheduler calls this for every control-flow expression it evaluates so
// a loop condition re-checked every iteration only compiles once.
func (x *Executor) EvalCondition(expression string, env map[string]any) (bool, error) {
	return x.condition.Eval(expression, env)
}

// InterpolationEnv builds the expr-lang evaluation environment for ec and
// store, exported for the Graph Scheduler's branch/while/switch condition
// checks alongside ExecuteStep.
func (x *Executor) InterpolationEnv(ec *ensemble.ExecutionContext, store *state.Store) map[string]any {
	return x.interpolationEnv(ec, store)
}

// InterpolateContext builds the "${path}" resolution context for ec and
// store, exported so the Graph Scheduler can resolve foreach/map-reduce
// source expressions with the same layering ExecuteStep uses.
func (x *Executor) InterpolateContext(ec *ensemble.ExecutionContext, store *state.Store) interpolate.Context {
	return x.interpolateContext(ec, store)
}

// interpolationEnv builds the top-level env map `when`/`condition`
// expressions evaluate against: input/state/outputs/env, the same
// layering the interpolator uses. State is read from the store, not the
// ExecutionContext's own state bag, since the store (via committed
// Handles) is the authority every step's writes actually land in.
func (x *Executor) interpolationEnv(ec *ensemble.ExecutionContext, store *state.Store) map[string]any {
	env := map[string]any{
		"input":   ec.InputSnapshot(),
		"state":   store.Snapshot(),
		"outputs": ec.OutputsSnapshot(),
		"env":     ec.EnvSnapshot(),
	}
	if item, index, ok := ec.Iteration(); ok {
		env["item"] = item
		env["index"] = index
	}
	if items, ok := ec.ItemsBinding(); ok {
		env["items"] = items
	}
	return env
}

func (x *Executor) interpolateContext(ec *ensemble.ExecutionContext, store *state.Store) interpolate.Context {
	ictx := interpolate.Context{
		Input:   ec.InputSnapshot(),
		State:   store.Snapshot(),
		Outputs: ec.OutputsSnapshot(),
		Env:     ec.EnvSnapshot(),
	}
	if item, index, ok := ec.Iteration(); ok {
		ictx = ictx.WithItem(item, index)
	}
	if items, ok := ec.ItemsBinding(); ok {
		ictx = ictx.WithItems(items)
	}
	return ictx
}

// resolveInputTemplate interpolates every value in tmpl against ctx,
// producing the concrete map a member receives as Input.
func resolveInputTemplate(tmpl map[string]any, ctx interpolate.Context) (map[string]any, error) {
	out := make(map[string]any, len(tmpl))
	for k, v := range tmpl {
		resolved, err := interpolate.Resolve(v, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}
