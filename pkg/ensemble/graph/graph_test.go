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

package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/executor"
	"github.com/ensemble-edge/conductor/pkg/ensemble/member"
	"github.com/ensemble-edge/conductor/pkg/ensemble/state"
	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// recordingMember echoes its input back as Data and records the order it
// was invoked in, so tests can assert on dependsOn ordering.
type recordingMember struct {
	mu    sync.Mutex
	order *[]string
	name  string
	delay func()
}

func (m *recordingMember) Execute(ctx member.ExecuteContext) (member.Response, error) {
	if m.delay != nil {
		m.delay()
	}
	m.mu.Lock()
	*m.order = append(*m.order, m.name)
	m.mu.Unlock()
	return member.Response{OK: true, Data: ctx.Input}, nil
}

func step(id, member string, dependsOn ...string) ensemble.FlowElement {
	return ensemble.FlowElement{Step: &ensemble.Step{ID: id, MemberRef: member, DependsOn: dependsOn}}
}

func TestPlanRejectsCycle(t *testing.T) {
	flow := []ensemble.FlowElement{
		{Parallel: &ensemble.Parallel{Steps: []ensemble.FlowElement{
			step("a", "echo", "b"),
			step("b", "echo", "a"),
		}}},
	}
	err := Plan(flow)
	require.Error(t, err)
	var cyc *conductorerrors.CyclicDependencyError
	assert.ErrorAs(t, err, &cyc)
}

func TestPlanRejectsConflictingWrites(t *testing.T) {
	a := &ensemble.Step{ID: "a", MemberRef: "echo", StateSet: []string{"total"}}
	b := &ensemble.Step{ID: "b", MemberRef: "echo", StateSet: []string{"total"}}
	flow := []ensemble.FlowElement{
		{Parallel: &ensemble.Parallel{Steps: []ensemble.FlowElement{{Step: a}, {Step: b}}}},
	}
	err := Plan(flow)
	require.Error(t, err)
	var conflict *conductorerrors.ConflictingWritesError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "total", conflict.Key)
}

func TestRunParallelRespectsDependsOn(t *testing.T) {
	var order []string
	a := &recordingMember{order: &order, name: "a"}
	b := &recordingMember{order: &order, name: "b"}
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "a", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) { return a, nil })
	registry.Register(member.Metadata{Name: "b", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) { return b, nil })

	exec := executor.New(registry, cache.New(), nil, nil)
	s := New(exec)

	flow := []ensemble.FlowElement{
		{Parallel: &ensemble.Parallel{Steps: []ensemble.FlowElement{
			step("b", "b", "a"),
			step("a", "a"),
		}}},
	}

	store := state.New(nil, nil)
	ec := ensemble.NewExecutionContext(nil, nil, nil)
	err := s.RunFlow(context.Background(), flow, store, ec)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestRunParallelWaitForAny(t *testing.T) {
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "fails", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) {
		return &scriptedMember{fn: func() (member.Response, error) {
			return member.Response{OK: false, Error: "boom"}, nil
		}}, nil
	})
	registry.Register(member.Metadata{Name: "succeeds", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) {
		return &scriptedMember{fn: func() (member.Response, error) {
			return member.Response{OK: true, Data: "done"}, nil
		}}, nil
	})

	exec := executor.New(registry, cache.New(), nil, nil)
	s := New(exec)

	flow := []ensemble.FlowElement{
		{Parallel: &ensemble.Parallel{
			WaitFor: "any",
			Steps: []ensemble.FlowElement{
				step("fail-branch", "fails"),
				step("ok-branch", "succeeds"),
			},
		}},
	}

	store := state.New(nil, nil)
	ec := ensemble.NewExecutionContext(nil, nil, nil)
	err := s.RunFlow(context.Background(), flow, store, ec)
	assert.NoError(t, err)
}

func TestRunForeachBindsItemAndIndex(t *testing.T) {
	var seen []any
	var mu sync.Mutex
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "collect", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) {
		return &scriptedFn{fn: func(ctx member.ExecuteContext) (member.Response, error) {
			mu.Lock()
			seen = append(seen, ctx.Input["value"])
			mu.Unlock()
			return member.Response{OK: true, Data: ctx.Input}, nil
		}}, nil
	})
	exec := executor.New(registry, cache.New(), nil, nil)
	s := New(exec)

	flow := []ensemble.FlowElement{
		{Foreach: &ensemble.Foreach{
			Items: "${input.list}",
			Steps: []ensemble.FlowElement{
				{Step: &ensemble.Step{
					ID:            "collect",
					MemberRef:     "collect",
					InputTemplate: map[string]any{"value": "${item}"},
				}},
			},
		}},
	}

	store := state.New(nil, nil)
	ec := ensemble.NewExecutionContext(map[string]any{"list": []any{"x", "y", "z"}}, nil, nil)
	err := s.RunFlow(context.Background(), flow, store, ec)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"x", "y", "z"}, seen)
}

func TestRunMapReduceBindsItems(t *testing.T) {
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "double", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) {
		return &scriptedFn{fn: func(ctx member.ExecuteContext) (member.Response, error) {
			n := ctx.Input["n"].(int)
			return member.Response{OK: true, Data: n * 2}, nil
		}}, nil
	})
	var reduced any
	registry.Register(member.Metadata{Name: "sum", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) {
		return &scriptedFn{fn: func(ctx member.ExecuteContext) (member.Response, error) {
			reduced = ctx.Input["all"]
			return member.Response{OK: true, Data: ctx.Input["all"]}, nil
		}}, nil
	})
	exec := executor.New(registry, cache.New(), nil, nil)
	s := New(exec)

	flow := []ensemble.FlowElement{
		{MapReduce: &ensemble.MapReduce{
			Items: "${input.nums}",
			Map: []ensemble.FlowElement{
				{Step: &ensemble.Step{ID: "double", MemberRef: "double", InputTemplate: map[string]any{"n": "${item}"}}},
			},
			Reduce: []ensemble.FlowElement{
				{Step: &ensemble.Step{ID: "sum", MemberRef: "sum", InputTemplate: map[string]any{"all": "${items}"}}},
			},
		}},
	}

	store := state.New(nil, nil)
	ec := ensemble.NewExecutionContext(map[string]any{"nums": []any{1, 2, 3}}, nil, nil)
	err := s.RunFlow(context.Background(), flow, store, ec)
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4, 6}, reduced)
}

func TestRunWhileRespectsMaxIterations(t *testing.T) {
	var calls int32
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "tick", Version: "1.0.0"}, func(c, e map[string]any) (member.Member, error) {
		return &scriptedFn{fn: func(ctx member.ExecuteContext) (member.Response, error) {
			atomic.AddInt32(&calls, 1)
			return member.Response{OK: true, Data: "tick"}, nil
		}}, nil
	})
	exec := executor.New(registry, cache.New(), nil, nil)
	s := New(exec)

	flow := []ensemble.FlowElement{
		{While: &ensemble.While{
			Condition:     "true",
			MaxIterations: 3,
			Steps:         []ensemble.FlowElement{step("tick", "tick")},
		}},
	}

	store := state.New(nil, nil)
	ec := ensemble.NewExecutionContext(nil, nil, nil)
	err := s.RunFlow(context.Background(), flow, store, ec)
	require.Error(t, err)
	var limitErr *conductorerrors.IterationLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// scriptedMember and scriptedFn are small Execute adapters local to this
// package's tests (the executor package's own scriptedMember is
// unexported there, so graph's tests need their own copy).
type scriptedMember struct {
	fn func() (member.Response, error)
}

func (m *scriptedMember) Execute(ctx member.ExecuteContext) (member.Response, error) { return m.fn() }

type scriptedFn struct {
	fn func(ctx member.ExecuteContext) (member.Response, error)
}

func (m *scriptedFn) Execute(ctx member.ExecuteContext) (member.Response, error) { return m.fn(ctx) }
