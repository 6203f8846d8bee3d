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

package driver

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/member"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend/memory"
	conductorerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// scriptedMember mirrors the executor package's test double: each test
// controls Execute's behavior directly rather than routing through a
// real member kind.
type scriptedMember struct {
	calls   int32
	execute func(calls int32, ctx member.ExecuteContext) (member.Response, error)
}

func (m *scriptedMember) Execute(ctx member.ExecuteContext) (member.Response, error) {
	n := atomic.AddInt32(&m.calls, 1)
	return m.execute(n, ctx)
}

func newTestDriver(t *testing.T, mem member.Member, frames *suspend.Manager) *Driver {
	t.Helper()
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "echo", Version: "1.0.0"}, func(config, env map[string]any) (member.Member, error) {
		return mem, nil
	})
	return New(registry, cache.New(), nil, frames, nil)
}

func echoEnsemble() *ensemble.Ensemble {
	return &ensemble.Ensemble{
		Name: "greet",
		Flow: []ensemble.FlowElement{
			{Step: &ensemble.Step{ID: "say", MemberRef: "echo", InputTemplate: map[string]any{}}},
		},
		Output: map[string]any{"greeting": "${outputs.say.data}"},
	}
}

func TestDriverRunSuccessProjectsOutput(t *testing.T) {
	mem := &scriptedMember{execute: func(n int32, ctx member.ExecuteContext) (member.Response, error) {
		return member.Response{OK: true, Data: "hello"}, nil
	}}
	d := newTestDriver(t, mem, nil)

	result, err := d.Run(context.Background(), echoEnsemble(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"greeting": "hello"}, result.Data)
	assert.NotEmpty(t, result.ExecutionID)
	assert.NotEmpty(t, result.History)
}

func TestDriverRunUnknownMemberFailsValidation(t *testing.T) {
	mem := &scriptedMember{execute: func(n int32, ctx member.ExecuteContext) (member.Response, error) {
		return member.Response{OK: true}, nil
	}}
	d := newTestDriver(t, mem, nil)

	ens := echoEnsemble()
	ens.Flow[0].Step.MemberRef = "missing"

	_, err := d.Run(context.Background(), ens, nil)
	require.Error(t, err)
	var notFound *conductorerrors.MemberNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDriverRunMemberFailurePropagates(t *testing.T) {
	mem := &scriptedMember{execute: func(n int32, ctx member.ExecuteContext) (member.Response, error) {
		return member.Response{OK: false, Error: "boom"}, nil
	}}
	d := newTestDriver(t, mem, nil)

	result, err := d.Run(context.Background(), echoEnsemble(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
}

// TestDriverSuspendThenResume exercises the full gate lifecycle: the
// member suspends on its first call, the driver captures a frame, an
// external actor approves it, and Resume replays the flow — the
// suspending step is not re-invoked since its output is already
// present in the rehydrated ExecutionContext.
func TestDriverSuspendThenResume(t *testing.T) {
	mem := &scriptedMember{execute: func(n int32, ctx member.ExecuteContext) (member.Response, error) {
		if n == 1 {
			return member.Response{OK: true, Suspend: &member.Suspend{Reason: "needs approval"}}, nil
		}
		t.Fatalf("suspending step should not be re-invoked on resume, call #%d", n)
		return member.Response{}, nil
	}}
	frames := suspend.NewManager(memory.New(0))
	d := newTestDriver(t, mem, frames)

	ens := echoEnsemble()
	ens.Flow[0].Step.ID = "gate"
	ens.Output = map[string]any{"greeting": "${outputs.gate.data}"}

	result, err := d.Run(context.Background(), ens, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, result.Status)
	require.NotEmpty(t, result.Token)

	_, err = frames.Approve(context.Background(), result.Token, "alice", "approved value")
	require.NoError(t, err)

	resumed, err := d.Resume(context.Background(), result.Token, ens)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, map[string]any{"greeting": "approved value"}, resumed.Data)
}

func TestDriverResumePendingFrameIsNotReady(t *testing.T) {
	mem := &scriptedMember{execute: func(n int32, ctx member.ExecuteContext) (member.Response, error) {
		return member.Response{OK: true, Suspend: &member.Suspend{Reason: "needs approval"}}, nil
	}}
	frames := suspend.NewManager(memory.New(0))
	d := newTestDriver(t, mem, frames)

	result, err := d.Run(context.Background(), echoEnsemble(), nil)
	require.NoError(t, err)

	_, err = d.Resume(context.Background(), result.Token, echoEnsemble())
	require.Error(t, err)
	var notReady *conductorerrors.NotReadyError
	assert.ErrorAs(t, err, &notReady)
}

func TestDriverResumeRejectedFrameFails(t *testing.T) {
	mem := &scriptedMember{execute: func(n int32, ctx member.ExecuteContext) (member.Response, error) {
		return member.Response{OK: true, Suspend: &member.Suspend{Reason: "needs approval"}}, nil
	}}
	frames := suspend.NewManager(memory.New(0))
	d := newTestDriver(t, mem, frames)

	result, err := d.Run(context.Background(), echoEnsemble(), nil)
	require.NoError(t, err)

	_, err = frames.Reject(context.Background(), result.Token, "bob", "not valid")
	require.NoError(t, err)

	_, err = d.Resume(context.Background(), result.Token, echoEnsemble())
	require.Error(t, err)
	var rejected *conductorerrors.RejectedError
	assert.ErrorAs(t, err, &rejected)
}
