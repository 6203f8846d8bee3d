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

package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/driver"
	"github.com/ensemble-edge/conductor/pkg/ensemble/member"
)

type countingMember struct {
	calls int32
}

func (m *countingMember) Execute(ctx member.ExecuteContext) (member.Response, error) {
	atomic.AddInt32(&m.calls, 1)
	return member.Response{OK: true, Data: "tick"}, nil
}

func newTestDriver(t *testing.T, mem member.Member) *driver.Driver {
	t.Helper()
	registry := member.NewRegistry()
	registry.Register(member.Metadata{Name: "echo", Version: "1.0.0"}, func(config, env map[string]any) (member.Member, error) {
		return mem, nil
	})
	return driver.New(registry, cache.New(), nil, nil, nil)
}

func echoEnsembleWithSchedule(cron string) *ensemble.Ensemble {
	return &ensemble.Ensemble{
		Name: "heartbeat",
		Flow: []ensemble.FlowElement{
			{Step: &ensemble.Step{ID: "say", MemberRef: "echo", InputTemplate: map[string]any{}}},
		},
		Output:    map[string]any{"greeting": "${outputs.say.data}"},
		Schedules: []ensemble.ScheduleBinding{{Cron: cron}},
	}
}

func TestSchedulerAddRejectsInvalidCron(t *testing.T) {
	s := NewScheduler(newTestDriver(t, &countingMember{}), nil)
	err := s.Add(echoEnsembleWithSchedule("not a cron"), time.Now())
	assert.Error(t, err)
}

func TestSchedulerAddComputesNextRun(t *testing.T) {
	s := NewScheduler(newTestDriver(t, &countingMember{}), nil)
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Add(echoEnsembleWithSchedule("* * * * *"), now))

	require.Len(t, s.schedules, 1)
	assert.Equal(t, now.Add(time.Minute), s.schedules[0].nextRun)
}

func TestSchedulerTickFiresDueSchedulesOnly(t *testing.T) {
	mem := &countingMember{}
	s := NewScheduler(newTestDriver(t, mem), nil)
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Add(echoEnsembleWithSchedule("* * * * *"), now))

	// Not due yet: nextRun is one minute out.
	s.tick(context.Background(), now)
	waitForCalls(t, &mem.calls, 0)

	// Due now.
	s.tick(context.Background(), now.Add(time.Minute))
	waitForCalls(t, &mem.calls, 1)
}

func waitForCalls(t *testing.T, counter *int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(counter) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(counter); got != want {
		t.Fatalf("call count = %d, want %d", got, want)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestDriver(t, &countingMember{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()
}
