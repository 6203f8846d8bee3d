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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/driver"
)

// scheduledEnsemble pairs a parsed ensemble with one of its own
// ScheduleBinding entries, carrying the computed next-fire time and
// run counters.
type scheduledEnsemble struct {
	ensemble *ensemble.Ensemble
	binding  ensemble.ScheduleBinding
	expr     *cronExpr
	nextRun  time.Time
	runCount int64
	errCount int64
}

// Scheduler ticks once a second and fires any ensemble/schedule pair
// whose next-fire time has passed, submitting it to Driver.Run.
// Disabled fully during Stop/shutdown to avoid dispatching mid-drain.
type Scheduler struct {
	mu        sync.Mutex
	schedules []*scheduledEnsemble
	driver    *driver.Driver
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler builds a Scheduler bound to d. Call Add for each ensemble
// that declares schedule bindings, then Start.
func NewScheduler(d *driver.Driver, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: d, logger: logger.With(slog.String("component", "scheduler"))}
}

// Add registers every ScheduleBinding on ens, computing each one's first
// next-fire time relative to now.
func (s *Scheduler) Add(ens *ensemble.Ensemble, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, binding := range ens.Schedules {
		expr, err := parseCron(binding.Cron)
		if err != nil {
			return fmt.Errorf("ensemble %q: invalid schedule %q: %w", ens.Name, binding.Cron, err)
		}
		s.schedules = append(s.schedules, &scheduledEnsemble{
			ensemble: ens,
			binding:  binding,
			expr:     expr,
			nextRun:  expr.next(now),
		})
	}
	return nil
}

// Start launches the tick loop in a goroutine; it returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
}

// Stop signals the tick loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*scheduledEnsemble, 0)
	for _, sched := range s.schedules {
		if !now.Before(sched.nextRun) {
			due = append(due, sched)
			sched.nextRun = sched.expr.next(now)
		}
	}
	s.mu.Unlock()

	for _, sched := range due {
		go s.fire(ctx, sched)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *scheduledEnsemble) {
	logger := s.logger.With(slog.String("ensemble", sched.ensemble.Name), slog.String("cron", sched.binding.Cron))
	logger.Info("firing scheduled ensemble")

	result, err := s.driver.Run(ctx, sched.ensemble, sched.binding.Input)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || result == nil || result.Status == driver.StatusFailed {
		sched.errCount++
		logger.Error("scheduled ensemble run failed", slog.Any("error", err))
		return
	}
	sched.runCount++
}
