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

// Package memory is an in-process FrameStore, the default for the CLI
// and for tests: no persistence across restarts, but no external
// dependency either.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
)

// Store is a suspend.FrameStore over a mutex-guarded map, with a background
// sweep goroutine that drops expired entries so a long-lived daemon
// process doesn't accumulate abandoned frames forever.
type Store struct {
	mu     sync.Mutex
	frames map[string]*suspend.Frame
	clock  func() time.Time

	stop chan struct{}
}

// New returns a Store and starts its sweep goroutine at the given
// interval. Call Close to stop the goroutine.
func New(sweepInterval time.Duration) *Store {
	s := &Store{
		frames: make(map[string]*suspend.Frame),
		clock:  time.Now,
		stop:   make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Close stops the background sweep goroutine. Safe to call once.
func (s *Store) Close() {
	close(s.stop)
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) sweep() {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, f := range s.frames {
		if f.Expired(now) {
			delete(s.frames, token)
		}
	}
}

func (s *Store) Put(_ context.Context, frame *suspend.Frame, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *frame
	s.frames[frame.Token] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, token string) (*suspend.Frame, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[token]
	if !ok {
		return nil, false, nil
	}
	if f.Expired(s.clock()) {
		delete(s.frames, token)
		return nil, false, nil
	}
	cp := *f
	return &cp, true, nil
}

func (s *Store) CompareAndSwap(_ context.Context, token string, expectStatus suspend.Status, next *suspend.Frame) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.frames[token]
	if !ok || cur.Expired(s.clock()) || cur.Status != expectStatus {
		return false, nil
	}
	cp := *next
	s.frames[token] = &cp
	return true, nil
}

func (s *Store) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frames, token)
	return nil
}
