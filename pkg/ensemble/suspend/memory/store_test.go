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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
)

func TestStorePutGet(t *testing.T) {
	s := New(0)
	frame := &suspend.Frame{Token: "resume_abc", Status: suspend.StatusPending, ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Put(context.Background(), frame, time.Hour); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Get(context.Background(), "resume_abc")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if got.Token != "resume_abc" {
		t.Errorf("Token = %q, want resume_abc", got.Token)
	}
}

func TestStoreGetExpiredIsAbsent(t *testing.T) {
	s := New(0)
	frame := &suspend.Frame{Token: "resume_old", Status: suspend.StatusPending, ExpiresAt: time.Now().Add(-time.Minute)}
	if err := s.Put(context.Background(), frame, time.Hour); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_, ok, err := s.Get(context.Background(), "resume_old")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() should report absent for an expired frame")
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	s := New(0)
	frame := &suspend.Frame{Token: "resume_cas", Status: suspend.StatusPending, ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Put(context.Background(), frame, time.Hour); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	next := *frame
	next.Status = suspend.StatusApproved
	ok, err := s.CompareAndSwap(context.Background(), "resume_cas", suspend.StatusPending, &next)
	if err != nil || !ok {
		t.Fatalf("CompareAndSwap() = %v, %v", ok, err)
	}

	// A second CAS expecting pending must now fail: the frame is approved.
	ok, err = s.CompareAndSwap(context.Background(), "resume_cas", suspend.StatusPending, &next)
	if err != nil {
		t.Fatalf("CompareAndSwap() error = %v", err)
	}
	if ok {
		t.Error("CompareAndSwap() should fail once the stored status no longer matches")
	}
}

func TestStoreDelete(t *testing.T) {
	s := New(0)
	frame := &suspend.Frame{Token: "resume_del", Status: suspend.StatusPending, ExpiresAt: time.Now().Add(time.Hour)}
	_ = s.Put(context.Background(), frame, time.Hour)
	if err := s.Delete(context.Background(), "resume_del"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, ok, _ := s.Get(context.Background(), "resume_del")
	if ok {
		t.Error("Get() after Delete() should report absent")
	}
}

func TestStoreSweepRemovesExpired(t *testing.T) {
	s := New(10 * time.Millisecond)
	defer s.Close()
	frame := &suspend.Frame{Token: "resume_sweep", Status: suspend.StatusPending, ExpiresAt: time.Now().Add(5 * time.Millisecond)}
	_ = s.Put(context.Background(), frame, time.Hour)

	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	_, stillThere := s.frames["resume_sweep"]
	s.mu.Unlock()
	if stillThere {
		t.Error("sweep should have removed the expired frame")
	}
}
