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

package events

import "testing"

func TestHistorySinceAndForStep(t *testing.T) {
	h := NewHistory()
	h.Record(Event{Seq: 1, Kind: StepStarted, StepID: "a"})
	h.Record(Event{Seq: 2, Kind: StepCompleted, StepID: "a"})
	h.Record(Event{Seq: 3, Kind: StepStarted, StepID: "b"})
	h.Record(Event{Seq: 4, Kind: StepCompleted, StepID: "b"})

	if got := h.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}

	since := h.Since(2)
	if len(since) != 2 || since[0].Seq != 3 || since[1].Seq != 4 {
		t.Errorf("Since(2) = %+v, want seq 3 and 4", since)
	}

	forA := h.ForStep("a")
	if len(forA) != 2 {
		t.Fatalf("ForStep(a) len = %d, want 2", len(forA))
	}
	for _, evt := range forA {
		if evt.StepID != "a" {
			t.Errorf("ForStep(a) returned event for %q", evt.StepID)
		}
	}

	last, ok := h.Last()
	if !ok || last.Seq != 4 {
		t.Errorf("Last() = %+v, %v, want seq 4, true", last, ok)
	}
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory()
	if _, ok := h.Last(); ok {
		t.Error("Last() on empty history should return ok=false")
	}
	if got := h.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}
