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

import "sync"

// History is an in-memory, append-only trace of one execution's events,
// kept in sequence order as an Emitter's listener. A driver attaches a
// History to every run's Emitter so a suspended run can be inspected or
// replayed later, and a completed run's trace can be returned alongside
// its result.
type History struct {
	mu     sync.Mutex
	events []Event
}

// NewHistory returns an empty History. Pass its Record method to an
// Emitter's On to start capturing.
func NewHistory() *History {
	return &History{}
}

// Record appends evt. Matches the Listener signature so it can be
// registered directly for every kind the driver cares about:
// emitter.On(events.StepCompleted, history.Record).
func (h *History) Record(evt Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return nil
}

// Events returns a copy of the full trace in sequence order.
func (h *History) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Since returns every recorded event with Seq strictly greater than
// seq, letting a resumed run's caller fetch only what happened after
// the point it last observed.
func (h *History) Since(seq int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// ForStep returns every recorded event carrying the given stepID, in
// sequence order, for inspecting one step's lifecycle in isolation.
func (h *History) ForStep(stepID string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.StepID == stepID {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recently recorded event and true, or the zero
// Event and false if History is empty.
func (h *History) Last() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return Event{}, false
	}
	return h.events[len(h.events)-1], true
}

// Len reports how many events have been recorded.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}
