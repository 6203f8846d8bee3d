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

// Package events is the runtime's structured event stream: every
// significant transition an execution makes emits one Event, numbered
// with a monotonic per-execution sequence, so a History can replay or
// inspect a run step by step after the fact. Generalizes the teacher's
// synchronous/asynchronous listener-fanout EventEmitter from one fixed
// three-kind enum to the nine kinds an ensemble run can pass through.
package events

import "time"

// Kind identifies the runtime transition an Event records.
type Kind string

const (
	EnsembleStarted   Kind = "EnsembleStarted"
	StepStarted       Kind = "StepStarted"
	StepCompleted     Kind = "StepCompleted"
	StepFailed        Kind = "StepFailed"
	StepSkipped       Kind = "StepSkipped"
	Suspended         Kind = "Suspended"
	Resumed           Kind = "Resumed"
	EnsembleCompleted Kind = "EnsembleCompleted"
	EnsembleFailed    Kind = "EnsembleFailed"
)

// Event is one entry in an execution's trace.
type Event struct {
	Seq         int64          `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	Kind        Kind           `json:"kind"`
	ExecutionID string         `json:"executionId"`
	StepID      string         `json:"stepId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Listener receives every Event an Emitter produces for the Kind it was
// registered against, in sequence order. Mirrors the teacher's
// EventListener signature, generalized from one Event struct to the
// Kind-tagged variant here; a returned error is collected by Emit but
// never stops the remaining listeners from running.
type Listener func(Event) error

// clock exists so tests can stub wall-clock timestamps without the
// runtime ever calling time.Now() more than once per emit.
var clock = time.Now
