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

// Package member defines the Member Contract: the single interface every
// member kind (Think, Function, Data, API, MCP, Scoring, Email, SMS, Form,
// Page, HTML, PDF) satisfies uniformly. The engine never type-switches on
// member kind; it only calls Execute.
package member

import "context"

// Response is what every member returns, regardless of kind.
type Response struct {
	// OK is false when the member considers its own invocation a failure.
	OK bool `json:"ok"`

	// Data holds the member's output when OK is true.
	Data any `json:"data,omitempty"`

	// Error describes the failure when OK is false.
	Error string `json:"error,omitempty"`

	// ErrorKind classifies the failure; "Unknown" marks a recovered panic.
	ErrorKind string `json:"errorKind,omitempty"`

	// DurationMs is the wall-clock time the member spent executing.
	DurationMs int64 `json:"durationMs"`

	// Metadata carries member-kind-specific detail (token usage, HTTP status, ...).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Suspend, when non-nil, asks the executor to halt and capture a frame.
	Suspend *Suspend `json:"suspend,omitempty"`
}

// Suspend is returned by a member that needs a human-in-the-loop gate.
type Suspend struct {
	Reason        string `json:"reason"`
	NotifyChannel string `json:"notifyChannel,omitempty"`
	ApprovalData  any    `json:"approvalData,omitempty"`
}

// EmitFunc lets a member report intermediate events (progress, partial
// output) without knowing about the engine's event system.
type EmitFunc func(kind string, payload map[string]any)

// ExecuteContext is the argument every member's Execute receives.
type ExecuteContext struct {
	// Input is the step's resolved inputTemplate.
	Input map[string]any

	// Env is the frozen set of deployment-time bindings.
	Env map[string]any

	// Cancellation carries the cooperative cancellation scope. Members
	// performing I/O MUST honor ctx.Done().
	Cancellation context.Context

	// Emit reports a member-originated event; may be nil.
	Emit EmitFunc
}

// Member is the capability every member kind implements. A member MUST be
// pure with respect to (Input, config): identical values yield an
// equivalent Response, modulo member-declared nondeterminism.
type Member interface {
	Execute(ctx ExecuteContext) (Response, error)
}

// Factory constructs a configured Member from parsed member config and the
// deployment environment.
type Factory func(config map[string]any, env map[string]any) (Member, error)
