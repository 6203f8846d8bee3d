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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents a malformed ensemble/member definition,
// detected before any step executes.
type ValidationError struct {
	// Field identifies which definition field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) ErrorType() string { return "validation" }

func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error (ensembles, frames,
// registry entries not covered by the more specific kinds below).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) ErrorType() string { return "not_found" }

func (e *NotFoundError) IsRetryable() bool { return false }

func (e *NotFoundError) IsUserVisible() bool { return true }

func (e *NotFoundError) UserMessage() string { return e.Error() }

func (e *NotFoundError) Suggestion() string {
	return fmt.Sprintf("check that %s %q exists and the caller has access to it", e.Resource, e.ID)
}

// ConfigError represents daemon configuration problems.
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) ErrorType() string { return "config" }

func (e *ConfigError) IsRetryable() bool { return false }

// InvalidTemplateError represents bad ${...} reference syntax encountered
// during interpolation.
type InvalidTemplateError struct {
	Template string
	Reason   string
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid template %q: %s", e.Template, e.Reason)
}

func (e *InvalidTemplateError) ErrorType() string { return "invalid_template" }

func (e *InvalidTemplateError) IsRetryable() bool { return false }

func (e *InvalidTemplateError) IsUserVisible() bool { return true }

func (e *InvalidTemplateError) UserMessage() string { return e.Error() }

func (e *InvalidTemplateError) Suggestion() string {
	return "check for unbalanced ${...} delimiters or an unsupported path expression"
}

// PermissionError represents a state read/write outside a step's declared
// stateUse/stateSet permissions (I3/I4).
type PermissionError struct {
	Key       string
	Operation string // "read" or "write"
	StepID    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("step %q may not %s state key %q: not declared", e.StepID, e.Operation, e.Key)
}

func (e *PermissionError) ErrorType() string { return "permission_denied" }

func (e *PermissionError) IsRetryable() bool { return false }

func (e *PermissionError) IsUserVisible() bool { return true }

func (e *PermissionError) UserMessage() string { return e.Error() }

func (e *PermissionError) Suggestion() string {
	return fmt.Sprintf("add %q to the step's stateUse/stateSet declaration", e.Key)
}

// StateTypeError represents a state write that violates the declared
// stateSchema type for the key.
type StateTypeError struct {
	Key  string
	Got  string
	Want string
}

func (e *StateTypeError) Error() string {
	return fmt.Sprintf("state key %q is %s, not %s", e.Key, e.Got, e.Want)
}

func (e *StateTypeError) ErrorType() string { return "type_error" }

func (e *StateTypeError) IsRetryable() bool { return false }

// MemberNotFoundError represents a memberRef that cannot be resolved in
// the registry.
type MemberNotFoundError struct {
	Name    string
	Version string
}

func (e *MemberNotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("member %q@%s not found", e.Name, e.Version)
	}
	return fmt.Sprintf("member %q not found", e.Name)
}

func (e *MemberNotFoundError) ErrorType() string { return "member_not_found" }

func (e *MemberNotFoundError) IsRetryable() bool { return false }

func (e *MemberNotFoundError) IsUserVisible() bool { return true }

func (e *MemberNotFoundError) UserMessage() string { return e.Error() }

func (e *MemberNotFoundError) Suggestion() string {
	return "check the member name/version against the ones registered at startup"
}

// MemberFailureError wraps a member response with ok: false, or a member
// panic/throw (kind Unknown) normalized into the same shape.
type MemberFailureError struct {
	MemberName string
	StepID     string
	Message    string
	Kind       string // e.g. "Unknown" for a recovered panic
	Cause      error
}

func (e *MemberFailureError) Error() string {
	return fmt.Sprintf("member %q failed at step %q: %s", e.MemberName, e.StepID, e.Message)
}

func (e *MemberFailureError) Unwrap() error { return e.Cause }

func (e *MemberFailureError) ErrorType() string { return "member_failure" }

func (e *MemberFailureError) IsRetryable() bool { return true }

func (e *MemberFailureError) IsUserVisible() bool { return true }

func (e *MemberFailureError) UserMessage() string { return e.Error() }

func (e *MemberFailureError) Suggestion() string {
	if e.Kind == "Unknown" {
		return "the member panicked; check its logs for the underlying cause"
	}
	return ""
}

// TimeoutError represents a step that exceeded its deadline.
type TimeoutError struct {
	StepID   string
	Duration time.Duration
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %v", e.StepID, e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

func (e *TimeoutError) ErrorType() string { return "timeout" }

func (e *TimeoutError) IsRetryable() bool { return true }

func (e *TimeoutError) IsUserVisible() bool { return true }

func (e *TimeoutError) UserMessage() string { return e.Error() }

func (e *TimeoutError) Suggestion() string {
	return "raise the step's timeout or investigate why the member is slow"
}

// IterationLimitError represents a while loop exceeding maxIterations.
type IterationLimitError struct {
	StepID        string
	MaxIterations int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("step %q exceeded max_iterations (%d)", e.StepID, e.MaxIterations)
}

func (e *IterationLimitError) ErrorType() string { return "iteration_limit" }

func (e *IterationLimitError) IsRetryable() bool { return false }

// ScoringFailureError represents exhausted scoring retries under
// onFailure: abort.
type ScoringFailureError struct {
	StepID     string
	LastScore  float64
	Threshold  float64
	RetryCount int
	Breakdown  map[string]float64
}

func (e *ScoringFailureError) Error() string {
	return fmt.Sprintf("step %q failed scoring gate: score %.3f < threshold %.3f after %d retries",
		e.StepID, e.LastScore, e.Threshold, e.RetryCount)
}

func (e *ScoringFailureError) ErrorType() string { return "scoring_failure" }

func (e *ScoringFailureError) IsRetryable() bool { return false }

func (e *ScoringFailureError) IsUserVisible() bool { return true }

func (e *ScoringFailureError) UserMessage() string { return e.Error() }

func (e *ScoringFailureError) Suggestion() string {
	return "lower the threshold, add a retry budget, or improve the member's prompt/config"
}

// CyclicDependencyError represents a dependsOn cycle detected at planning
// time, before any step runs.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: %v", e.Cycle)
}

func (e *CyclicDependencyError) ErrorType() string { return "cyclic_dependency" }

func (e *CyclicDependencyError) IsRetryable() bool { return false }

func (e *CyclicDependencyError) IsUserVisible() bool { return true }

func (e *CyclicDependencyError) UserMessage() string { return e.Error() }

func (e *CyclicDependencyError) Suggestion() string {
	return "break the cycle by removing one of the listed dependsOn edges"
}

// ConflictingWritesError represents overlapping stateSet declarations on
// concurrent siblings in a parallel/foreach block.
type ConflictingWritesError struct {
	Key     string
	StepIDs []string
}

func (e *ConflictingWritesError) Error() string {
	return fmt.Sprintf("conflicting writes to state key %q declared by concurrent steps %v", e.Key, e.StepIDs)
}

func (e *ConflictingWritesError) ErrorType() string { return "conflicting_writes" }

func (e *ConflictingWritesError) IsRetryable() bool { return false }

func (e *ConflictingWritesError) IsUserVisible() bool { return true }

func (e *ConflictingWritesError) UserMessage() string { return e.Error() }

func (e *ConflictingWritesError) Suggestion() string {
	return "give each concurrent step a disjoint stateSet, or move the write after the block joins"
}

// TokenExpiredError represents a resumption token that is absent or past
// its TTL in the frame store.
type TokenExpiredError struct {
	Token string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("resumption token %q expired or not found", e.Token)
}

func (e *TokenExpiredError) ErrorType() string { return "token_expired" }

func (e *TokenExpiredError) IsRetryable() bool { return false }

func (e *TokenExpiredError) IsUserVisible() bool { return true }

func (e *TokenExpiredError) UserMessage() string { return e.Error() }

func (e *TokenExpiredError) Suggestion() string {
	return "the suspended run must be restarted; resumption tokens cannot be extended"
}

// InvalidTransitionError represents a second approve/reject/cancel call on
// a frame that has already left the pending state.
type InvalidTransitionError struct {
	Token string
	From  string
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: frame %q is %s, cannot %s", e.Token, e.From, e.Event)
}

func (e *InvalidTransitionError) ErrorType() string { return "invalid_state_transition" }

func (e *InvalidTransitionError) IsRetryable() bool { return false }

func (e *InvalidTransitionError) IsUserVisible() bool { return true }

func (e *InvalidTransitionError) UserMessage() string { return e.Error() }

func (e *InvalidTransitionError) Suggestion() string {
	return "the frame already left pending state; approve/reject/cancel are single-shot"
}

// CancelledError represents a scope terminated externally (timeout,
// sibling failure in waitFor:all, first success in waitFor:any).
type CancelledError struct {
	Scope string
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("scope %q cancelled", e.Scope)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) ErrorType() string { return "cancelled" }

func (e *CancelledError) IsRetryable() bool { return false }

// NotReadyError represents a resume attempt on a frame still awaiting
// its approve/reject decision.
type NotReadyError struct {
	Token string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("frame %q is still pending approval", e.Token)
}

func (e *NotReadyError) ErrorType() string { return "not_ready" }

func (e *NotReadyError) IsRetryable() bool { return true }

func (e *NotReadyError) IsUserVisible() bool { return true }

func (e *NotReadyError) UserMessage() string { return e.Error() }

func (e *NotReadyError) Suggestion() string {
	return "wait for an approver to call approve or reject, then retry resume"
}

// RejectedError represents a resume attempt on a frame an approver
// explicitly rejected.
type RejectedError struct {
	Token  string
	Actor  string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("frame %q was rejected by %s: %s", e.Token, e.Actor, e.Reason)
	}
	return fmt.Sprintf("frame %q was rejected by %s", e.Token, e.Actor)
}

func (e *RejectedError) ErrorType() string { return "rejected" }

func (e *RejectedError) IsRetryable() bool { return false }

func (e *RejectedError) IsUserVisible() bool { return true }

func (e *RejectedError) UserMessage() string { return e.Error() }

func (e *RejectedError) Suggestion() string {
	return "start a new run; a rejected frame cannot be resumed"
}
