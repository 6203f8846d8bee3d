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

// Package cli holds the small amount of machinery every conductor
// subcommand shares: exit codes and the UserVisibleError suggestion
// printer.
package cli

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/ensemble-edge/conductor/pkg/errors"
)

// Exit codes, per the ensemble run/resume contract: 0 success, 1
// validation error, 2 execution error, 3 timeout, 4 suspended.
const (
	ExitSuccess          = 0
	ExitValidationError  = 1
	ExitExecutionError   = 2
	ExitTimeout          = 3
	ExitSuspended        = 4
)

// ExitError is an error that carries the process exit code it should
// cause.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Cause }

func NewValidationExitError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitValidationError, Message: msg, Cause: cause}
}

func NewExecutionExitError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionError, Message: msg, Cause: cause}
}

func NewTimeoutExitError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitTimeout, Message: msg, Cause: cause}
}

// HandleExitError prints err (plus any UserVisibleError suggestion) and
// exits with its ExitError code, or ExitExecutionError if err carries
// none.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		printSuggestion(err)
		os.Exit(exitErr.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printSuggestion(err)
	os.Exit(ExitExecutionError)
}

func printSuggestion(err error) {
	for err != nil {
		if uve, ok := err.(pkgerrors.UserVisibleError); ok {
			if uve.IsUserVisible() {
				if s := uve.Suggestion(); s != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
				}
			}
			return
		}
		err = errors.Unwrap(err)
	}
}
