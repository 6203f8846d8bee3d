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

package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitErrorMessage(t *testing.T) {
	err := NewValidationExitError("reading ensemble file", errors.New("no such file"))
	assert.Equal(t, "reading ensemble file: no such file", err.Error())
	assert.Equal(t, ExitValidationError, err.Code)
}

func TestExitErrorMessageNoCause(t *testing.T) {
	err := NewValidationExitError("unknown action", nil)
	assert.Equal(t, "unknown action", err.Error())
}

func TestExitErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewExecutionExitError("running ensemble", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestExitErrorAsMatchesWrapped(t *testing.T) {
	inner := NewTimeoutExitError("step timed out", nil)
	wrapped := fmt.Errorf("running step: %w", inner)

	var exitErr *ExitError
	assert.True(t, errors.As(wrapped, &exitErr))
	assert.Equal(t, ExitTimeout, exitErr.Code)
}
