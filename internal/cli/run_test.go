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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uuidEnsembleYAML = `
name: id-gen
flow:
  - member: function
    id: gen
    inputTemplate:
      op: id_uuid
output:
  id: "${outputs.gen.data}"
`

func writeEnsembleFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ensemble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestRunCommandCompletesWithBuiltinMember(t *testing.T) {
	path := writeEnsembleFile(t, uuidEnsembleYAML)

	cmd := newRunCommand()
	cmd.SetArgs([]string{path, "--json"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"Status"`)
	assert.Contains(t, out.String(), "completed")
}

func TestRunCommandRejectsMissingEnsembleFile(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitValidationError, exitErr.Code)
}

func TestResolveInputMergesFileAndFlags(t *testing.T) {
	file := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"a":"from-file","b":"from-file"}`), 0o644))

	input, err := resolveInput([]string{"b=from-flag"}, file)
	require.NoError(t, err)
	assert.Equal(t, "from-file", input["a"])
	assert.Equal(t, "from-flag", input["b"], "flag values should override file values")
}

func TestResolveInputRejectsMalformedPair(t *testing.T) {
	_, err := resolveInput([]string{"no-equals-sign"}, "")
	assert.Error(t, err)
}
