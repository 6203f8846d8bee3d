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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ensemble-edge/conductor/internal/log"
	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/driver"
	"github.com/ensemble-edge/conductor/pkg/ensemble/executor"
	"github.com/ensemble-edge/conductor/pkg/ensemble/scoring"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend/memory"
)

// StandardEvaluators wires the built-in scoring evaluators under the
// names a ScoringPolicy.Evaluator field is expected to reference.
func StandardEvaluators() executor.Evaluators {
	return executor.Evaluators{
		"rule": scoring.NewRuleEvaluator(),
		"nlp":  scoring.NewNLPEvaluator(),
	}
}

func newRunCommand() *cobra.Command {
	var memberFiles []string
	var inputKV []string
	var inputFile string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <ensemble.yaml>",
		Short: "Run an ensemble to completion or suspension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return NewValidationExitError("reading ensemble file", err)
			}
			ens, err := ensemble.ParseEnsemble(data)
			if err != nil {
				return NewValidationExitError(fmt.Sprintf("%s is invalid", args[0]), err)
			}

			input, err := resolveInput(inputKV, inputFile)
			if err != nil {
				return NewValidationExitError("resolving input", err)
			}

			registry, err := BuildRegistry(memberFiles)
			if err != nil {
				return NewValidationExitError("loading members", err)
			}

			d := driver.New(registry, cache.New(), StandardEvaluators(), suspend.NewManager(memory.New(time.Minute)), log.New(log.DefaultConfig()))

			result, err := d.Run(cmd.Context(), ens, input)
			if err != nil {
				return NewExecutionExitError("running ensemble", err)
			}
			return emitResult(cmd, result, jsonOut)
		},
	}

	cmd.Flags().StringArrayVar(&memberFiles, "member", nil, "path to a member definition YAML file (repeatable)")
	cmd.Flags().StringArrayVar(&inputKV, "input", nil, "input key=value pair (repeatable)")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "path to a JSON file of input values")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}

func resolveInput(kv []string, file string) (map[string]any, error) {
	input := make(map[string]any)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parsing input file: %w", err)
		}
	}
	for _, pair := range kv {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("--input %q must be key=value", pair)
		}
		input[key] = value
	}
	return input, nil
}

// emitResult prints result and returns the error that should drive the
// process's exit code (run/resume share the success/failed/suspended
// contract: 0, 2, or 4 respectively — HandleExitError never sees 4
// because suspension isn't an error, so this exits directly).
func emitResult(cmd *cobra.Command, result *driver.Result, jsonOut bool) error {
	if jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return NewExecutionExitError("encoding result", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	}

	switch result.Status {
	case driver.StatusCompleted:
		if !jsonOut {
			fmt.Fprintf(cmd.OutOrStdout(), "completed: %v\n", result.Data)
		}
		return nil
	case driver.StatusSuspended:
		if !jsonOut {
			fmt.Fprintf(cmd.OutOrStdout(), "suspended: token=%s\n", result.Token)
		}
		os.Exit(ExitSuspended)
		return nil
	default:
		if !jsonOut {
			fmt.Fprintf(cmd.OutOrStdout(), "failed: %s\n", result.Error)
		}
		os.Exit(ExitExecutionError)
		return nil
	}
}
