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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ensemble-edge/conductor/internal/log"
	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/driver"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend/memory"
)

// resumeStore is process-local: a suspended frame captured by a separate
// "run" invocation can only be resumed here if both share a persistent
// FrameStore. The CLI uses the in-memory store, so approve/reject and
// resume only see frames captured in the same process; the SQLite
// FrameStore in pkg/ensemble/suspend/sqlite is not wired into the CLI.
var resumeStore = memory.New(time.Minute)

func newResumeCommand() *cobra.Command {
	var memberFiles []string
	var actor, reason string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "resume <approve|reject> <token> <ensemble.yaml>",
		Short: "Approve or reject a suspended frame and resume its ensemble",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, token, ensPath := args[0], args[1], args[2]

			data, err := os.ReadFile(ensPath)
			if err != nil {
				return NewValidationExitError("reading ensemble file", err)
			}
			ens, err := ensemble.ParseEnsemble(data)
			if err != nil {
				return NewValidationExitError(fmt.Sprintf("%s is invalid", ensPath), err)
			}

			frames := suspend.NewManager(resumeStore)

			switch action {
			case "approve":
				if _, err := frames.Approve(cmd.Context(), token, actor, reason); err != nil {
					return NewExecutionExitError("approving frame", err)
				}
			case "reject":
				if _, err := frames.Reject(cmd.Context(), token, actor, reason); err != nil {
					return NewExecutionExitError("rejecting frame", err)
				}
			default:
				return NewValidationExitError(fmt.Sprintf("unknown action %q, want approve or reject", action), nil)
			}

			registry, err := BuildRegistry(memberFiles)
			if err != nil {
				return NewValidationExitError("loading members", err)
			}

			d := driver.New(registry, cache.New(), StandardEvaluators(), frames, log.New(log.DefaultConfig()))

			result, err := d.Resume(cmd.Context(), token, ens)
			if err != nil {
				return NewExecutionExitError("resuming ensemble", err)
			}
			return emitResult(cmd, result, jsonOut)
		},
	}

	cmd.Flags().StringArrayVar(&memberFiles, "member", nil, "path to a member definition YAML file (repeatable)")
	cmd.Flags().StringVar(&actor, "actor", "", "identity of the approver/rejecter")
	cmd.Flags().StringVar(&reason, "reason", "", "approval data (approve) or rejection reason (reject)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	return cmd
}
