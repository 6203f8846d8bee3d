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

	"github.com/spf13/cobra"

	"github.com/ensemble-edge/conductor/pkg/ensemble"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <ensemble.yaml>",
		Short: "Parse and validate an ensemble definition",
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
			cmd.Printf("%s: valid (%d flow element(s))\n", ens.Name, len(ens.Flow))
			return nil
		},
	}
	return cmd
}
