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

import "github.com/spf13/cobra"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records build-time version metadata, set from main via
// ldflags.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// NewRootCommand builds the root "conductor" command and wires every
// subcommand onto it.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor — ensemble workflow orchestration",
		Long: `Conductor runs ensembles: declarative YAML workflows of reusable
members connected by a linear or graph-shaped flow, with content-addressed
caching, scoring-gated retries, and human-in-the-loop suspend/resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newResumeCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("conductor %s (commit %s, built %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
