// Copyright 2025 Tom Barlow
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
	"github.com/spf13/cobra"

	"github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/admin"
	"github.com/steroids-dev/steroids/internal/commands/disputes"
	"github.com/steroids-dev/steroids/internal/commands/hooks"
	"github.com/steroids-dev/steroids/internal/commands/projects"
	"github.com/steroids-dev/steroids/internal/commands/runner"
	"github.com/steroids-dev/steroids/internal/commands/sections"
	"github.com/steroids-dev/steroids/internal/commands/secrets"
	"github.com/steroids-dev/steroids/internal/commands/stats"
	"github.com/steroids-dev/steroids/internal/commands/tasks"
	"github.com/steroids-dev/steroids/internal/commands/wakeup"
	"github.com/steroids-dev/steroids/internal/commands/workspaces"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for the steroids CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steroids",
		Short: "steroids - dev-task orchestration control plane",
		Long: `steroids drives a Coder/Reviewer agent loop across a project's task
board: it selects the next task, invokes the configured agent for its
current phase, advances state on review outcomes, and pushes approved
work. A per-project runner daemon does the work; wakeup sweeps stale
runners, expired workstream leases, and stuck tasks.

Run 'steroids tasks list' to see the current board.
Run 'steroids runner start' to bring a project's runner online.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/steroids/config.yaml)")

	cmd.AddCommand(projects.NewCommand())
	cmd.AddCommand(tasks.NewCommand())
	cmd.AddCommand(sections.NewCommand())
	cmd.AddCommand(disputes.NewCommand())
	cmd.AddCommand(runner.NewCommand())
	cmd.AddCommand(wakeup.NewCommand())
	cmd.AddCommand(workspaces.NewCommand())
	cmd.AddCommand(stats.NewCommand())
	cmd.AddCommand(hooks.NewCommand())
	cmd.AddCommand(admin.NewCommand())
	cmd.AddCommand(secrets.NewCommand())

	return cmd
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
