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

/*
Package cli provides the root command and shared configuration for the
steroids CLI.

This package creates the main Cobra command tree and handles global concerns
like version information, persistent flags, and error handling. Individual
commands live in per-resource subpackages under internal/commands.

# Command Tree

The CLI is organized as:

	steroids
	├── runner        Start/status/list a project's runner daemon
	├── wakeup        Run a single wakeup sweep
	├── tasks         List/show/cancel tasks
	├── sections      List/show sections
	├── projects      Register/list/disable projects
	├── workspaces    List active parallel workstreams
	├── disputes      List/resolve disputes
	├── stats         Show queue/runner/credit-incident stats
	├── hooks         Show/test configured hooks
	└── help          Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	// ... add commands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file

# Error Handling

Exit codes follow the taxonomy in pkg/errors:

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid usage (ValidationError)
  - Exit 6: Resource locked (LockedError)
  - Exit 7: Config or health problem (ConfigError)

Use HandleExitError for consistent error handling:

	if err := cmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}
*/
package cli
