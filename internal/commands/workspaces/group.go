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

// Package workspaces implements `steroids workspaces list/clean` over a
// Parallel Session's cloned workstream checkouts.
package workspaces

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/osfs"
	"github.com/steroids-dev/steroids/internal/parallel"
)

// NewCommand creates the `workspaces` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List and clean a Parallel Session's cloned workstream checkouts",
	}
	cmd.PersistentFlags().String("project", "", "Project path (default: current directory)")
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCleanCommand())
	return cmd
}

func newManager(cmd *cobra.Command) (*parallel.Manager, string, error) {
	projectFlag, _ := cmd.Flags().GetString("project")
	path, err := shared.ResolveProjectPath(projectFlag)
	if err != nil {
		return nil, "", err
	}
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, "", err
	}
	reg, err := shared.OpenRegistry(cfg)
	if err != nil {
		return nil, "", err
	}
	mgr := parallel.New(parallel.Config{
		Registry:          reg,
		FS:                osfs.New(),
		WorkspaceRoot:     cfg.Runners.Parallel.WorkspaceRoot,
		ValidationCommand: cfg.Runners.Parallel.ValidationCommand,
		CleanupOnSuccess:  cfg.Runners.Parallel.CleanupOnSuccess,
	})
	return mgr, path, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a Parallel Session's workstream clones and their state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			list, err := mgr.ListWorkspaces(context.Background(), args[0])
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(list)
			}
			for _, w := range list {
				fmt.Printf("%-36s %-10s on_disk=%v %s %s\n", w.WorkstreamID, w.State, w.OnDisk, w.Branch, w.ClonePath)
			}
			return nil
		},
	}
}

func newCleanCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean <session-id>",
		Short: "Remove cleanable (and, with --all, orphaned) workstream clones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			result, err := mgr.Clean(context.Background(), args[0], all)
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(result)
			}
			fmt.Printf("deleted=%d skipped=%d failures=%d\n", len(result.Deleted), len(result.Skipped), len(result.Failures))
			for id, ferr := range result.Failures {
				fmt.Printf("  %s: %v\n", id, ferr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also remove orphaned clones (missing on disk)")
	return cmd
}
