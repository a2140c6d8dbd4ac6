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

// Package projects implements `steroids projects register/list/enable/disable/unregister`.
package projects

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
)

// NewCommand creates the `projects` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Register and manage projects in the Global Registry",
	}
	cmd.AddCommand(newRegisterCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newEnableCommand())
	cmd.AddCommand(newDisableCommand())
	cmd.AddCommand(newUnregisterCommand())
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register [path]",
		Short: "Register a project directory with the Global Registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			resolved, err := shared.ResolveProjectPath(path)
			if err != nil {
				return err
			}

			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			reg, err := shared.OpenRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx := context.Background()
			project, err := reg.RegisterProject(ctx, resolved, name)
			if err != nil {
				return err
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(project)
			}
			fmt.Printf("registered %s\n", project.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name for the project (defaults to directory name)")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			reg, err := shared.OpenRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			projects, err := reg.ListProjects(context.Background())
			if err != nil {
				return err
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(projects)
			}
			for _, p := range projects {
				status := "enabled"
				if !p.Enabled {
					status = "disabled"
				}
				fmt.Printf("%-60s %-8s pending=%d in_progress=%d review=%d completed=%d last_seen=%s\n",
					p.Path, status, p.Stats.Pending, p.Stats.InProgress, p.Stats.Review, p.Stats.Completed,
					p.LastSeenAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enable [path]",
		Short: "Re-enable a disabled project",
		Args:  cobra.MaximumNArgs(1),
		RunE:  toggle(true),
	}
}

func newDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [path]",
		Short: "Disable a project so Wakeup will not start a runner for it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  toggle(false),
	}
}

func toggle(enable bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		resolved, err := shared.ResolveProjectPath(path)
		if err != nil {
			return err
		}
		cfg, err := shared.LoadConfig()
		if err != nil {
			return err
		}
		reg, err := shared.OpenRegistry(cfg)
		if err != nil {
			return err
		}
		defer reg.Close()

		ctx := context.Background()
		if enable {
			err = reg.EnableProject(ctx, resolved)
		} else {
			err = reg.DisableProject(ctx, resolved)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", map[bool]string{true: "enabled", false: "disabled"}[enable], resolved)
		return nil
	}
}

func newUnregisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister [path]",
		Short: "Remove a project from the Global Registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			resolved, err := shared.ResolveProjectPath(path)
			if err != nil {
				return err
			}
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			reg, err := shared.OpenRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.UnregisterProject(context.Background(), resolved); err != nil {
				return err
			}
			fmt.Printf("unregistered %s\n", resolved)
			return nil
		},
	}
}
