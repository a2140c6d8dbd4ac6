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

// Package sections implements `steroids sections list/show`.
package sections

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
)

// NewCommand creates the `sections` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "Inspect a project's sections",
	}
	cmd.PersistentFlags().String("project", "", "Project path (default: current directory)")
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sections in position order",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectFlag, _ := cmd.Flags().GetString("project")
			path, err := shared.ResolveProjectPath(projectFlag)
			if err != nil {
				return err
			}
			st, err := shared.OpenProjectStore(path)
			if err != nil {
				return err
			}
			defer st.Close()

			sections, err := st.ListSections(context.Background())
			if err != nil {
				return err
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(sections)
			}
			for _, s := range sections {
				skipped := ""
				if s.Skipped {
					skipped = " (skipped)"
				}
				fmt.Printf("%-36s pos=%-4d priority=%-4d depends_on=%v%s %s\n", s.ID, s.Position, s.Priority, s.DependsOn, skipped, s.Name)
			}
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <section-id>",
		Short: "Show a single section's detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectFlag, _ := cmd.Flags().GetString("project")
			path, err := shared.ResolveProjectPath(projectFlag)
			if err != nil {
				return err
			}
			st, err := shared.OpenProjectStore(path)
			if err != nil {
				return err
			}
			defer st.Close()

			section, err := st.GetSection(context.Background(), args[0])
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(section)
			}
			fmt.Printf("%s  %s\n", section.ID, section.Name)
			fmt.Printf("position=%d priority=%d skipped=%v depends_on=%v\n", section.Position, section.Priority, section.Skipped, section.DependsOn)
			return nil
		},
	}
}
