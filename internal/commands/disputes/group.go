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

// Package disputes implements `steroids disputes list/resolve`.
package disputes

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/store"
)

// NewCommand creates the `disputes` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disputes",
		Short: "List and resolve coder/reviewer disputes",
	}
	cmd.PersistentFlags().String("project", "", "Project path (default: current directory)")
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newResolveCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disputes",
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

			status := store.DisputeResolved
			if openOnly {
				status = store.DisputeOpen
			}
			disputeList, err := st.ListDisputes(context.Background(), status)
			if err != nil {
				return err
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(disputeList)
			}
			for _, d := range disputeList {
				fmt.Printf("%-36s %-8s %-10s task=%s %s\n", d.ID, d.Type, d.Status, d.TaskID, d.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&openOnly, "open", true, "List only open disputes")
	return cmd
}

func newResolveCommand() *cobra.Command {
	var resolution, notes, resolvedBy string
	cmd := &cobra.Command{
		Use:   "resolve <dispute-id>",
		Short: "Resolve an open dispute",
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

			if err := st.ResolveDispute(context.Background(), args[0], resolution, notes, resolvedBy); err != nil {
				return err
			}
			fmt.Printf("resolved %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "Resolution outcome (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "Resolution notes")
	cmd.Flags().StringVar(&resolvedBy, "by", "cli", "Actor resolving the dispute")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}
