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

// Package tasks implements `steroids tasks list/show/cancel`, including
// optional gojq-powered post-processing of list output.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/jq"
	"github.com/steroids-dev/steroids/internal/store"
	pkgerrors "github.com/steroids-dev/steroids/pkg/errors"
)

// NewCommand creates the `tasks` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage a project's tasks",
	}
	cmd.PersistentFlags().String("project", "", "Project path (default: current directory)")
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newCancelCommand())
	return cmd
}

func openStore(cmd *cobra.Command) (store.Backend, string, error) {
	projectFlag, _ := cmd.Flags().GetString("project")
	path, err := shared.ResolveProjectPath(projectFlag)
	if err != nil {
		return nil, "", err
	}
	st, err := shared.OpenProjectStore(path)
	if err != nil {
		return nil, "", err
	}
	return st, path, nil
}

func newListCommand() *cobra.Command {
	var statusFlag, sectionFlag, searchFlag, jqFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status/section/search",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			filter := store.TaskFilter{SectionID: sectionFlag, Search: searchFlag}
			if statusFlag != "" {
				filter.Statuses = []store.TaskStatus{store.TaskStatus(statusFlag)}
			}
			taskList, err := st.ListTasks(context.Background(), filter)
			if err != nil {
				return err
			}

			if jqFilter != "" {
				out, err := runJQ(jqFilter, taskList)
				if err != nil {
					return &pkgerrors.ValidationError{Field: "jq", Message: err.Error()}
				}
				encoded, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(taskList)
			}
			for _, t := range taskList {
				fmt.Printf("%-36s %-12s %-20s rejections=%d %s\n", t.ID, t.Status, t.SectionID, t.RejectionCount, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status")
	cmd.Flags().StringVar(&sectionFlag, "section", "", "Filter by section id")
	cmd.Flags().StringVar(&searchFlag, "search", "", "Filter by title substring")
	cmd.Flags().StringVar(&jqFilter, "jq", "", "Post-process the result with a gojq filter")
	return cmd
}

// runJQ applies a gojq filter to v, round-tripping through JSON first so
// gojq sees plain maps/slices rather than typed structs.
func runJQ(filter string, v any) (any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, err
	}
	return jq.NewExecutor(0, 0).Execute(context.Background(), filter, generic)
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task's full detail including audit trail and invocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			task, err := st.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			audit, err := st.ListAudit(ctx, args[0])
			if err != nil {
				return err
			}
			invocations, err := st.ListInvocations(ctx, args[0])
			if err != nil {
				return err
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]any{
					"task":        task,
					"audit":       audit,
					"invocations": invocations,
				})
			}

			fmt.Printf("%s  %s  %s\n", task.ID, task.Status, task.Title)
			fmt.Printf("section=%s rejections=%d\n", task.SectionID, task.RejectionCount)
			fmt.Println("audit:")
			for _, a := range audit {
				fmt.Printf("  %s %s -> %s by %s: %s\n", a.CreatedAt.Format("2006-01-02T15:04:05"), a.FromStatus, a.ToStatus, a.Actor, a.Notes)
			}
			fmt.Println("invocations:")
			for _, inv := range invocations {
				fmt.Printf("  %s %s/%s success=%v timed_out=%v duration_ms=%d\n", inv.Role, inv.Provider, inv.Model, inv.Success, inv.TimedOut, inv.DurationMs)
			}
			return nil
		},
	}
}

func newCancelCommand() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Force a task to failed, bypassing the rejection ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			task, err := st.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			if err := st.Transition(ctx, task.ID, task.Status, store.StatusFailed, "cli", notes, ""); err != nil {
				return err
			}
			fmt.Printf("cancelled %s\n", task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "cancelled via CLI", "Audit note for the forced transition")
	return cmd
}
