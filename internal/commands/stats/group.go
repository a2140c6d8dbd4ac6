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

// Package stats implements `steroids stats` — a lipgloss-styled overview
// of queue depth per project, live runners, and open credit incidents.
package stats

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
)

// NewCommand creates the `stats` command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth, live runners, and open credit incidents across registered projects",
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

			ctx := context.Background()
			projects, err := reg.ListProjects(ctx)
			if err != nil {
				return err
			}
			runners, err := reg.ListRunners(ctx)
			if err != nil {
				return err
			}
			incidents, err := reg.ListOpenIncidents(ctx)
			if err != nil {
				return err
			}

			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]any{
					"projects":  projects,
					"runners":   runners,
					"incidents": incidents,
				})
			}

			runnersByProject := make(map[string]int)
			for _, r := range runners {
				runnersByProject[r.ProjectPath]++
			}

			fmt.Println(clishared.Header.Render("Projects"))
			for _, p := range projects {
				status := clishared.RenderOK("enabled")
				if !p.Enabled {
					status = clishared.RenderWarn("disabled")
				}
				fmt.Printf("  %s %s  %s pending=%d in_progress=%d review=%d completed=%d runners=%d\n",
					status, p.Path, clishared.RenderLabel("stats:"), p.Stats.Pending, p.Stats.InProgress,
					p.Stats.Review, p.Stats.Completed, runnersByProject[p.Path])
			}

			fmt.Println()
			fmt.Println(clishared.Header.Render("Open credit incidents"))
			if len(incidents) == 0 {
				fmt.Println("  " + clishared.RenderOK("none"))
			}
			for _, inc := range incidents {
				fmt.Printf("  %s %s/%s role=%s opened=%s\n",
					clishared.RenderWarn(inc.ID), inc.Provider, inc.Model, inc.Role, inc.OpenedAt.Format("2006-01-02T15:04:05"))
			}
			return nil
		},
	}
}
