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

// Package wakeup implements `steroids wakeup run`: a single exclusive
// sweep over the Global Registry that reaps stale runners, releases
// expired workstream leases, recovers stuck tasks, and spawns runners for
// enabled projects with actionable work.
package wakeup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/clockutil"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/procctl"
	"github.com/steroids-dev/steroids/internal/recovery"
	wakeupctl "github.com/steroids-dev/steroids/internal/wakeup"
)

// NewCommand creates the `wakeup` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wakeup",
		Short: "Run a single Wakeup sweep over the Global Registry",
	}
	cmd.AddCommand(newRunCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reap stale runners, release expired leases, recover stuck tasks, and spawn runners",
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

			controller := wakeupctl.New(wakeupctl.Config{
				Registry: reg,
				OpenStore: func(projectPath string) (wakeupctl.ProjectStore, error) {
					return shared.OpenProjectStore(projectPath)
				},
				Launcher:       selfLauncher{},
				Process:        procctl.New(),
				Clock:          clockutil.New(),
				StaleThreshold: time.Duration(cfg.Runners.StaleThresholdSeconds) * time.Second,
				DryRun:         dryRun,
				RecoveryConfig: recovery.Config{
					StuckInProgressAge: time.Duration(cfg.Recovery.StuckInProgressAgeMs) * time.Millisecond,
					StuckReviewAge:     time.Duration(cfg.Recovery.StuckReviewAgeMs) * time.Millisecond,
					MaxActionsPerHour:  cfg.Recovery.MaxIncidentsPerHour,
				},
			})

			result, err := controller.Run(context.Background())
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(result)
			}
			spawned := 0
			for _, p := range result.Projects {
				if p.Action == wakeupctl.ActionStarted {
					spawned++
				}
			}
			fmt.Printf("reaped=%d leases_released=%d projects_swept=%d runners_spawned=%d\n",
				len(result.ReapedRunners), len(result.ReleasedLeases), len(result.Projects), spawned)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report actions without spawning, killing, or deleting anything")
	return cmd
}

// selfLauncher spawns `steroids runner start --project <path>` as a
// detached background process using this same binary.
type selfLauncher struct{}

func (selfLauncher) Launch(ctx context.Context, projectPath string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	_, err = procctl.New().SpawnDetached(ctx, self, []string{"runner", "start", "--project", projectPath}, projectPath)
	return err
}
