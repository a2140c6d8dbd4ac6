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

// Package runner implements `steroids runner start/status/list`: the
// CLI-layer wiring that assembles an orchestrator.Loop and a
// rundaemon.Daemon from configured collaborators and drives them until a
// stop signal arrives.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steroids-dev/steroids/internal/agentcli"
	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/clockutil"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/config"
	"github.com/steroids-dev/steroids/internal/credit"
	"github.com/steroids-dev/steroids/internal/gitexec"
	"github.com/steroids-dev/steroids/internal/hook"
	"github.com/steroids-dev/steroids/internal/log"
	"github.com/steroids-dev/steroids/internal/orchestrator"
	"github.com/steroids-dev/steroids/internal/procctl"
	"github.com/steroids-dev/steroids/internal/rundaemon"
)

// NewCommand creates the `runner` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Run and inspect the per-project Runner Daemon",
	}
	cmd.PersistentFlags().String("project", "", "Project path (default: current directory)")
	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newListCommand())
	return cmd
}

func newStartCommand() *cobra.Command {
	var focusSection, parallelSessionID, sectionPredicate string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Runner Daemon for the current project and block until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectFlag, _ := cmd.Flags().GetString("project")
			path, err := shared.ResolveProjectPath(projectFlag)
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

			st, err := shared.OpenProjectStore(path)
			if err != nil {
				return err
			}
			defer st.Close()

			logger := log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format), AddSource: cfg.Log.AddSource})
			clock := clockutil.New()
			process := procctl.New()

			hooks := hook.New(hook.Config{
				URL:                   cfg.Hooks.URL,
				Timeout:               time.Duration(cfg.Hooks.TimeoutMs) * time.Millisecond,
				EnrichWithAWSIdentity: cfg.Hooks.EnrichWithAWSIdentity,
				Logger:                logger,
			})
			if !cfg.Hooks.Enabled {
				hooks = hook.New(hook.Config{Logger: logger})
			}

			provider := newLiveRoleProvider(cfg.AI)
			if watchPath := resolveWatchPath(clishared.GetConfigPath()); watchPath != "" {
				watcher, err := config.NewWatcher(watchPath, logger, func(newCfg *config.Config) {
					provider.set(newCfg.AI)
				})
				if err != nil {
					logger.Warn("config watcher unavailable, credit-exhaustion pause will not see live edits", "path", watchPath, "error", err)
				} else {
					defer watcher.Close()
				}
			}

			pauser := credit.New(credit.Config{
				Registry:       reg,
				Hooks:          hooks,
				Clock:          clock,
				ProviderConfig: provider,
				Logger:         logger,
			})

			agentCfg := agentcli.FromAIConfig(cfg.AI)
			agentCfg.Secrets = shared.OpenSecretsResolver(cfg)
			agentCfg.Logger = logger
			agent := agentcli.New(agentCfg)
			runnerID := uuid.New().String()

			loop := orchestrator.New(orchestrator.Config{
				ProjectPath:  path,
				RunnerID:     runnerID,
				FocusSection: focusSection,
				Predicate:    sectionPredicate,
				Store:        st,
				Registry:     reg,
				Agent:        agent,
				Git:          gitexec.New(),
				Hooks:        hooks,
				Clock:        clock,
				Credit:       pauser,
				Metrics:      noopMetrics{},
				Logger:       logger,
			})

			daemon := rundaemon.New(rundaemon.Config{
				ProjectPath:       path,
				SectionID:         focusSection,
				ParallelSessionID: parallelSessionID,
				RunnerID:          runnerID,
				Store:             st,
				Registry:          reg,
				Process:           process,
				Clock:             clock,
				Loop:              loop,
				Logger:            logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting runner daemon", "project", path, "runner_id", daemon.RunnerID())
			if err := daemon.Start(ctx, func() bool { return ctx.Err() != nil }); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&focusSection, "section", "", "Restrict this runner to sections matching this glob (e.g. \"auth-*\")")
	cmd.Flags().StringVar(&sectionPredicate, "section-predicate", "", "Restrict this runner to tasks matching this expr-lang boolean expression (task, section)")
	cmd.Flags().StringVar(&parallelSessionID, "parallel-session", "", "Attach this runner to a Parallel Session's workstream lease")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a runner is currently active for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectFlag, _ := cmd.Flags().GetString("project")
			path, err := shared.ResolveProjectPath(projectFlag)
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

			active, err := reg.HasActiveRunnerForProject(context.Background(), path, time.Now())
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]any{"project": path, "active": active})
			}
			fmt.Printf("%s active=%v\n", path, active)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all runners known to the Global Registry",
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

			runners, err := reg.ListRunners(context.Background())
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(runners)
			}
			for _, r := range runners {
				fmt.Printf("%-36s %-10s pid=%-8d project=%s section=%s heartbeat=%s\n",
					r.ID, r.Status, r.PID, r.ProjectPath, r.SectionID, r.HeartbeatAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// resolveWatchPath mirrors config.Load's own path resolution so the watcher
// observes the same file the runner loaded from, falling back to the
// default config location when no --config flag was given.
func resolveWatchPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	defaultPath, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(defaultPath); err != nil {
		return ""
	}
	return defaultPath
}

// liveRoleProvider adapts config.AIConfig to credit.ConfigProvider, kept
// current by a config.Watcher so an operator's edit to ai.<role>.model is
// picked up by the credit-exhaustion pause without a runner restart.
type liveRoleProvider struct {
	mu sync.RWMutex
	ai config.AIConfig
}

func newLiveRoleProvider(ai config.AIConfig) *liveRoleProvider {
	return &liveRoleProvider{ai: ai}
}

func (r *liveRoleProvider) set(ai config.AIConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ai = ai
}

func (r *liveRoleProvider) ProviderModel(role string) (provider, model string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.ai.Role(role)
	if !ok {
		return "", ""
	}
	return rc.Provider, rc.Model
}

// noopMetrics satisfies orchestrator.Metrics; runner start wires it in
// unconditionally, so phase completions are not recorded as metrics.
type noopMetrics struct{}

func (noopMetrics) RecordPhaseComplete(ctx context.Context, project, phase, status string, duration time.Duration) {
}
