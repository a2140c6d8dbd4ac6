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

// steroidsd is the Wakeup Controller daemon: it sweeps the Global Registry
// on a fixed interval (or a --cron schedule) so operators don't need to
// wire `steroids wakeup run` into cron themselves. When admin.enabled is
// configured it also exposes an HTTP surface for health checks and
// on-demand sweeps.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steroids-dev/steroids/internal/admin"
	"github.com/steroids-dev/steroids/internal/clockutil"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/config"
	"github.com/steroids-dev/steroids/internal/log"
	"github.com/steroids-dev/steroids/internal/procctl"
	"github.com/steroids-dev/steroids/internal/recovery"
	wakeupctl "github.com/steroids-dev/steroids/internal/wakeup"

	"github.com/robfig/cron/v3"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		intervalSeconds = flag.Int("interval", 30, "Seconds between Wakeup sweeps (ignored when --cron is set)")
		cronExpr        = flag.String("cron", "", "Cron expression for Wakeup sweeps (e.g. \"*/5 * * * *\"), replacing the fixed --interval ticker")
		configPath      = flag.String("config", "", "Path to config file")
		showVersion     = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("steroidsd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	reg, err := shared.OpenRegistry(cfg)
	if err != nil {
		logger.Error("failed to open global registry", slog.Any("error", err))
		os.Exit(1)
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
		RecoveryConfig: recovery.Config{
			StuckInProgressAge: time.Duration(cfg.Recovery.StuckInProgressAgeMs) * time.Millisecond,
			StuckReviewAge:     time.Duration(cfg.Recovery.StuckReviewAgeMs) * time.Millisecond,
			MaxActionsPerHour:  cfg.Recovery.MaxIncidentsPerHour,
		},
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Admin.Enabled {
		issuer, err := admin.NewTokenIssuer(cfg.Admin.SigningSecret, time.Duration(cfg.Admin.TokenTTLSeconds)*time.Second)
		if err != nil {
			logger.Error("admin surface misconfigured, continuing without it", slog.Any("error", err))
		} else {
			adminServer := admin.New(admin.Config{
				Issuer:  issuer,
				Sweeper: sweepAdapter{controller},
				Logger:  logger,
			})
			httpServer := &http.Server{Addr: cfg.Admin.Listen, Handler: adminServer.Handler()}
			go func() {
				logger.Info("admin HTTP surface listening", slog.String("addr", cfg.Admin.Listen))
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("admin HTTP server stopped", slog.Any("error", err))
				}
			}()
			defer httpServer.Shutdown(context.Background())
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sweep := func() {
		result, err := controller.Run(ctx)
		if err != nil {
			logger.Error("wakeup sweep failed", slog.Any("error", err))
			return
		}
		spawned := 0
		for _, p := range result.Projects {
			if p.Action == wakeupctl.ActionStarted {
				spawned++
			}
		}
		logger.Info("wakeup sweep complete",
			slog.Int("reaped_runners", len(result.ReapedRunners)),
			slog.Int("leases_released", len(result.ReleasedLeases)),
			slog.Int("projects_swept", len(result.Projects)),
			slog.Int("runners_spawned", spawned))
	}

	sweep()

	if *cronExpr != "" {
		runOnCronSchedule(*cronExpr, logger, sweep, sigCh, cancel)
		return
	}

	interval := time.Duration(*intervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("wakeup daemon started", slog.Duration("interval", interval))

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
			cancel()
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// runOnCronSchedule drives sweep from a robfig/cron schedule instead of a
// fixed-interval ticker, so an operator who already has a cron-literate
// deployment pipeline can express "sweep at 2am and 2pm" directly instead
// of picking an interval that happens to land there. SkipIfStillRunning
// guards against a slow sweep overlapping with its own next firing.
func runOnCronSchedule(expr string, logger *slog.Logger, sweep func(), sigCh chan os.Signal, cancel context.CancelFunc) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(expr, sweep); err != nil {
		logger.Error("invalid --cron expression", slog.String("cron", expr), slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	logger.Info("wakeup daemon started", slog.String("cron", expr))

	sig := <-sigCh
	logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
	cancel()
}

// selfLauncher spawns `steroids runner start --project <path>` as a
// detached background process using the steroids CLI binary on PATH.
type selfLauncher struct{}

func (selfLauncher) Launch(ctx context.Context, projectPath string) error {
	_, err := procctl.New().SpawnDetached(ctx, "steroids", []string{"runner", "start", "--project", projectPath}, projectPath)
	return err
}

// sweepAdapter projects a wakeup.Controller onto admin.Sweeper, the narrow
// shape the admin HTTP surface needs to trigger an on-demand pass.
type sweepAdapter struct {
	controller *wakeupctl.Controller
}

func (s sweepAdapter) Run(ctx context.Context) (admin.SweepResult, error) {
	result, err := s.controller.Run(ctx)
	if err != nil {
		return admin.SweepResult{}, err
	}
	return admin.SweepResult{
		ReapedRunners:  len(result.ReapedRunners),
		ReleasedLeases: len(result.ReleasedLeases),
		ProjectsSwept:  len(result.Projects),
	}, nil
}
