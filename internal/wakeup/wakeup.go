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

// Package wakeup implements the periodic controller that reaps stale
// runners, releases expired workstream leases, cleans zombie filesystem
// locks, runs stuck-task recovery, and starts new runners for projects
// with outstanding work. One Run call is one exclusive pass over the
// Global Registry.
package wakeup

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/recovery"
	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/store"
)

// DefaultStaleThreshold is how long a runner may go without a heartbeat
// before being reaped.
const DefaultStaleThreshold = 2 * time.Minute

// ProjectAction is what a single pass decided to do for one project.
type ProjectAction string

const (
	ActionNone        ProjectAction = "none"
	ActionCleaned     ProjectAction = "cleaned"
	ActionStarted     ProjectAction = "started"
	ActionWouldStart  ProjectAction = "would_start"
)

// ProjectResult is one project's outcome from a pass.
type ProjectResult struct {
	ProjectPath string
	Action      ProjectAction
	Recovered   []recovery.Action
	Reason      string
	Err         error
}

// Result is the outcome of a complete wakeup pass.
type Result struct {
	At              time.Time
	ReapedRunners   []string
	ReleasedLeases  []string
	Projects        []ProjectResult
}

// ProjectStore is the subset of store backends Wakeup needs per project;
// Opener resolves a project's store from its path.
type ProjectStore interface {
	store.Backend
}

// Opener opens (or creates) the per-project store for projectPath. It is
// typically a thin wrapper around the store package's sqlite constructor.
type Opener func(projectPath string) (ProjectStore, error)

// RunnerLauncher spawns a detached Runner process for projectPath.
type RunnerLauncher interface {
	Launch(ctx context.Context, projectPath string) error
}

// Metrics is the subset of internal/tracing.MetricsCollector Wakeup needs.
type Metrics interface {
	RecordWakeupSweep(ctx context.Context, duration time.Duration)
}

// Config wires a Controller to its collaborators.
type Config struct {
	Registry registry.Backend
	OpenStore Opener
	Launcher RunnerLauncher
	Process  ports.ProcessControl
	Clock    ports.Clock

	StaleThreshold time.Duration
	// DryRun performs no spawns, kills, or deletions; it only reports what
	// would happen.
	DryRun bool

	RecoveryConfig recovery.Config
	Metrics        Metrics
	Logger         *slog.Logger
}

// Controller runs wakeup passes.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Controller.
func New(cfg Config) *Controller {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, logger: logger.With(slog.String("component", "wakeup"))}
}

func (c *Controller) now() time.Time {
	if c.cfg.Clock != nil {
		return c.cfg.Clock.Now()
	}
	return time.Now()
}

// Run executes one exclusive wakeup pass: reap stale runners, release
// expired leases, then sweep every enabled registered project.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	started := c.now()
	result := &Result{At: started}

	reaped, err := c.reapStaleRunners(ctx)
	if err != nil {
		return nil, err
	}
	result.ReapedRunners = reaped

	released, err := c.releaseExpiredLeases(ctx)
	if err != nil {
		return nil, err
	}
	result.ReleasedLeases = released

	projects, err := c.cfg.Registry.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range projects {
		if !p.Enabled {
			continue
		}
		pr := c.sweepProject(ctx, p.Path)
		result.Projects = append(result.Projects, pr)
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordWakeupSweep(ctx, time.Since(started))
	}
	return result, nil
}

// reapStaleRunners: SIGTERM a stale runner, release
// any workstream leases it holds, and delete its row.
func (c *Controller) reapStaleRunners(ctx context.Context) ([]string, error) {
	runners, err := c.cfg.Registry.ListRunners(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var reaped []string
	for _, r := range runners {
		if now.Sub(r.HeartbeatAt) <= c.cfg.StaleThreshold {
			continue
		}
		c.logger.Warn("reaping stale runner", slog.String("runner_id", r.ID), slog.String("project", r.ProjectPath))
		if c.cfg.DryRun {
			reaped = append(reaped, r.ID)
			continue
		}

		if c.cfg.Process != nil && r.PID > 0 {
			if err := c.cfg.Process.Kill(r.PID, int(syscall.SIGTERM)); err != nil {
				c.logger.Debug("stale runner signal failed (likely already dead)", slog.Any("error", err), slog.Int("pid", r.PID))
			}
		}

		if r.ParallelSessionID != "" {
			if err := c.releaseRunnerLeases(ctx, r.ParallelSessionID, r.ID); err != nil {
				c.logger.Error("failed to release workstream leases for reaped runner", slog.Any("error", err), slog.String("runner_id", r.ID))
			}
		}

		if err := c.cfg.Registry.DeleteRunner(ctx, r.ID); err != nil {
			return reaped, err
		}
		reaped = append(reaped, r.ID)
	}
	return reaped, nil
}

// releaseExpiredLeases sweeps every non-terminal
// parallel session's workstreams.
func (c *Controller) releaseExpiredLeases(ctx context.Context) ([]string, error) {
	// Workstream leases are scoped per session; Wakeup has no "list all
	// sessions" call, so expired leases are discovered via the runner rows
	// currently attached to parallel work, which carry a session id.
	runners, err := c.cfg.Registry.ListRunners(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var released []string
	seen := make(map[string]bool)
	for _, r := range runners {
		if r.ParallelSessionID == "" || seen[r.ParallelSessionID] {
			continue
		}
		seen[r.ParallelSessionID] = true

		streams, err := c.cfg.Registry.ListWorkstreamsForSession(ctx, r.ParallelSessionID)
		if err != nil {
			continue
		}
		for _, w := range streams {
			if w.Status != registry.WorkstreamRunning || w.LeaseExpiresAt.IsZero() || now.Before(w.LeaseExpiresAt) {
				continue
			}
			if c.cfg.DryRun {
				released = append(released, w.ID)
				continue
			}
			if err := c.cfg.Registry.ReleaseWorkstreamLease(ctx, w.ID); err != nil {
				c.logger.Error("failed to release expired workstream lease", slog.Any("error", err), slog.String("workstream_id", w.ID))
				continue
			}
			released = append(released, w.ID)
		}
	}
	return released, nil
}

// releaseRunnerLeases releases every workstream lease a reaped runner held
// within sessionID.
func (c *Controller) releaseRunnerLeases(ctx context.Context, sessionID, runnerID string) error {
	streams, err := c.cfg.Registry.ListWorkstreamsForSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, w := range streams {
		if w.RunnerID != runnerID {
			continue
		}
		if err := c.cfg.Registry.ReleaseWorkstreamLease(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}

// sweepProject runs the full wakeup pass for a single project.
func (c *Controller) sweepProject(ctx context.Context, projectPath string) ProjectResult {
	pr := ProjectResult{ProjectPath: projectPath, Action: ActionNone}

	if c.cfg.OpenStore == nil {
		pr.Err = errNoOpener
		return pr
	}
	st, err := c.cfg.OpenStore(projectPath)
	if err != nil {
		pr.Err = err
		return pr
	}

	tasks, err := st.ListTasks(ctx, store.TaskFilter{Statuses: []store.TaskStatus{
		store.StatusPending, store.StatusInProgress, store.StatusReview,
	}})
	if err != nil {
		pr.Err = err
		return pr
	}
	if len(tasks) == 0 {
		return pr
	}

	if c.projectHasActiveParallelSession(ctx, projectPath) {
		return pr
	}

	rc := c.cfg.RecoveryConfig
	rc.Store = st
	rc.Registry = c.cfg.Registry
	rc.Process = c.cfg.Process
	rc.Clock = c.cfg.Clock
	recoverer := recovery.New(rc)
	actions, err := recoverer.Run(ctx, projectPath)
	if err != nil {
		c.logger.Error("recovery pass failed", slog.Any("error", err), slog.String("project", projectPath))
	}
	pr.Recovered = actions
	if len(actions) > 0 {
		pr.Action = ActionCleaned
	}

	now := c.now()
	active, err := c.cfg.Registry.HasActiveRunnerForProject(ctx, projectPath, now)
	if err != nil {
		pr.Err = err
		return pr
	}
	if active {
		return pr
	}

	if c.cfg.DryRun {
		pr.Action = ActionWouldStart
		return pr
	}

	if c.cfg.Launcher == nil {
		pr.Reason = "no launcher configured"
		return pr
	}
	if err := c.cfg.Launcher.Launch(ctx, projectPath); err != nil {
		pr.Err = err
		return pr
	}
	pr.Action = ActionStarted
	return pr
}

// projectHasActiveParallelSession reports whether projectPath has a
// ParallelSession in a non-terminal status.
func (c *Controller) projectHasActiveParallelSession(ctx context.Context, projectPath string) bool {
	// The registry's SessionStore is keyed by session id, not project path,
	// so sessions are discovered through the runner rows currently attached
	// to parallel work for this project.
	runners, err := c.cfg.Registry.ListRunners(ctx)
	if err != nil {
		return false
	}
	for _, r := range runners {
		if r.ProjectPath != projectPath || r.ParallelSessionID == "" {
			continue
		}
		session, err := c.cfg.Registry.GetSession(ctx, r.ParallelSessionID)
		if err != nil {
			continue
		}
		switch session.Status {
		case registry.SessionPlanning, registry.SessionRunning:
			return true
		}
	}
	return false
}

var errNoOpener = &noOpenerError{}

type noOpenerError struct{}

func (*noOpenerError) Error() string { return "wakeup: no project store opener configured" }
