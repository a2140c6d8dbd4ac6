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

// Package rundaemon wraps one project's orchestrator.Loop with the Runner
// Daemon lifecycle: registration against the Global Registry, the
// single-runner invariant, a heartbeat goroutine running independently of
// the loop, project-stats sync, and idempotent graceful shutdown.
// Process-level concerns (detached spawn, liveness) build on
// internal/lifecycle's process primitives.
package rundaemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steroids-dev/steroids/internal/lifecycle"
	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/store"
	pkgerrors "github.com/steroids-dev/steroids/pkg/errors"
)

// DefaultHeartbeatInterval is how often the daemon refreshes its Runner
// row.
const DefaultHeartbeatInterval = 15 * time.Second

// IsResourceLocked reports whether err is the pkg/errors.LockedError the
// startup preconditions in canStart produce.
func IsResourceLocked(err error) bool {
	return pkgerrors.As(err, new(*pkgerrors.LockedError))
}

// Loop is the subset of orchestrator.Loop the daemon drives.
type Loop interface {
	Run(ctx context.Context, shouldStop func() bool) error
}

// Config wires a Daemon to its project, store and registry.
type Config struct {
	ProjectPath       string
	SectionID         string
	ParallelSessionID string
	// RunnerID, if set, is used as this daemon's registry identity instead
	// of a freshly generated UUID — set this when the caller's
	// orchestrator.Loop was built with the same RunnerID so activity and
	// audit rows attribute to one consistent runner.
	RunnerID string

	Store    store.Backend
	Registry registry.Backend
	Process  ports.ProcessControl
	Clock    ports.Clock

	Loop              Loop
	HeartbeatInterval time.Duration

	// PIDFilePath overrides the PID file location. Defaults to
	// "<ProjectPath>/.steroids/runner.pid". This is a local, filesystem-level
	// guard alongside the registry's own CAS-based single-runner invariant,
	// letting process-control tooling find a running daemon without a
	// registry round trip.
	PIDFilePath string

	Logger *slog.Logger
}

// Daemon is one project's Runner Daemon process.
type Daemon struct {
	cfg      Config
	logger   *slog.Logger
	runnerID string
	pidFile  *lifecycle.PIDFileManager

	mu             sync.Mutex
	started        bool
	stopping       bool
	pidFileCreated bool
	heartbeatCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Daemon. The runner ID defaults to a fresh UUID unless
// cfg.RunnerID is set.
func New(cfg Config) *Daemon {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runnerID := cfg.RunnerID
	if runnerID == "" {
		runnerID = uuid.New().String()
	}
	pidPath := cfg.PIDFilePath
	if pidPath == "" {
		pidPath = filepath.Join(cfg.ProjectPath, ".steroids", "runner.pid")
	}
	return &Daemon{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "rundaemon"), slog.String("project", cfg.ProjectPath)),
		runnerID: runnerID,
		pidFile:  lifecycle.NewPIDFileManager(pidPath),
	}
}

func (d *Daemon) now() time.Time {
	if d.cfg.Clock != nil {
		return d.cfg.Clock.Now()
	}
	return time.Now()
}

// RunnerID is the identity this daemon registered under.
func (d *Daemon) RunnerID() string { return d.runnerID }

// canStart enforces the startup preconditions: the project must be
// registered and enabled, and have no other active (non-parallel) runner
// with a fresh heartbeat.
func (d *Daemon) canStart(ctx context.Context) error {
	project, err := d.cfg.Registry.GetProject(ctx, d.cfg.ProjectPath)
	if err != nil {
		return fmt.Errorf("rundaemon: load project: %w", err)
	}
	if !project.Enabled {
		return &pkgerrors.ConfigError{Key: "project.enabled", Reason: "project is disabled"}
	}

	if d.cfg.ParallelSessionID != "" {
		// Parallel-session runners are exempt from the single-runner
		// invariant; they are scoped to their own workstream clone.
		return nil
	}

	active, err := d.cfg.Registry.HasActiveRunnerForProject(ctx, d.cfg.ProjectPath, d.now())
	if err != nil {
		return fmt.Errorf("rundaemon: check active runner: %w", err)
	}
	if active {
		return &pkgerrors.LockedError{Resource: d.cfg.ProjectPath, HeldBy: "another runner"}
	}
	return nil
}

// Start registers the Runner row, starts the heartbeat goroutine, then
// blocks running the orchestrator loop until ctx is cancelled, shouldStop
// reports true, or the loop exits on its own (no actionable work left).
// Once the Runner row is registered, Start attempts Shutdown before
// returning, mirroring the daemon's drain-then-shutdown sequencing; an error
// from the start check or the first registration returns without it.
func (d *Daemon) Start(ctx context.Context, shouldStop func() bool) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("rundaemon: already started")
	}
	d.started = true
	d.mu.Unlock()

	if err := d.canStart(ctx); err != nil {
		return err
	}

	now := d.now()
	pid := 0
	if d.cfg.Process != nil {
		pid = d.cfg.Process.SelfPID()
	}
	runner := &registry.Runner{
		ID:                d.runnerID,
		Status:            registry.RunnerIdle,
		PID:               pid,
		ProjectPath:       d.cfg.ProjectPath,
		SectionID:         d.cfg.SectionID,
		ParallelSessionID: d.cfg.ParallelSessionID,
		StartedAt:         now,
		HeartbeatAt:       now,
	}
	if err := d.cfg.Registry.UpsertRunner(ctx, runner); err != nil {
		return fmt.Errorf("rundaemon: register runner: %w", err)
	}
	d.logger.Info("runner registered", slog.String("runner_id", d.runnerID), slog.Int("pid", pid))

	// The registry's CAS invariant is authoritative; the PID file is a
	// local-filesystem convenience for tooling, so a failure here (e.g. a
	// stale file left by a crashed process) is logged, not fatal.
	if err := d.pidFile.Create(pid); err != nil {
		d.logger.Warn("failed to create PID file", slog.Any("error", err))
	} else {
		d.mu.Lock()
		d.pidFileCreated = true
		d.mu.Unlock()
	}

	runner.Status = registry.RunnerRunning
	if err := d.cfg.Registry.UpsertRunner(ctx, runner); err != nil {
		d.logger.Warn("failed to mark runner running", slog.Any("error", err))
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	d.heartbeatCancel = cancel
	d.wg.Add(1)
	go d.heartbeatLoop(hbCtx)

	defer d.Shutdown(context.Background())

	if d.cfg.Loop == nil {
		<-ctx.Done()
		return nil
	}
	return d.cfg.Loop.Run(ctx, func() bool {
		return shouldStop() || d.isStopping()
	})
}

func (d *Daemon) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

// heartbeatLoop refreshes heartbeat_at on its own scheduling unit so a
// blocked agent invocation in the main loop never starves it. Each tick
// also re-checks the single-runner invariant and syncs project stats.
func (d *Daemon) heartbeatLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Daemon) tick(ctx context.Context) {
	now := d.now()
	if err := d.cfg.Registry.UpdateHeartbeat(ctx, d.runnerID, now); err != nil {
		d.logger.Warn("heartbeat update failed", slog.Any("error", err))
		return
	}

	if d.cfg.ParallelSessionID == "" {
		if err := d.recheckSingleRunnerInvariant(ctx, now); err != nil {
			d.logger.Error("single-runner invariant violated, stopping", slog.Any("error", err))
			d.mu.Lock()
			d.stopping = true
			d.mu.Unlock()
			return
		}
	}

	if err := d.syncProjectStats(ctx); err != nil {
		d.logger.Warn("failed to sync project stats", slog.Any("error", err))
	}
}

// recheckSingleRunnerInvariant re-verifies the single-runner invariant:
// if another non-parallel Runner row for this project still has a fresh
// heartbeat and an earlier started_at, this runner must exit.
func (d *Daemon) recheckSingleRunnerInvariant(ctx context.Context, now time.Time) error {
	runners, err := d.cfg.Registry.ListRunners(ctx)
	if err != nil {
		return err
	}
	self, err := d.cfg.Registry.GetRunner(ctx, d.runnerID)
	if err != nil {
		return err
	}
	for _, r := range runners {
		if r.ID == d.runnerID || r.ProjectPath != d.cfg.ProjectPath || r.ParallelSessionID != "" {
			continue
		}
		if !r.IsFresh(now) {
			continue
		}
		if r.StartedAt.Before(self.StartedAt) {
			return fmt.Errorf("runner %s for %s started earlier and is still active", r.ID, d.cfg.ProjectPath)
		}
	}
	return nil
}

func (d *Daemon) syncProjectStats(ctx context.Context) error {
	tasks, err := d.cfg.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	var stats registry.ProjectStats
	for _, t := range tasks {
		switch t.Status {
		case store.StatusPending:
			stats.Pending++
		case store.StatusInProgress:
			stats.InProgress++
		case store.StatusReview:
			stats.Review++
		case store.StatusCompleted:
			stats.Completed++
		}
	}
	return d.cfg.Registry.UpdateProjectStats(ctx, d.cfg.ProjectPath, stats)
}

// Shutdown is idempotent: stop heartbeat, mark stopping, release any held
// workstream lease, delete the runner row.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	// stopping may already be set by tick on an invariant violation, so the
	// cleared heartbeatCancel marks a shutdown already done.
	if !d.started || d.heartbeatCancel == nil {
		d.mu.Unlock()
		return nil
	}
	d.stopping = true
	cancel := d.heartbeatCancel
	d.heartbeatCancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	if r, err := d.cfg.Registry.GetRunner(ctx, d.runnerID); err == nil {
		r.Status = registry.RunnerStopping
		_ = d.cfg.Registry.UpsertRunner(ctx, r)
	}

	d.mu.Lock()
	createdPIDFile := d.pidFileCreated
	d.pidFileCreated = false
	d.mu.Unlock()
	if createdPIDFile {
		if err := d.pidFile.Remove(); err != nil {
			d.logger.Warn("failed to remove PID file", slog.Any("error", err))
		}
	}

	if d.cfg.ParallelSessionID != "" {
		if err := d.releaseOwnLeases(ctx); err != nil {
			d.logger.Warn("failed to release workstream leases on shutdown", slog.Any("error", err))
		}
	}

	if err := d.cfg.Registry.DeleteRunner(ctx, d.runnerID); err != nil {
		d.logger.Error("failed to delete runner row on shutdown", slog.Any("error", err))
		return err
	}
	d.logger.Info("runner shut down", slog.String("runner_id", d.runnerID))

	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

func (d *Daemon) releaseOwnLeases(ctx context.Context) error {
	streams, err := d.cfg.Registry.ListWorkstreamsForSession(ctx, d.cfg.ParallelSessionID)
	if err != nil {
		return err
	}
	for _, w := range streams {
		if w.RunnerID != d.runnerID {
			continue
		}
		if err := d.cfg.Registry.ReleaseWorkstreamLease(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}
