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

// Package recovery implements the stuck-task recovery heuristics Wakeup
// runs per project: tasks stranded in_progress or review past their age
// threshold, tasks past the rejection ceiling that were never failed, and
// runner rows left behind by a dead process. Every
// heuristic is best-effort and rate-limited so a misbehaving project can't
// flood the audit log or the credit/incident accounting.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/store"
)

// ActionKind names one recovery heuristic's outcome, used for the audit
// note and the metrics label.
type ActionKind string

const (
	ActionStuckInProgress ActionKind = "recovery:stuck_in_progress"
	ActionStuckReview     ActionKind = "recovery:stuck_review"
	ActionRejectionCeiling ActionKind = "recovery:rejection_ceiling"
	ActionDeadRunner      ActionKind = "recovery:dead_runner"
)

// Action records one recovery step taken.
type Action struct {
	Kind   ActionKind
	TaskID string
	Detail string
}

// Metrics is the subset of internal/tracing.MetricsCollector recovery
// needs.
type Metrics interface {
	RecordRecoveryAction(ctx context.Context, project, action string)
}

// Config wires a Recoverer to its collaborators and thresholds.
type Config struct {
	Store    store.Backend
	Registry registry.Backend
	Process  ports.ProcessControl
	Clock    ports.Clock

	StuckInProgressAge time.Duration
	StuckReviewAge     time.Duration
	// MaxActionsPerHour rate-limits recovery actions per project.
	MaxActionsPerHour int

	Metrics Metrics
	Logger  *slog.Logger
}

// Recoverer runs the stuck-task recovery pass for one or more projects,
// tracking a sliding per-project action count so Wakeup never floods a
// project's audit trail.
type Recoverer struct {
	cfg    Config
	logger *slog.Logger

	// actionLog holds recent action timestamps per project for the rate
	// limit; Wakeup invokes recovery from a single exclusive pass so no
	// locking is needed here.
	actionLog map[string][]time.Time
}

// New creates a Recoverer.
func New(cfg Config) *Recoverer {
	if cfg.StuckInProgressAge <= 0 {
		cfg.StuckInProgressAge = 2 * time.Hour
	}
	if cfg.StuckReviewAge <= 0 {
		cfg.StuckReviewAge = 2 * time.Hour
	}
	if cfg.MaxActionsPerHour <= 0 {
		cfg.MaxActionsPerHour = 6
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "recovery")),
		actionLog: make(map[string][]time.Time),
	}
}

func (r *Recoverer) now() time.Time {
	if r.cfg.Clock != nil {
		return r.cfg.Clock.Now()
	}
	return time.Now()
}

// budgetRemaining reports how many more actions projectPath may take this
// hour, pruning entries older than an hour as it goes.
func (r *Recoverer) budgetRemaining(projectPath string, now time.Time) int {
	cutoff := now.Add(-time.Hour)
	kept := r.actionLog[projectPath][:0]
	for _, t := range r.actionLog[projectPath] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.actionLog[projectPath] = kept
	return r.cfg.MaxActionsPerHour - len(kept)
}

func (r *Recoverer) spend(projectPath string, now time.Time) {
	r.actionLog[projectPath] = append(r.actionLog[projectPath], now)
}

// Run executes every heuristic for projectPath once, honoring the rate
// limit, and returns the actions actually taken.
func (r *Recoverer) Run(ctx context.Context, projectPath string) ([]Action, error) {
	now := r.now()
	var actions []Action

	tasks, err := r.cfg.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}

	hasActiveRunner, err := r.cfg.Registry.HasActiveRunnerForProject(ctx, projectPath, now)
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if r.budgetRemaining(projectPath, now) <= 0 {
			r.logger.Warn("recovery rate limit reached, deferring remaining actions", slog.String("project", projectPath))
			break
		}

		switch {
		case t.Status == store.StatusInProgress && t.RejectionCount >= store.MaxRejections:
			if err := r.cfg.Store.Transition(ctx, t.ID, t.Status, store.StatusFailed, "recovery", string(ActionRejectionCeiling), ""); err != nil {
				r.logger.Error("failed to fail task past rejection ceiling", slog.Any("error", err), slog.String("task_id", t.ID))
				continue
			}
			actions = append(actions, Action{Kind: ActionRejectionCeiling, TaskID: t.ID})
			r.record(ctx, projectPath, ActionRejectionCeiling)
			r.spend(projectPath, now)

		case t.Status == store.StatusInProgress && !hasActiveRunner && now.Sub(t.UpdatedAt) > r.cfg.StuckInProgressAge:
			if err := r.cfg.Store.Transition(ctx, t.ID, store.StatusInProgress, store.StatusPending, "recovery", string(ActionStuckInProgress), ""); err != nil {
				r.logger.Error("failed to reset stuck in_progress task", slog.Any("error", err), slog.String("task_id", t.ID))
				continue
			}
			actions = append(actions, Action{Kind: ActionStuckInProgress, TaskID: t.ID})
			r.record(ctx, projectPath, ActionStuckInProgress)
			r.spend(projectPath, now)

		case t.Status == store.StatusReview && now.Sub(t.UpdatedAt) > r.cfg.StuckReviewAge:
			// Privileges recovery over the review bucket's selector priority:
			// a stuck review task becomes in_progress again rather than
			// staying stranded at the front of the queue.
			if err := r.cfg.Store.Transition(ctx, t.ID, store.StatusReview, store.StatusInProgress, "recovery", string(ActionStuckReview), ""); err != nil {
				r.logger.Error("failed to reset stuck review task", slog.Any("error", err), slog.String("task_id", t.ID))
				continue
			}
			actions = append(actions, Action{Kind: ActionStuckReview, TaskID: t.ID})
			r.record(ctx, projectPath, ActionStuckReview)
			r.spend(projectPath, now)
		}
	}

	deadActions, err := r.reapDeadRunnerRows(ctx, projectPath, now)
	if err != nil {
		return actions, err
	}
	actions = append(actions, deadActions...)

	return actions, nil
}

// reapDeadRunnerRows deletes Runner rows for projectPath whose pid is no
// longer alive and whose heartbeat is stale, as defense in depth against
// Wakeup's own reap pass missing one.
func (r *Recoverer) reapDeadRunnerRows(ctx context.Context, projectPath string, now time.Time) ([]Action, error) {
	if r.cfg.Process == nil {
		return nil, nil
	}
	runners, err := r.cfg.Registry.ListRunners(ctx)
	if err != nil {
		return nil, err
	}

	var actions []Action
	for _, run := range runners {
		if run.ProjectPath != projectPath {
			continue
		}
		if run.IsFresh(now) {
			continue
		}
		if run.PID > 0 && r.cfg.Process.IsAlive(run.PID) {
			continue
		}
		if r.budgetRemaining(projectPath, now) <= 0 {
			break
		}
		if err := r.cfg.Registry.DeleteRunner(ctx, run.ID); err != nil {
			r.logger.Error("failed to delete dead runner row", slog.Any("error", err), slog.String("runner_id", run.ID))
			continue
		}
		actions = append(actions, Action{Kind: ActionDeadRunner, TaskID: "", Detail: run.ID})
		r.record(ctx, projectPath, ActionDeadRunner)
		r.spend(projectPath, now)
	}
	return actions, nil
}

func (r *Recoverer) record(ctx context.Context, project string, kind ActionKind) {
	r.logger.Info("recovery action taken", slog.String("project", project), slog.String("action", string(kind)))
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordRecoveryAction(ctx, project, string(kind))
	}
}
