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

package orchestrator

import (
	"context"
	"log/slog"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/store"
)

// activityKindForStatus maps a terminal task status to the ActivityKind
// recorded for it; tasks that don't cross a terminal boundary have no entry.
var activityKindForStatus = map[store.TaskStatus]registry.ActivityKind{
	store.StatusCompleted: registry.ActivityCompleted,
	store.StatusFailed:    registry.ActivityFailed,
	store.StatusDisputed:  registry.ActivityDisputed,
	store.StatusSkipped:   registry.ActivitySkipped,
	store.StatusPartial:   registry.ActivityPartial,
}

// Activity records terminal task transitions to the global registry's
// activity log and fires the matching hook, best-effort.
type Activity struct {
	registry registry.Backend
	hooks    ports.HookDispatcher
	logger   *slog.Logger
}

// NewActivity creates an Activity recorder.
func NewActivity(backend registry.Backend, hooks ports.HookDispatcher, logger *slog.Logger) *Activity {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activity{registry: backend, hooks: hooks, logger: logger.With(slog.String("component", "activity"))}
}

// RecordTransition records an activity row if to is a terminal status this
// loop tracks; it is a no-op for intermediate transitions (e.g. pending ->
// in_progress).
func (a *Activity) RecordTransition(ctx context.Context, projectPath, runnerID string, task *store.Task, to store.TaskStatus, commitMessage, commitSHA string) {
	kind, tracked := activityKindForStatus[to]
	if !tracked {
		return
	}

	event := &registry.ActivityEvent{
		ProjectPath:   projectPath,
		RunnerID:      runnerID,
		TaskID:        task.ID,
		TaskTitle:     task.Title,
		Kind:          kind,
		CommitMessage: commitMessage,
		CommitSHA:     commitSHA,
	}
	if err := a.registry.AppendActivity(ctx, event); err != nil {
		a.logger.Error("failed to append activity event", slog.Any("error", err), slog.String("task_id", task.ID))
	}

	if a.hooks != nil {
		go a.hooks.Fire(context.Background(), "task."+string(kind), map[string]any{
			"task_id":        task.ID,
			"task_title":     task.Title,
			"project_path":   projectPath,
			"commit_sha":     commitSHA,
			"commit_message": commitMessage,
		})
	}
}
