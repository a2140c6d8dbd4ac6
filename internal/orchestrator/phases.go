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
	"time"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/store"
	errs "github.com/steroids-dev/steroids/pkg/errors"
)

// dispatch carries out the action the selector chose for task: transition
// and invoke the coder for a fresh task, invoke the coder without a
// transition to resume one already in progress, or hand a reviewed task to
// the reviewer.
func (l *Loop) dispatch(ctx context.Context, task *store.Task, action ports.TaskAction) error {
	switch action {
	case ports.ActionStart:
		if err := l.sm.Transition(ctx, task.ID, store.StatusPending, store.StatusInProgress, "orchestrator", "selected", ""); err != nil {
			return err
		}
		return l.coderPhase(ctx, task, action)
	case ports.ActionResume:
		return l.coderPhase(ctx, task, action)
	case ports.ActionReview:
		return l.reviewerPhase(ctx, task)
	default:
		return &errs.ValidationError{Field: "action", Message: "unknown selector action"}
	}
}

func (l *Loop) classify(err error) error {
	if ce, ok := l.cfg.Agent.Classify(err); ok {
		return &errs.CreditExhaustionError{Provider: ce.Provider, Model: ce.Model, Role: ce.Role, Message: ce.Message}
	}
	return err
}

func (l *Loop) recordPhase(ctx context.Context, phase, status string, started time.Time) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordPhaseComplete(ctx, l.cfg.ProjectPath, phase, status, time.Since(started))
	}
}

func (l *Loop) coderPhase(ctx context.Context, task *store.Task, action ports.TaskAction) error {
	started := time.Now()
	result, err := l.cfg.Agent.InvokeCoder(ctx, task.ID, l.cfg.ProjectPath, action)
	if err != nil {
		l.recordPhase(ctx, "coder", "error", started)
		return l.classify(err)
	}

	if result.TimedOut {
		l.recordPhase(ctx, "coder", "timeout", started)
		return &errs.AgentTimeoutError{Role: "coder", Duration: time.Duration(result.DurationMs) * time.Millisecond}
	}

	if result.SubmittedForReview {
		l.recordPhase(ctx, "coder", "submitted", started)
		return nil
	}

	l.recordPhase(ctx, "coder", "no_change", started)
	return nil
}

func (l *Loop) reviewerPhase(ctx context.Context, task *store.Task) error {
	started := time.Now()
	result, err := l.cfg.Agent.InvokeReviewer(ctx, task.ID, l.cfg.ProjectPath)
	if err != nil {
		l.recordPhase(ctx, "reviewer", "error", started)
		return l.classify(err)
	}

	if result.TimedOut {
		l.recordPhase(ctx, "reviewer", "timeout", started)
		return &errs.AgentTimeoutError{Role: "reviewer", Duration: time.Duration(result.DurationMs) * time.Millisecond}
	}

	if result.StoreMutated {
		l.recordPhase(ctx, "reviewer", "store_mutated", started)
		updated, gerr := l.cfg.Store.GetTask(ctx, task.ID)
		if gerr != nil {
			return gerr
		}
		if updated.Status == store.StatusCompleted {
			commitSHA := l.pushBranch(ctx, task)
			if err := l.cfg.Store.RecordCommitSHA(ctx, task.ID, "reviewer", commitSHA); err != nil {
				return err
			}
			l.activity.RecordTransition(ctx, l.cfg.ProjectPath, l.cfg.RunnerID, task, updated.Status, "", commitSHA)
			return nil
		}
		l.activity.RecordTransition(ctx, l.cfg.ProjectPath, l.cfg.RunnerID, task, updated.Status, "", "")
		return nil
	}

	status, err := l.applyReviewDecision(ctx, task, result)
	l.recordPhase(ctx, "reviewer", status, started)
	return err
}

// applyReviewDecision is the fallback path applied only when the reviewer
// reported a verdict without writing it to the store itself.
func (l *Loop) applyReviewDecision(ctx context.Context, task *store.Task, result *ports.ReviewerResult) (string, error) {
	switch result.Decision {
	case ports.DecisionApprove:
		return "approved", l.approveAndAdvanceGit(ctx, task)
	case ports.DecisionReject:
		if err := l.sm.Reject(ctx, task.ID, "reviewer", result.Notes); err != nil {
			return "reject_failed", err
		}
		updated, err := l.cfg.Store.GetTask(ctx, task.ID)
		if err != nil {
			return "reject_failed", err
		}
		l.activity.RecordTransition(ctx, l.cfg.ProjectPath, l.cfg.RunnerID, task, updated.Status, "", "")
		return "rejected", nil
	case ports.DecisionDispute:
		if err := l.sm.Dispute(ctx, task, "reviewer", result.Notes); err != nil {
			return "dispute_failed", err
		}
		l.activity.RecordTransition(ctx, l.cfg.ProjectPath, l.cfg.RunnerID, task, store.StatusDisputed, "", "")
		return "disputed", nil
	default:
		return "no_decision", nil
	}
}

// pushBranch pushes the project's branch to origin and returns the
// resulting commit sha, or "" if Git isn't configured or the push fails
// (logged, not fatal: the task still completes without a recorded sha).
func (l *Loop) pushBranch(ctx context.Context, task *store.Task) string {
	if l.cfg.Git == nil {
		return ""
	}
	commitSHA := ""
	if sha, err := l.cfg.Git.CurrentCommitSHA(ctx, l.cfg.ProjectPath); err == nil {
		commitSHA = sha
	}
	if err := l.cfg.Git.Push(ctx, l.cfg.ProjectPath, l.cfg.Branch, "origin"); err != nil {
		l.logger.Warn("git push after approval failed", slog.Any("error", err), slog.String("task_id", task.ID))
	}
	return commitSHA
}

// approveAndAdvanceGit runs on approval: push the branch and record the
// resulting commit sha into the audit row.
func (l *Loop) approveAndAdvanceGit(ctx context.Context, task *store.Task) error {
	commitSHA := l.pushBranch(ctx, task)

	if err := l.sm.Approve(ctx, task.ID, "reviewer", commitSHA); err != nil {
		return err
	}
	l.activity.RecordTransition(ctx, l.cfg.ProjectPath, l.cfg.RunnerID, task, store.StatusCompleted, "", commitSHA)
	return nil
}
