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

package parallel

import (
	"context"
	"log/slog"
	"os/exec"
	"sort"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/registry"
)

// MergeOutcome is the per-workstream result of the auto-merge protocol.
type MergeOutcome string

const (
	MergeOutcomeSucceeded MergeOutcome = "succeeded"
	MergeOutcomeConflict  MergeOutcome = "conflict"
	MergeOutcomeFailed    MergeOutcome = "validation_failed"
)

// WorkstreamMergeResult records one workstream's merge attempt.
type WorkstreamMergeResult struct {
	WorkstreamID string
	Outcome      MergeOutcome
	CommitSHA    string
	Err          error
}

// MergeSummary is the (completedCommits, conflicts, skipped, errors[])
// tuple reported for a whole auto-merge pass.
type MergeSummary struct {
	CompletedCommits int
	Conflicts        int
	Skipped          int
	Errors           []error
	Results          []WorkstreamMergeResult
}

// FinalStatus reports the session status the summary implies: completed
// only if there were no errors and no conflicts.
func (s MergeSummary) FinalStatus() registry.SessionStatus {
	if len(s.Errors) == 0 && s.Conflicts == 0 {
		return registry.SessionCompleted
	}
	return registry.SessionFailed
}

// AutoMerge runs the auto-merge protocol over workstreams, sorted by
// completion order ascending, merging each into the project's main branch.
// A conflict or failed validation is recorded and the merger continues
// with the next workstream rather than aborting.
func (m *Manager) AutoMerge(ctx context.Context, projectPath string, workstreams []*registry.Workstream) MergeSummary {
	ordered := make([]*registry.Workstream, len(workstreams))
	copy(ordered, workstreams)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CompletionOrder < ordered[j].CompletionOrder
	})

	var summary MergeSummary
	for _, w := range ordered {
		if w.Status != registry.WorkstreamCompleted {
			summary.Skipped++
			continue
		}

		res := m.mergeOne(ctx, projectPath, w)
		summary.Results = append(summary.Results, res)

		switch res.Outcome {
		case MergeOutcomeSucceeded:
			summary.CompletedCommits++
			if m.cfg.CleanupOnSuccess && m.cfg.FS != nil {
				if err := m.cfg.FS.RemoveAll(w.ClonePath); err != nil {
					m.logger.Warn("failed to remove workstream clone after merge", slog.Any("error", err), slog.String("workstream_id", w.ID))
				}
			}
		case MergeOutcomeConflict:
			summary.Conflicts++
		case MergeOutcomeFailed:
			summary.Errors = append(summary.Errors, res.Err)
		}
	}
	return summary
}

func (m *Manager) mergeOne(ctx context.Context, projectPath string, w *registry.Workstream) WorkstreamMergeResult {
	result, err := m.cfg.Git.Merge(ctx, projectPath, w.BranchName, m.cfg.MainBranch, ports.MergeOptions{Strategy: m.cfg.MergeStrategy})
	if err != nil {
		return WorkstreamMergeResult{WorkstreamID: w.ID, Outcome: MergeOutcomeFailed, Err: err}
	}
	if result.Conflict || !result.Merged {
		m.logger.Warn("workstream merge conflict", slog.String("workstream_id", w.ID), slog.String("branch", w.BranchName))
		return WorkstreamMergeResult{WorkstreamID: w.ID, Outcome: MergeOutcomeConflict}
	}

	if m.cfg.ValidationCommand == "" {
		return WorkstreamMergeResult{WorkstreamID: w.ID, Outcome: MergeOutcomeSucceeded, CommitSHA: result.CommitSHA}
	}

	if err := m.runValidation(ctx, projectPath); err != nil {
		m.logger.Warn("post-merge validation failed, reverting", slog.Any("error", err), slog.String("workstream_id", w.ID))
		if revertErr := m.revertLastMerge(ctx, projectPath); revertErr != nil {
			m.logger.Error("failed to revert failing merge", slog.Any("error", revertErr), slog.String("workstream_id", w.ID))
		}
		return WorkstreamMergeResult{WorkstreamID: w.ID, Outcome: MergeOutcomeFailed, Err: err}
	}
	return WorkstreamMergeResult{WorkstreamID: w.ID, Outcome: MergeOutcomeSucceeded, CommitSHA: result.CommitSHA}
}

// runValidation executes the configured validation command in projectPath.
func (m *Manager) runValidation(ctx context.Context, projectPath string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", m.cfg.ValidationCommand)
	cmd.Dir = projectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return &validationError{command: m.cfg.ValidationCommand, output: string(out), cause: err}
	}
	return nil
}

// revertLastMerge resets the main branch back to its pre-merge commit.
// This falls outside ports.GitPort's minimal contract (which has no revert
// operation), so it shells out directly the way gitexec itself does.
func (m *Manager) revertLastMerge(ctx context.Context, projectPath string) error {
	cmd := exec.CommandContext(ctx, "git", "reset", "--hard", "ORIG_HEAD")
	cmd.Dir = projectPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return &validationError{command: "git reset --hard ORIG_HEAD", output: string(out), cause: err}
	}
	return nil
}

type validationError struct {
	command string
	output  string
	cause   error
}

func (e *validationError) Error() string {
	return "validation command `" + e.command + "` failed: " + e.cause.Error() + ": " + e.output
}

func (e *validationError) Unwrap() error { return e.cause }
