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

// Package ports defines the abstraction boundary between the orchestration
// core and everything external to it: agent invocation, git, hooks, the
// system clock, process control, and the filesystem. All core logic is
// written against these interfaces so it can run against in-memory fakes
// in tests (see internal/testing).
package ports

import (
	"context"
	"time"
)

// TaskAction is the action the orchestrator loop took when dispatching a
// selected task: start a new coder invocation, resume an in-progress one,
// or hand the task to the reviewer.
type TaskAction string

const (
	ActionStart  TaskAction = "start"
	ActionResume TaskAction = "resume"
	ActionReview TaskAction = "review"
)

// ReviewDecision is the reviewer's verdict, used as a fallback when the
// store was not mutated directly by the reviewer invocation.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "approve"
	DecisionReject  ReviewDecision = "reject"
	DecisionDispute ReviewDecision = "dispute"
)

// CreditExhaustion classifies an agent failure caused by a provider running
// out of budget, as returned by AgentInvoker.Classify.
type CreditExhaustion struct {
	Provider string
	Model    string
	Role     string
	Message  string
}

// AgentResult carries the common fields returned by a coder or reviewer
// invocation.
type AgentResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
	TimedOut   bool
	Notes      string
}

// CoderResult is the outcome of AgentInvoker.InvokeCoder.
type CoderResult struct {
	AgentResult
	// SubmittedForReview is true when the coder moved the task to review
	// itself (the expected path).
	SubmittedForReview bool
}

// ReviewerResult is the outcome of AgentInvoker.InvokeReviewer.
type ReviewerResult struct {
	AgentResult
	// Decision is set when the reviewer reports a verdict even if it
	// failed to write it to the store itself; the loop applies it as a
	// fallback.
	Decision ReviewDecision
	// StoreMutated is true when the reviewer itself already transitioned
	// the task; the loop then skips the fallback application.
	StoreMutated bool
}

// AgentInvoker is the external collaborator that runs coder/reviewer
// agent processes for a task. Task, projectPath and any task-like
// parameters are passed as opaque-enough shapes via the orchestrator/store
// packages; ports stays free of a store import by taking minimal scalars.
type AgentInvoker interface {
	InvokeCoder(ctx context.Context, taskID, projectPath string, action TaskAction) (*CoderResult, error)
	InvokeReviewer(ctx context.Context, taskID, projectPath string) (*ReviewerResult, error)

	// InvokeCoderBatch and InvokeReviewerBatch support section batch mode.
	InvokeCoderBatch(ctx context.Context, taskIDs []string, projectPath string) ([]*CoderResult, error)
	InvokeReviewerBatch(ctx context.Context, taskIDs []string, projectPath string) ([]*ReviewerResult, error)

	// Classify inspects a failed invocation's error and reports whether it
	// represents credit exhaustion rather than an ordinary failure.
	Classify(err error) (*CreditExhaustion, bool)
}

// MergeStrategy controls how GitPort.Merge combines a workstream branch
// into the target branch.
type MergeStrategy string

const (
	MergeFastForward MergeStrategy = "fast_forward"
	MergeRebase      MergeStrategy = "rebase"
)

// MergeOptions configures a single GitPort.Merge call.
type MergeOptions struct {
	Strategy MergeStrategy
}

// MergeResult is the outcome of a single branch merge.
type MergeResult struct {
	Merged    bool
	Conflict  bool
	CommitSHA string
}

// GitPort abstracts the git operations the core depends on.
type GitPort interface {
	IsRepo(ctx context.Context, path string) (bool, error)
	HasUncommittedChanges(ctx context.Context, path string) (bool, error)
	IsFileTracked(ctx context.Context, path, file string) (bool, error)
	FileLastCommit(ctx context.Context, path, file string) (string, error)
	FileContentHash(ctx context.Context, path, file string) (string, error)
	CurrentCommitSHA(ctx context.Context, path string) (string, error)
	Push(ctx context.Context, path, branch, remote string) error
	Merge(ctx context.Context, path, source, target string, opts MergeOptions) (*MergeResult, error)
}

// HookDispatcher fires fire-and-forget notifications. Failures are logged
// by the dispatcher and never propagate to the caller.
type HookDispatcher interface {
	Fire(ctx context.Context, event string, payload map[string]any)
}

// Clock abstracts wall and monotonic time so tests can control elapsed
// time deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// ProcessControl abstracts process spawning and signaling.
type ProcessControl interface {
	SpawnDetached(ctx context.Context, cmd string, args []string, cwd string) (pid int, err error)
	Kill(pid int, sig int) error
	IsAlive(pid int) bool
	SelfPID() int
}

// Filesystem abstracts the small set of filesystem operations the core
// needs for workspace clone bookkeeping and orphan detection.
type Filesystem interface {
	Exists(path string) (bool, error)
	ReadDir(path string) ([]string, error)
	MkdirAll(path string) error
	RemoveAll(path string) error
	Realpath(path string) (string, error)
}
