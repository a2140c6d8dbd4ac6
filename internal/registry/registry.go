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

// Package registry defines the global registry: projects, runners, parallel
// sessions, workstreams, activity events and credit incidents. Exactly one
// registry is shared across all projects on a host (sqlite) or across a
// fleet of runners (postgres). Interface segregation mirrors the project
// store package so new backends implement only what they need.
package registry

import (
	"context"
	"io"
	"time"
)

// RunnerStatus is a Runner's position in its small lifecycle.
type RunnerStatus string

const (
	RunnerIdle     RunnerStatus = "idle"
	RunnerRunning  RunnerStatus = "running"
	RunnerStopping RunnerStatus = "stopping"
)

// HeartbeatFreshness is the default window after which a Runner's heartbeat
// is considered stale.
const HeartbeatFreshness = 5 * time.Minute

// ProjectStats are the per-status task counts synced by a Runner's heartbeat
// tick.
type ProjectStats struct {
	Pending    int
	InProgress int
	Review     int
	Completed  int
}

// Project is a registered working directory.
type Project struct {
	Path         string
	Name         string
	Enabled      bool
	RegisteredAt time.Time
	LastSeenAt   time.Time
	Stats        ProjectStats
}

// Runner is a live or recently-live orchestrator loop process.
type Runner struct {
	ID                string
	Status            RunnerStatus
	PID               int
	ProjectPath       string
	SectionID         string
	ParallelSessionID string
	CurrentTaskID     string
	StartedAt         time.Time
	HeartbeatAt       time.Time
}

// IsFresh reports whether the runner's heartbeat is within the freshness
// window as of now.
func (r *Runner) IsFresh(now time.Time) bool {
	return now.Sub(r.HeartbeatAt) <= HeartbeatFreshness
}

// SessionStatus is a ParallelSession's lifecycle state.
type SessionStatus string

const (
	SessionPlanning SessionStatus = "planning"
	SessionRunning  SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed   SessionStatus = "failed"
	SessionAborted  SessionStatus = "aborted"
)

// ParallelSession groups a set of workstreams fanned out from one project.
type ParallelSession struct {
	ID          string
	ProjectPath string
	Status      SessionStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// WorkstreamStatus is a Workstream's lifecycle state.
type WorkstreamStatus string

const (
	WorkstreamPending   WorkstreamStatus = "pending"
	WorkstreamRunning   WorkstreamStatus = "running"
	WorkstreamCompleted WorkstreamStatus = "completed"
	WorkstreamFailed    WorkstreamStatus = "failed"
	WorkstreamAborted   WorkstreamStatus = "aborted"
)

// Workstream is one partition of a parallel session bound to a branch and a
// clone directory.
type Workstream struct {
	ID              string
	SessionID       string
	BranchName      string
	SectionIDs      []string
	ClonePath       string
	Status          WorkstreamStatus
	RunnerID        string
	LeaseExpiresAt  time.Time
	CompletionOrder int
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// LeaseHeld reports whether the workstream's lease is non-expired as of now.
func (w *Workstream) LeaseHeld(now time.Time) bool {
	return w.RunnerID != "" && now.Before(w.LeaseExpiresAt)
}

// ActivityKind classifies an ActivityEvent.
type ActivityKind string

const (
	ActivityCompleted ActivityKind = "completed"
	ActivityFailed    ActivityKind = "failed"
	ActivityDisputed  ActivityKind = "disputed"
	ActivitySkipped   ActivityKind = "skipped"
	ActivityPartial   ActivityKind = "partial"
)

// ActivityEvent is an append-only record of a task boundary crossing.
type ActivityEvent struct {
	ID            string
	ProjectPath   string
	RunnerID      string
	TaskID        string
	TaskTitle     string
	SectionName   string
	Kind          ActivityKind
	CommitMessage string
	CommitSHA     string
	At            time.Time
}

// CreditResolution is how a CreditIncident was closed.
type CreditResolution string

const (
	ResolutionConfigChanged CreditResolution = "config_changed"
	ResolutionDismissed     CreditResolution = "dismissed"
)

// CreditIncident records a provider credit-exhaustion episode.
type CreditIncident struct {
	ID         string
	Provider   string
	Model      string
	Role       string
	Message    string
	RunnerID   string
	OpenedAt   time.Time
	ResolvedAt *time.Time
	Resolution CreditResolution
}

// LeaseResult is the outcome of acquireWorkstreamLease.
type LeaseResult string

const (
	LeaseAcquired LeaseResult = "ok"
	LeaseDenied   LeaseResult = "denied"
)

// ProjectStore manages Project rows.
type ProjectStore interface {
	RegisterProject(ctx context.Context, path, name string) (*Project, error)
	UnregisterProject(ctx context.Context, path string) error
	EnableProject(ctx context.Context, path string) error
	DisableProject(ctx context.Context, path string) error
	// PruneProjects deletes any project whose directory or store file is
	// missing per exists, returning the paths removed.
	PruneProjects(ctx context.Context, exists func(path string) bool) ([]string, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	GetProject(ctx context.Context, path string) (*Project, error)
	UpdateProjectStats(ctx context.Context, path string, stats ProjectStats) error
	TouchProject(ctx context.Context, path string) error
}

// RunnerStore manages Runner rows.
type RunnerStore interface {
	UpsertRunner(ctx context.Context, r *Runner) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
	DeleteRunner(ctx context.Context, id string) error
	ListRunners(ctx context.Context) ([]*Runner, error)
	GetRunner(ctx context.Context, id string) (*Runner, error)
	// HasActiveRunnerForProject reports whether a non-parallel Runner with a
	// fresh heartbeat already owns projectPath.
	HasActiveRunnerForProject(ctx context.Context, projectPath string, now time.Time) (bool, error)
}

// SessionStore manages ParallelSession and Workstream rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s *ParallelSession, workstreams []*Workstream) error
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	GetSession(ctx context.Context, id string) (*ParallelSession, error)
	ListWorkstreamsForSession(ctx context.Context, sessionID string) ([]*Workstream, error)
	// AcquireWorkstreamLease is a conditional update: it succeeds only if the
	// workstream is unheld or its lease has expired.
	AcquireWorkstreamLease(ctx context.Context, sessionID, workstreamID, runnerID string, ttl time.Duration, now time.Time) (LeaseResult, error)
	ReleaseWorkstreamLease(ctx context.Context, workstreamID string) error
	CompleteWorkstream(ctx context.Context, workstreamID string, completionOrder int) error
	GetWorkstream(ctx context.Context, id string) (*Workstream, error)
}

// ActivityStore is the append-only activity log.
type ActivityStore interface {
	AppendActivity(ctx context.Context, e *ActivityEvent) error
	ListActivity(ctx context.Context, projectPath string, limit int) ([]*ActivityEvent, error)
}

// IncidentStore manages credit-exhaustion incidents.
type IncidentStore interface {
	// RecordCreditIncident is deduplicated on (provider, model, role) while a
	// previous incident on that triple is unresolved; the existing open
	// incident is returned unchanged in that case.
	RecordCreditIncident(ctx context.Context, provider, model, role, message, runnerID string) (*CreditIncident, error)
	ResolveCreditIncident(ctx context.Context, id string, resolution CreditResolution) error
	ListOpenIncidents(ctx context.Context) ([]*CreditIncident, error)
	GetIncident(ctx context.Context, id string) (*CreditIncident, error)
}

// Backend composes every segregated interface into the full registry
// contract used by the daemon, wakeup and parallel packages.
type Backend interface {
	ProjectStore
	RunnerStore
	SessionStore
	ActivityStore
	IncidentStore
	io.Closer
}
