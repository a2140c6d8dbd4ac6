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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/registry"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := New(Config{Path: filepath.Join(dir, "registry.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRegisterProject_CreatesEnabledProject(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	p, err := b.RegisterProject(ctx, "/tmp/proj", "proj")
	require.NoError(t, err)
	require.True(t, p.Enabled)
	require.Equal(t, "proj", p.Name)
}

func TestRegisterProject_ReEnablesDisabledProject(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.RegisterProject(ctx, "/tmp/proj", "proj")
	require.NoError(t, err)
	require.NoError(t, b.DisableProject(ctx, "/tmp/proj"))

	p, err := b.RegisterProject(ctx, "/tmp/proj", "proj")
	require.NoError(t, err)
	require.True(t, p.Enabled)
}

func TestUnregisterProject_ErrorsWhenMissing(t *testing.T) {
	b := newTestBackend(t)
	err := b.UnregisterProject(context.Background(), "/does/not/exist")
	require.Error(t, err)
}

func TestEnableDisableProject_RoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	_, err := b.RegisterProject(ctx, "/tmp/proj", "proj")
	require.NoError(t, err)

	require.NoError(t, b.DisableProject(ctx, "/tmp/proj"))
	p, err := b.GetProject(ctx, "/tmp/proj")
	require.NoError(t, err)
	require.False(t, p.Enabled)

	require.NoError(t, b.EnableProject(ctx, "/tmp/proj"))
	p, err = b.GetProject(ctx, "/tmp/proj")
	require.NoError(t, err)
	require.True(t, p.Enabled)
}

func TestPruneProjects_RemovesOnlyMissingPaths(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	_, err := b.RegisterProject(ctx, "/tmp/keep", "keep")
	require.NoError(t, err)
	_, err = b.RegisterProject(ctx, "/tmp/gone", "gone")
	require.NoError(t, err)

	removed, err := b.PruneProjects(ctx, func(path string) bool { return path == "/tmp/keep" })
	require.NoError(t, err)
	require.Equal(t, []string{"/tmp/gone"}, removed)

	projects, err := b.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "/tmp/keep", projects[0].Path)
}

func TestUpdateProjectStatsAndTouch(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	_, err := b.RegisterProject(ctx, "/tmp/proj", "proj")
	require.NoError(t, err)

	require.NoError(t, b.UpdateProjectStats(ctx, "/tmp/proj", registry.ProjectStats{Pending: 2, InProgress: 1, Review: 1, Completed: 5}))
	p, err := b.GetProject(ctx, "/tmp/proj")
	require.NoError(t, err)
	require.Equal(t, 2, p.Stats.Pending)
	require.Equal(t, 5, p.Stats.Completed)

	require.NoError(t, b.TouchProject(ctx, "/tmp/proj"))
}

func TestUpsertRunner_InsertsThenUpdates(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r := &registry.Runner{ID: "r1", Status: registry.RunnerRunning, PID: 123, ProjectPath: "/tmp/proj", StartedAt: now, HeartbeatAt: now}
	require.NoError(t, b.UpsertRunner(ctx, r))

	r.Status = registry.RunnerStopping
	require.NoError(t, b.UpsertRunner(ctx, r))

	got, err := b.GetRunner(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, registry.RunnerStopping, got.Status)
	require.Equal(t, 123, got.PID)
}

func TestUpdateHeartbeat_ErrorsForUnknownRunner(t *testing.T) {
	b := newTestBackend(t)
	err := b.UpdateHeartbeat(context.Background(), "missing", time.Now())
	require.Error(t, err)
}

func TestDeleteRunner_RemovesRow(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, b.UpsertRunner(ctx, &registry.Runner{ID: "r1", Status: registry.RunnerRunning, StartedAt: now, HeartbeatAt: now}))
	require.NoError(t, b.DeleteRunner(ctx, "r1"))

	runners, err := b.ListRunners(ctx)
	require.NoError(t, err)
	require.Empty(t, runners)
}

func TestHasActiveRunnerForProject_IgnoresStaleHeartbeatsAndParallelRunners(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := &registry.Runner{ID: "stale", Status: registry.RunnerRunning, ProjectPath: "/tmp/proj", StartedAt: now, HeartbeatAt: now.Add(-time.Hour)}
	require.NoError(t, b.UpsertRunner(ctx, stale))

	active, err := b.HasActiveRunnerForProject(ctx, "/tmp/proj", now)
	require.NoError(t, err)
	require.False(t, active)

	parallel := &registry.Runner{ID: "parallel", Status: registry.RunnerRunning, ProjectPath: "/tmp/proj", ParallelSessionID: "sess-1", StartedAt: now, HeartbeatAt: now}
	require.NoError(t, b.UpsertRunner(ctx, parallel))
	active, err = b.HasActiveRunnerForProject(ctx, "/tmp/proj", now)
	require.NoError(t, err)
	require.False(t, active)

	fresh := &registry.Runner{ID: "fresh", Status: registry.RunnerRunning, ProjectPath: "/tmp/proj", StartedAt: now, HeartbeatAt: now}
	require.NoError(t, b.UpsertRunner(ctx, fresh))
	active, err = b.HasActiveRunnerForProject(ctx, "/tmp/proj", now)
	require.NoError(t, err)
	require.True(t, active)
}

func TestCreateSessionAndListWorkstreams(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	session := &registry.ParallelSession{ID: "sess-1", ProjectPath: "/tmp/proj", Status: registry.SessionRunning}
	workstreams := []*registry.Workstream{
		{ID: "w1", SessionID: "sess-1", BranchName: "w1-branch", SectionIDs: []string{"s1", "s2"}, ClonePath: "/tmp/w1", Status: registry.WorkstreamPending},
		{ID: "w2", SessionID: "sess-1", BranchName: "w2-branch", SectionIDs: []string{"s3"}, ClonePath: "/tmp/w2", Status: registry.WorkstreamPending},
	}
	require.NoError(t, b.CreateSession(ctx, session, workstreams))

	got, err := b.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, registry.SessionRunning, got.Status)
	require.Nil(t, got.CompletedAt)

	list, err := b.ListWorkstreamsForSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, []string{"s1", "s2"}, list[0].SectionIDs)
}

func TestUpdateSessionStatus_SetsCompletedAtOnTerminalStatus(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.CreateSession(ctx, &registry.ParallelSession{ID: "sess-1", ProjectPath: "/tmp/proj", Status: registry.SessionRunning}, nil))

	require.NoError(t, b.UpdateSessionStatus(ctx, "sess-1", registry.SessionCompleted))
	got, err := b.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, registry.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestAcquireWorkstreamLease_DeniesWhileHeldThenAllowsAfterExpiry(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.CreateSession(ctx, &registry.ParallelSession{ID: "sess-1", ProjectPath: "/tmp/proj", Status: registry.SessionRunning},
		[]*registry.Workstream{{ID: "w1", SessionID: "sess-1", Status: registry.WorkstreamPending}}))

	now := time.Now().UTC()
	result, err := b.AcquireWorkstreamLease(ctx, "sess-1", "w1", "runner-a", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, registry.LeaseAcquired, result)

	result, err = b.AcquireWorkstreamLease(ctx, "sess-1", "w1", "runner-b", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, registry.LeaseDenied, result)

	later := now.Add(2 * time.Minute)
	result, err = b.AcquireWorkstreamLease(ctx, "sess-1", "w1", "runner-b", time.Minute, later)
	require.NoError(t, err)
	require.Equal(t, registry.LeaseAcquired, result)
}

func TestReleaseWorkstreamLease_ClearsHolder(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.CreateSession(ctx, &registry.ParallelSession{ID: "sess-1", ProjectPath: "/tmp/proj", Status: registry.SessionRunning},
		[]*registry.Workstream{{ID: "w1", SessionID: "sess-1", Status: registry.WorkstreamPending}}))

	now := time.Now().UTC()
	_, err := b.AcquireWorkstreamLease(ctx, "sess-1", "w1", "runner-a", time.Minute, now)
	require.NoError(t, err)
	require.NoError(t, b.ReleaseWorkstreamLease(ctx, "w1"))

	result, err := b.AcquireWorkstreamLease(ctx, "sess-1", "w1", "runner-b", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, registry.LeaseAcquired, result)
}

func TestCompleteWorkstream_RecordsCompletionOrder(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.CreateSession(ctx, &registry.ParallelSession{ID: "sess-1", ProjectPath: "/tmp/proj", Status: registry.SessionRunning},
		[]*registry.Workstream{{ID: "w1", SessionID: "sess-1", Status: registry.WorkstreamRunning}}))

	require.NoError(t, b.CompleteWorkstream(ctx, "w1", 3))

	got, err := b.GetWorkstream(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, registry.WorkstreamCompleted, got.Status)
	require.Equal(t, 3, got.CompletionOrder)
	require.NotNil(t, got.CompletedAt)
}

func TestAppendAndListActivity_FiltersByProjectAndLimit(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AppendActivity(ctx, &registry.ActivityEvent{ProjectPath: "/tmp/a", Kind: registry.ActivityCompleted, TaskTitle: "one"}))
	require.NoError(t, b.AppendActivity(ctx, &registry.ActivityEvent{ProjectPath: "/tmp/a", Kind: registry.ActivityFailed, TaskTitle: "two"}))
	require.NoError(t, b.AppendActivity(ctx, &registry.ActivityEvent{ProjectPath: "/tmp/b", Kind: registry.ActivityCompleted, TaskTitle: "three"}))

	events, err := b.ListActivity(ctx, "/tmp/a", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	limited, err := b.ListActivity(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestRecordCreditIncident_DeduplicatesWhileOpen(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	first, err := b.RecordCreditIncident(ctx, "anthropic", "sonnet", "coder", "exhausted", "runner-1")
	require.NoError(t, err)

	second, err := b.RecordCreditIncident(ctx, "anthropic", "sonnet", "coder", "exhausted again", "runner-2")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	incidents, err := b.ListOpenIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
}

func TestResolveCreditIncident_ClosesIncident(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	inc, err := b.RecordCreditIncident(ctx, "anthropic", "sonnet", "coder", "exhausted", "runner-1")
	require.NoError(t, err)

	require.NoError(t, b.ResolveCreditIncident(ctx, inc.ID, registry.ResolutionConfigChanged))

	open, err := b.ListOpenIncidents(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	got, err := b.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	require.Equal(t, registry.ResolutionConfigChanged, got.Resolution)

	reopened, err := b.RecordCreditIncident(ctx, "anthropic", "sonnet", "coder", "exhausted", "runner-1")
	require.NoError(t, err)
	require.NotEqual(t, inc.ID, reopened.ID)
}
