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

package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/registry"
	regmemory "github.com/steroids-dev/steroids/internal/registry/memory"
	"github.com/steroids-dev/steroids/internal/store"
	storetest "github.com/steroids-dev/steroids/internal/store/memory"
	fakes "github.com/steroids-dev/steroids/internal/testing"
)

const project = "/tmp/project"

func newRecoverer(t *testing.T, clock *fakes.Clock) (*Recoverer, store.Backend, *regmemory.Backend) {
	t.Helper()
	st := storetest.New()
	reg := regmemory.New()
	_, err := reg.RegisterProject(context.Background(), project, "project")
	require.NoError(t, err)

	r := New(Config{
		Store:              st,
		Registry:           reg,
		Clock:              clock,
		StuckInProgressAge: time.Hour,
		StuckReviewAge:     time.Hour,
		MaxActionsPerHour:  10,
	})
	return r, st, reg
}

func TestRun_ResetsStuckInProgressTask(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	r, st, _ := newRecoverer(t, clock)
	ctx := context.Background()

	task := &store.Task{ID: "t1", Title: "x", Status: store.StatusPending}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NoError(t, st.Transition(ctx, "t1", store.StatusPending, store.StatusInProgress, "tester", "", ""))

	clock.Sleep(2 * time.Hour)

	actions, err := r.Run(ctx, project)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionStuckInProgress, actions[0].Kind)

	got, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, got.Status)
}

func TestRun_FailsTaskPastRejectionCeiling(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	r, st, _ := newRecoverer(t, clock)
	ctx := context.Background()

	task := &store.Task{ID: "t2", Title: "x", Status: store.StatusInProgress, RejectionCount: store.MaxRejections}
	require.NoError(t, st.CreateTask(ctx, task))

	actions, err := r.Run(ctx, project)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionRejectionCeiling, actions[0].Kind)

	got, err := st.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)
}

func TestRun_ResetsStuckReviewTask(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	r, st, _ := newRecoverer(t, clock)
	ctx := context.Background()

	task := &store.Task{ID: "t3", Title: "x", Status: store.StatusPending}
	require.NoError(t, st.CreateTask(ctx, task))
	require.NoError(t, st.Transition(ctx, "t3", store.StatusPending, store.StatusInProgress, "tester", "", ""))
	require.NoError(t, st.Transition(ctx, "t3", store.StatusInProgress, store.StatusReview, "tester", "", ""))

	clock.Sleep(2 * time.Hour)

	actions, err := r.Run(ctx, project)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionStuckReview, actions[0].Kind)

	got, err := st.GetTask(ctx, "t3")
	require.NoError(t, err)
	require.Equal(t, store.StatusInProgress, got.Status)
}

func TestRun_RateLimitsActionsPerProject(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	st := storetest.New()
	reg := regmemory.New()
	ctx := context.Background()
	_, err := reg.RegisterProject(ctx, project, "project")
	require.NoError(t, err)

	r := New(Config{
		Store:              st,
		Registry:           reg,
		Clock:              clock,
		StuckInProgressAge: time.Hour,
		StuckReviewAge:     time.Hour,
		MaxActionsPerHour:  1,
	})

	for i := 0; i < 3; i++ {
		id := "task" + string(rune('a'+i))
		task := &store.Task{ID: id, Title: "x", Status: store.StatusInProgress, RejectionCount: store.MaxRejections}
		require.NoError(t, st.CreateTask(ctx, task))
	}

	actions, err := r.Run(ctx, project)
	require.NoError(t, err)
	require.Len(t, actions, 1, "rate limit should cap actions at MaxActionsPerHour")
}

func TestRun_ReapsDeadRunnerRows(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	st := storetest.New()
	reg := regmemory.New()
	ctx := context.Background()
	_, err := reg.RegisterProject(ctx, project, "project")
	require.NoError(t, err)

	proc := fakes.NewProcessControl()
	require.NoError(t, reg.UpsertRunner(ctx, &registry.Runner{
		ID:          "dead-runner",
		ProjectPath: project,
		PID:         999,
		StartedAt:   start.Add(-time.Hour),
		HeartbeatAt: start.Add(-time.Hour),
	}))

	r := New(Config{
		Store:              st,
		Registry:           reg,
		Clock:              clock,
		Process:            proc,
		StuckInProgressAge: time.Hour,
		StuckReviewAge:     time.Hour,
		MaxActionsPerHour:  10,
	})

	actions, err := r.Run(ctx, project)
	require.NoError(t, err)
	found := false
	for _, a := range actions {
		if a.Kind == ActionDeadRunner {
			found = true
		}
	}
	require.True(t, found, "expected a dead-runner reap action")

	_, err = reg.GetRunner(ctx, "dead-runner")
	require.Error(t, err)
}
