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

package wakeup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/registry"
	regmemory "github.com/steroids-dev/steroids/internal/registry/memory"
	"github.com/steroids-dev/steroids/internal/store"
	storememory "github.com/steroids-dev/steroids/internal/store/memory"
	fakes "github.com/steroids-dev/steroids/internal/testing"
)

type launchRecorder struct {
	launched []string
}

func (l *launchRecorder) Launch(ctx context.Context, projectPath string) error {
	l.launched = append(l.launched, projectPath)
	return nil
}

func TestRun_ReapsStaleRunner(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	reg := regmemory.New()
	ctx := context.Background()

	require.NoError(t, reg.UpsertRunner(ctx, &registry.Runner{
		ID: "stale", ProjectPath: "/p", PID: 42, StartedAt: start, HeartbeatAt: start,
	}))

	proc := fakes.NewProcessControl()
	c := New(Config{
		Registry:       reg,
		Clock:          clock,
		Process:        proc,
		StaleThreshold: time.Minute,
	})

	clock.Sleep(5 * time.Minute)

	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, result.ReapedRunners)

	_, err = reg.GetRunner(ctx, "stale")
	require.Error(t, err)
}

func TestRun_DryRunDoesNotMutate(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	reg := regmemory.New()
	ctx := context.Background()

	require.NoError(t, reg.UpsertRunner(ctx, &registry.Runner{
		ID: "stale", ProjectPath: "/p", PID: 42, StartedAt: start, HeartbeatAt: start,
	}))

	c := New(Config{
		Registry:       reg,
		Clock:          clock,
		StaleThreshold: time.Minute,
		DryRun:         true,
	})
	clock.Sleep(5 * time.Minute)

	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, result.ReapedRunners)

	_, err = reg.GetRunner(ctx, "stale")
	require.NoError(t, err, "dry run must not delete the runner row")
}

func TestRun_SpawnsRunnerForProjectWithWork(t *testing.T) {
	start := time.Now()
	clock := fakes.NewClock(start)
	reg := regmemory.New()
	ctx := context.Background()
	_, err := reg.RegisterProject(ctx, "/p", "p")
	require.NoError(t, err)

	st := storememory.New()
	require.NoError(t, st.CreateTask(ctx, &store.Task{ID: "t1", Title: "x", Status: store.StatusPending}))

	launcher := &launchRecorder{}
	c := New(Config{
		Registry: reg,
		Clock:    clock,
		OpenStore: func(projectPath string) (ProjectStore, error) {
			return st, nil
		},
		Launcher: launcher,
	})

	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.Len(t, result.Projects, 1)
	require.Equal(t, ActionStarted, result.Projects[0].Action)
	require.Equal(t, []string{"/p"}, launcher.launched)
}

func TestRun_SkipsProjectWithNoActionableWork(t *testing.T) {
	reg := regmemory.New()
	ctx := context.Background()
	_, err := reg.RegisterProject(ctx, "/p", "p")
	require.NoError(t, err)

	st := storememory.New()
	launcher := &launchRecorder{}
	c := New(Config{
		Registry: reg,
		OpenStore: func(projectPath string) (ProjectStore, error) {
			return st, nil
		},
		Launcher: launcher,
	})

	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.Len(t, result.Projects, 1)
	require.Equal(t, ActionNone, result.Projects[0].Action)
	require.Empty(t, launcher.launched)
}

func TestRun_SkipsDisabledProjects(t *testing.T) {
	reg := regmemory.New()
	ctx := context.Background()
	_, err := reg.RegisterProject(ctx, "/p", "p")
	require.NoError(t, err)
	require.NoError(t, reg.DisableProject(ctx, "/p"))

	c := New(Config{Registry: reg})

	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, result.Projects)
}

func TestRun_DoesNotStartRunnerWhenActiveRunnerExists(t *testing.T) {
	start := time.Now()
	reg := regmemory.New()
	ctx := context.Background()
	_, err := reg.RegisterProject(ctx, "/p", "p")
	require.NoError(t, err)
	require.NoError(t, reg.UpsertRunner(ctx, &registry.Runner{
		ID: "r1", ProjectPath: "/p", StartedAt: start, HeartbeatAt: start,
	}))

	st := storememory.New()
	require.NoError(t, st.CreateTask(ctx, &store.Task{ID: "t1", Title: "x", Status: store.StatusPending}))

	launcher := &launchRecorder{}
	c := New(Config{
		Registry: reg,
		OpenStore: func(projectPath string) (ProjectStore, error) {
			return st, nil
		},
		Launcher: launcher,
	})

	result, err := c.Run(ctx)
	require.NoError(t, err)
	require.Len(t, result.Projects, 1)
	require.NotEqual(t, ActionStarted, result.Projects[0].Action)
	require.Empty(t, launcher.launched)
}
