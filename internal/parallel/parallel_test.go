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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/registry"
	regmemory "github.com/steroids-dev/steroids/internal/registry/memory"
	"github.com/steroids-dev/steroids/internal/store"
)

func TestPartition_GroupsByGroupSizePreservingOrder(t *testing.T) {
	sections := []*store.Section{
		{ID: "c", Position: 2},
		{ID: "a", Position: 0},
		{ID: "b", Position: 1},
	}

	groups := partition(sections, 2)
	require.Len(t, groups, 2)
	require.Equal(t, []string{"a", "b"}, ids(groups[0]))
	require.Equal(t, []string{"c"}, ids(groups[1]))
}

func TestPartition_DefaultsToOnePerGroup(t *testing.T) {
	sections := []*store.Section{{ID: "a"}, {ID: "b"}}
	groups := partition(sections, 0)
	require.Len(t, groups, 2)
}

func ids(sections []*store.Section) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		out = append(out, s.ID)
	}
	return out
}

func TestCreateSession_PersistsWorkstreamsForEachGroup(t *testing.T) {
	reg := regmemory.New()
	m := New(Config{Registry: reg, WorkspaceRoot: t.TempDir()})

	sections := []*store.Section{{ID: "a", Position: 0}, {ID: "b", Position: 1}}
	session, workstreams, err := m.CreateSession(context.Background(), Plan{
		ProjectPath: "/p", Sections: sections, GroupSize: 1,
	})
	require.NoError(t, err)
	require.Len(t, workstreams, 2)
	require.NotEmpty(t, session.ID)
	require.Equal(t, registry.SessionRunning, session.Status)
}

func TestCreateSession_ErrorsOnEmptyPlan(t *testing.T) {
	reg := regmemory.New()
	m := New(Config{Registry: reg, WorkspaceRoot: t.TempDir()})

	_, _, err := m.CreateSession(context.Background(), Plan{ProjectPath: "/p"})
	require.Error(t, err)
}

func TestAcquireLease_DeniesConcurrentHolder(t *testing.T) {
	reg := regmemory.New()
	ctx := context.Background()
	session := &registry.ParallelSession{ID: "s1", ProjectPath: "/p", Status: registry.SessionRunning}
	ws := []*registry.Workstream{{ID: "w1", SessionID: "s1", Status: registry.WorkstreamPending}}
	require.NoError(t, reg.CreateSession(ctx, session, ws))

	m := New(Config{Registry: reg})
	res, err := m.AcquireLease(ctx, "s1", "w1", "runner-a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, registry.LeaseAcquired, res)

	res, err = m.AcquireLease(ctx, "s1", "w1", "runner-b", time.Minute)
	require.NoError(t, err)
	require.Equal(t, registry.LeaseDenied, res)
}

func TestCompleteWorkstream_ReportsMergerOnlyWhenLastRunning(t *testing.T) {
	reg := regmemory.New()
	ctx := context.Background()
	session := &registry.ParallelSession{ID: "s1", ProjectPath: "/p", Status: registry.SessionRunning}
	ws := []*registry.Workstream{
		{ID: "w1", SessionID: "s1", Status: registry.WorkstreamRunning},
		{ID: "w2", SessionID: "s1", Status: registry.WorkstreamRunning},
	}
	require.NoError(t, reg.CreateSession(ctx, session, ws))

	m := New(Config{Registry: reg})

	isMerger, err := m.CompleteWorkstream(ctx, "s1", "w1")
	require.NoError(t, err)
	require.False(t, isMerger, "w2 is still running, w1 must not be the merger")

	isMerger, err = m.CompleteWorkstream(ctx, "s1", "w2")
	require.NoError(t, err)
	require.True(t, isMerger, "last running workstream to complete becomes the merger")
}
