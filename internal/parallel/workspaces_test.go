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

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/registry"
	regmemory "github.com/steroids-dev/steroids/internal/registry/memory"
	fakes "github.com/steroids-dev/steroids/internal/testing"
)

func seedSession(t *testing.T, reg *regmemory.Backend, status registry.SessionStatus, ws []*registry.Workstream) {
	t.Helper()
	session := &registry.ParallelSession{ID: "s1", ProjectPath: "/p", Status: status}
	require.NoError(t, reg.CreateSession(context.Background(), session, ws))
}

func TestListWorkspaces_ClassifiesActiveCleanableAndOrphan(t *testing.T) {
	reg := regmemory.New()
	fs := fakes.NewFilesystem()
	require.NoError(t, fs.MkdirAll("/clones/w1"))
	require.NoError(t, fs.MkdirAll("/clones/w2"))

	seedSession(t, reg, registry.SessionRunning, []*registry.Workstream{
		{ID: "w1", SessionID: "s1", Status: registry.WorkstreamRunning, ClonePath: "/clones/w1"},
		{ID: "w2", SessionID: "s1", Status: registry.WorkstreamCompleted, ClonePath: "/clones/w2"},
		{ID: "w3", SessionID: "s1", Status: registry.WorkstreamCompleted, ClonePath: "/clones/w3"},
	})

	m := New(Config{Registry: reg, FS: fs})
	workspaces, err := m.ListWorkspaces(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, workspaces, 3)

	byID := map[string]Workspace{}
	for _, w := range workspaces {
		byID[w.WorkstreamID] = w
	}
	require.Equal(t, WorkspaceActive, byID["w1"].State)
	require.Equal(t, WorkspaceCleanable, byID["w2"].State)
	require.Equal(t, WorkspaceOrphan, byID["w3"].State, "w3 has no clone on disk")
}

func TestClean_SkipsActiveDeletesCleanable(t *testing.T) {
	reg := regmemory.New()
	fs := fakes.NewFilesystem()
	require.NoError(t, fs.MkdirAll("/clones/w1"))
	require.NoError(t, fs.MkdirAll("/clones/w2"))

	seedSession(t, reg, registry.SessionRunning, []*registry.Workstream{
		{ID: "w1", SessionID: "s1", Status: registry.WorkstreamRunning, ClonePath: "/clones/w1"},
		{ID: "w2", SessionID: "s1", Status: registry.WorkstreamCompleted, ClonePath: "/clones/w2"},
	})

	m := New(Config{Registry: reg, FS: fs})
	result, err := m.Clean(context.Background(), "s1", false)
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, result.Skipped)
	require.Equal(t, []string{"w2"}, result.Deleted)

	ok, err := fs.Exists("/clones/w2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClean_OrphansOnlyDeletedWithAll(t *testing.T) {
	reg := regmemory.New()
	fs := fakes.NewFilesystem()

	seedSession(t, reg, registry.SessionCompleted, []*registry.Workstream{
		{ID: "w1", SessionID: "s1", Status: registry.WorkstreamCompleted, ClonePath: "/clones/missing"},
	})

	m := New(Config{Registry: reg, FS: fs})

	result, err := m.Clean(context.Background(), "s1", false)
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, result.Skipped)

	result, err = m.Clean(context.Background(), "s1", true)
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, result.Deleted)
}

func TestClean_TreatsMissingFilesystemPortAsOrphan(t *testing.T) {
	reg := regmemory.New()
	seedSession(t, reg, registry.SessionCompleted, []*registry.Workstream{
		{ID: "w1", SessionID: "s1", Status: registry.WorkstreamCompleted, ClonePath: "/clones/w1"},
	})

	m := New(Config{Registry: reg})
	result, err := m.Clean(context.Background(), "s1", false)
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, result.Skipped, "no FS configured means onDisk is always false, classifying every row as orphan")

	result, err = m.Clean(context.Background(), "s1", true)
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, result.Deleted, "an orphan with all=true and no on-disk clone is deleted as a no-op")
}
