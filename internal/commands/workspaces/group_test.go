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

package workspaces

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/registry"
	regsqlite "github.com/steroids-dev/steroids/internal/registry/sqlite"
)

func withSQLiteRegistry(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "registry.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "registry:\n  backend: sqlite\n  sqlitePath: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	clishared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { clishared.SetConfigPathForTest("") })
	return dbPath
}

func TestNewCommand_WiresListAndCleanSubcommands(t *testing.T) {
	cmd := NewCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["list"])
	require.True(t, names["clean"])
}

func TestListCommand_ReportsWorkstreamsForSession(t *testing.T) {
	dir := t.TempDir()
	dbPath := withSQLiteRegistry(t, dir)

	reg, err := regsqlite.New(regsqlite.Config{Path: dbPath, WAL: true})
	require.NoError(t, err)
	clonePath := filepath.Join(dir, "ws-1")
	require.NoError(t, os.MkdirAll(clonePath, 0o755))
	require.NoError(t, reg.CreateSession(context.Background(),
		&registry.ParallelSession{ID: "sess-1", ProjectPath: dir, Status: registry.SessionRunning},
		[]*registry.Workstream{{ID: "w1", SessionID: "sess-1", Status: registry.WorkstreamRunning, ClonePath: clonePath}},
	))
	require.NoError(t, reg.Close())

	cmd := NewCommand()
	cmd.SetArgs([]string{"list", "sess-1", "--project", dir})
	require.NoError(t, cmd.Execute())
}

func TestCleanCommand_ReportsSkippedForActiveWorkstream(t *testing.T) {
	dir := t.TempDir()
	dbPath := withSQLiteRegistry(t, dir)

	reg, err := regsqlite.New(regsqlite.Config{Path: dbPath, WAL: true})
	require.NoError(t, err)
	clonePath := filepath.Join(dir, "ws-1")
	require.NoError(t, os.MkdirAll(clonePath, 0o755))
	require.NoError(t, reg.CreateSession(context.Background(),
		&registry.ParallelSession{ID: "sess-1", ProjectPath: dir, Status: registry.SessionRunning},
		[]*registry.Workstream{{ID: "w1", SessionID: "sess-1", Status: registry.WorkstreamRunning, ClonePath: clonePath}},
	))
	require.NoError(t, reg.Close())

	cmd := NewCommand()
	cmd.SetArgs([]string{"clean", "sess-1", "--project", dir})
	require.NoError(t, cmd.Execute())
}
