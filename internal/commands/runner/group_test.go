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

package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
)

func withSQLiteRegistry(t *testing.T, dir string) {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "registry:\n  backend: sqlite\n  sqlitePath: " + filepath.Join(dir, "registry.db") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	clishared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { clishared.SetConfigPathForTest("") })
}

func TestNewCommand_WiresStartStatusListSubcommands(t *testing.T) {
	cmd := NewCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["start"])
	require.True(t, names["status"])
	require.True(t, names["list"])
}

func TestStatusCommand_ReportsInactiveForUnknownProject(t *testing.T) {
	dir := t.TempDir()
	withSQLiteRegistry(t, dir)

	cmd := NewCommand()
	cmd.SetArgs([]string{"status", "--project", dir})
	require.NoError(t, cmd.Execute())
}

func TestListCommand_RunsAgainstEmptyRegistry(t *testing.T) {
	dir := t.TempDir()
	withSQLiteRegistry(t, dir)

	cmd := NewCommand()
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
}
