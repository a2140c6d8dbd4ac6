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

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
)

func withFileBackend(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("STEROIDS_MASTER_KEY", "test-master-key-do-not-use-in-prod")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "secrets:\n  backend: file\n  path: " + filepath.Join(dir, "secrets.enc") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	clishared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { clishared.SetConfigPathForTest("") })
}

func TestNewCommand_WiresSubcommands(t *testing.T) {
	cmd := NewCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["set"])
	require.True(t, names["list"])
}

func TestSetThenList_RoundTripsThroughFileBackend(t *testing.T) {
	dir := t.TempDir()
	withFileBackend(t, dir)

	cmd := NewCommand()
	cmd.SetArgs([]string{"set", "providers/anthropic/api_key", "sk-super-secret"})
	require.NoError(t, cmd.Execute())

	cmd = NewCommand()
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
}
