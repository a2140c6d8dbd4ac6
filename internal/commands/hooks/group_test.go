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

package hooks

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
)

func withConfig(t *testing.T, dir, content string) {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	clishared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { clishared.SetConfigPathForTest("") })
}

func TestNewCommand_WiresShowAndTestSubcommands(t *testing.T) {
	cmd := NewCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["show"])
	require.True(t, names["test"])
}

func TestShowCommand_ReportsDisabledByDefault(t *testing.T) {
	dir := t.TempDir()
	withConfig(t, dir, "hooks:\n  enabled: false\n")

	cmd := NewCommand()
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())
}

func TestTestCommand_ErrorsWhenHooksDisabled(t *testing.T) {
	dir := t.TempDir()
	withConfig(t, dir, "hooks:\n  enabled: false\n")

	cmd := NewCommand()
	cmd.SetArgs([]string{"test"})
	require.Error(t, cmd.Execute())
}

func TestTestCommand_FiresEventWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	withConfig(t, dir, "hooks:\n  enabled: true\n  url: "+srv.URL+"\n  timeoutMs: 2000\n")

	cmd := NewCommand()
	cmd.SetArgs([]string{"test", "--event", "custom.event"})
	require.NoError(t, cmd.Execute())
}
