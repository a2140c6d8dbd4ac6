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

package admin

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
)

func TestNewCommand_WiresSubcommands(t *testing.T) {
	cmd := NewCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["mint-token"])
	require.True(t, names["wait-healthy"])
}

func TestMintToken_FailsWhenAdminDisabled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("admin:\n  enabled: false\n"), 0o644))
	clishared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { clishared.SetConfigPathForTest("") })

	cmd := NewCommand()
	cmd.SetArgs([]string{"mint-token"})
	require.Error(t, cmd.Execute())
}

func TestWaitHealthy_SucceedsAgainstHealthyServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cmd := NewCommand()
	cmd.SetArgs([]string{"wait-healthy", "--url", ts.URL, "--timeout", "2s"})
	require.NoError(t, cmd.Execute())
}

func TestWaitHealthy_TimesOutAgainstDeadServer(t *testing.T) {
	cmd := NewCommand()
	cmd.SetArgs([]string{"wait-healthy", "--url", "http://127.0.0.1:1/healthz", "--timeout", "100ms"})
	require.Error(t, cmd.Execute())
}
