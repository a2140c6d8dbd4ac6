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

package procctl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelfPID_MatchesOSGetpid(t *testing.T) {
	c := New()
	require.Equal(t, os.Getpid(), c.SelfPID())
}

func TestIsAlive_TrueForSelf(t *testing.T) {
	c := New()
	require.True(t, c.IsAlive(os.Getpid()))
}

func TestIsAlive_FalseForImplausiblePID(t *testing.T) {
	c := New()
	require.False(t, c.IsAlive(1<<30))
}

func TestSpawnDetached_WritesLogUnderDotSteroids(t *testing.T) {
	c := New()
	cwd := t.TempDir()

	pid, err := c.SpawnDetached(context.Background(), "true", nil, cwd)
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	_, err = os.Stat(filepath.Join(cwd, ".steroids", "runner.log"))
	require.NoError(t, err)
}
