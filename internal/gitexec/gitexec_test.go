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

package gitexec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steroids-dev/steroids/internal/ports"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
}

func commitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	cmd := exec.Command("git", "add", name)
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	cmd = exec.Command("git", "commit", "-m", "commit "+name)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestIsRepo(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	c := New()
	ctx := context.Background()

	ok, err := c.IsRepo(ctx, dir)
	require.NoError(t, err)
	require.False(t, ok)

	initRepo(t, dir)
	ok, err = c.IsRepo(ctx, dir)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCurrentCommitSHAAndFileTracking(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "hello")

	c := New()
	ctx := context.Background()

	sha, err := c.CurrentCommitSHA(ctx, dir)
	require.NoError(t, err)
	require.Len(t, sha, 40)

	tracked, err := c.IsFileTracked(ctx, dir, "a.txt")
	require.NoError(t, err)
	require.True(t, tracked)

	tracked, err = c.IsFileTracked(ctx, dir, "missing.txt")
	require.NoError(t, err)
	require.False(t, tracked)

	lastCommit, err := c.FileLastCommit(ctx, dir, "a.txt")
	require.NoError(t, err)
	require.Equal(t, sha, lastCommit)
}

func TestHasUncommittedChanges(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "hello")

	c := New()
	ctx := context.Background()

	dirty, err := c.HasUncommittedChanges(ctx, dir)
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed"), 0o644))
	dirty, err = c.HasUncommittedChanges(ctx, dir)
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestMerge_FastForward(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	initRepo(t, dir)
	commitFile(t, dir, "a.txt", "v1")

	cmd := exec.Command("git", "checkout", "-b", "feature")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	commitFile(t, dir, "b.txt", "v1")

	cmd = exec.Command("git", "checkout", "main")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	c := New()
	ctx := context.Background()
	result, err := c.Merge(ctx, dir, "feature", "main", ports.MergeOptions{})
	require.NoError(t, err)
	require.True(t, result.Merged)
	require.False(t, result.Conflict)
	require.NotEmpty(t, result.CommitSHA)
}
