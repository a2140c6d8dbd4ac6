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

// Package gitexec is the production ports.GitPort implementation: a thin
// exec wrapper around the system git binary, in the same spirit as
// internal/lifecycle's process spawning wrappers. No git plumbing library
// is used — the core only needs the handful of operations ports.GitPort
// names, and shelling out keeps behavior identical to a human running git.
package gitexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/steroids-dev/steroids/internal/ports"
)

// Client runs git commands against a working directory via os/exec.
type Client struct {
	// Bin overrides the git binary name/path; defaults to "git" on PATH.
	Bin string
}

// New creates a Client using the system git binary.
func New() *Client {
	return &Client{Bin: "git"}
}

func (c *Client) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "git"
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, c.bin(), args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// IsRepo reports whether path is inside a git working tree.
func (c *Client) IsRepo(ctx context.Context, path string) (bool, error) {
	out, _, err := c.run(ctx, path, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return out == "true", nil
}

// HasUncommittedChanges reports whether the working tree has unstaged or
// staged changes.
func (c *Client) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	out, stderr, err := c.run(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w: %s", err, stderr)
	}
	return out != "", nil
}

// IsFileTracked reports whether file is known to git in path's repository.
func (c *Client) IsFileTracked(ctx context.Context, path, file string) (bool, error) {
	_, _, err := c.run(ctx, path, "ls-files", "--error-unmatch", file)
	return err == nil, nil
}

// FileLastCommit returns the sha of the most recent commit touching file.
func (c *Client) FileLastCommit(ctx context.Context, path, file string) (string, error) {
	out, stderr, err := c.run(ctx, path, "log", "-n", "1", "--format=%H", "--", file)
	if err != nil {
		return "", fmt.Errorf("git log: %w: %s", err, stderr)
	}
	return out, nil
}

// FileContentHash returns git's blob hash for file's current contents, i.e.
// the same identity git itself uses for content-addressing.
func (c *Client) FileContentHash(ctx context.Context, path, file string) (string, error) {
	out, stderr, err := c.run(ctx, path, "hash-object", file)
	if err != nil {
		return "", fmt.Errorf("git hash-object: %w: %s", err, stderr)
	}
	return out, nil
}

// CurrentCommitSHA returns HEAD's sha.
func (c *Client) CurrentCommitSHA(ctx context.Context, path string) (string, error) {
	out, stderr, err := c.run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w: %s", err, stderr)
	}
	return out, nil
}

// Push pushes branch to remote. Never pushes main/master implicitly — the
// caller is expected to have already checked out the task's own branch.
func (c *Client) Push(ctx context.Context, path, branch, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, stderr, err := c.run(ctx, path, "push", remote, branch)
	if err != nil {
		return fmt.Errorf("git push %s %s: %w: %s", remote, branch, err, stderr)
	}
	return nil
}

// Merge merges source into target using the configured strategy. The
// fast-forward strategy tries `git merge --ff-only` and, when that fails,
// falls back to a `--no-ff` merge commit; it never rebases. The rebase
// strategy rebases source onto target and then fast-forwards.
func (c *Client) Merge(ctx context.Context, path, source, target string, opts ports.MergeOptions) (*ports.MergeResult, error) {
	if _, stderr, err := c.run(ctx, path, "checkout", target); err != nil {
		return nil, fmt.Errorf("git checkout %s: %w: %s", target, err, stderr)
	}

	switch opts.Strategy {
	case ports.MergeRebase:
		if _, _, err := c.run(ctx, path, "rebase", target, source); err != nil {
			c.run(ctx, path, "rebase", "--abort")
			return &ports.MergeResult{Conflict: true}, nil
		}
		if _, _, err := c.run(ctx, path, "checkout", target); err != nil {
			return nil, fmt.Errorf("git checkout %s: %w", target, err)
		}
		if _, stderr, err := c.run(ctx, path, "merge", "--ff-only", source); err != nil {
			return &ports.MergeResult{Conflict: true}, fmt.Errorf("git merge --ff-only after rebase: %w: %s", err, stderr)
		}
	default:
		_, _, ffErr := c.run(ctx, path, "merge", "--ff-only", source)
		if ffErr != nil {
			if _, _, err := c.run(ctx, path, "merge", "--no-ff", "--no-edit", source); err != nil {
				c.run(ctx, path, "merge", "--abort")
				return &ports.MergeResult{Conflict: true}, nil
			}
		}
	}

	sha, err := c.CurrentCommitSHA(ctx, path)
	if err != nil {
		return nil, err
	}
	return &ports.MergeResult{Merged: true, CommitSHA: sha}, nil
}

var _ ports.GitPort = (*Client)(nil)
