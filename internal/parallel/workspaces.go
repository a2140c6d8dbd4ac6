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
	"log/slog"

	"github.com/steroids-dev/steroids/internal/registry"
)

// WorkspaceState classifies a single workstream clone for listing/cleanup.
type WorkspaceState string

const (
	// WorkspaceActive belongs to a running workstream in a non-terminal
	// session; it is never a cleanup candidate.
	WorkspaceActive WorkspaceState = "active"
	// WorkspaceCleanable belongs to a workstream whose session has reached
	// a terminal status; it is safe to remove.
	WorkspaceCleanable WorkspaceState = "cleanable"
	// WorkspaceOrphan is a workstream row whose clone directory is not on
	// disk (or cannot be checked because no filesystem port is configured).
	// Clone directories that no workstream row references are not detected.
	WorkspaceOrphan WorkspaceState = "orphan"
)

// Workspace is one row of the `steroids workspaces list` join across
// ParallelSession, Workstream and the filesystem.
type Workspace struct {
	SessionID     string
	WorkstreamID  string
	ProjectPath   string
	Branch        string
	ClonePath     string
	SessionStatus registry.SessionStatus
	State         WorkspaceState
	OnDisk        bool
}

// ListWorkspaces joins every Workstream belonging to sessionID against the
// filesystem to report each clone's classification.
func (m *Manager) ListWorkspaces(ctx context.Context, sessionID string) ([]Workspace, error) {
	session, err := m.cfg.Registry.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	streams, err := m.cfg.Registry.ListWorkstreamsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	workspaces := make([]Workspace, 0, len(streams))
	for _, w := range streams {
		onDisk := m.exists(w.ClonePath)
		workspaces = append(workspaces, Workspace{
			SessionID:     sessionID,
			WorkstreamID:  w.ID,
			ProjectPath:   session.ProjectPath,
			Branch:        w.BranchName,
			ClonePath:     w.ClonePath,
			SessionStatus: session.Status,
			State:         classify(session.Status, w.Status, onDisk),
			OnDisk:        onDisk,
		})
	}
	return workspaces, nil
}

func classify(sessionStatus registry.SessionStatus, wsStatus registry.WorkstreamStatus, onDisk bool) WorkspaceState {
	if !onDisk {
		// No clone on disk but a live row: either never materialized or
		// already cleaned up out of band.
		return WorkspaceOrphan
	}
	switch sessionStatus {
	case registry.SessionPlanning, registry.SessionRunning:
		if wsStatus == registry.WorkstreamRunning || wsStatus == registry.WorkstreamPending {
			return WorkspaceActive
		}
		return WorkspaceCleanable
	default:
		return WorkspaceCleanable
	}
}

func (m *Manager) exists(path string) bool {
	if m.cfg.FS == nil || path == "" {
		return false
	}
	ok, err := m.cfg.FS.Exists(path)
	return err == nil && ok
}

// CleanResult is the (deleted[], skipped[], failures[]) outcome of Clean.
type CleanResult struct {
	Deleted  []string
	Skipped  []string
	Failures map[string]error
}

// Clean removes cleanable (and, with all=true, orphaned) workspace clones
// for sessionID. Active workspaces are always skipped.
func (m *Manager) Clean(ctx context.Context, sessionID string, all bool) (CleanResult, error) {
	workspaces, err := m.ListWorkspaces(ctx, sessionID)
	if err != nil {
		return CleanResult{}, err
	}

	result := CleanResult{Failures: make(map[string]error)}
	for _, w := range workspaces {
		switch w.State {
		case WorkspaceActive:
			result.Skipped = append(result.Skipped, w.WorkstreamID)
			continue
		case WorkspaceOrphan:
			if !all {
				result.Skipped = append(result.Skipped, w.WorkstreamID)
				continue
			}
		}

		if !w.OnDisk {
			result.Deleted = append(result.Deleted, w.WorkstreamID)
			continue
		}
		if m.cfg.FS == nil {
			result.Failures[w.WorkstreamID] = errNoFilesystem
			continue
		}
		if err := m.cfg.FS.RemoveAll(w.ClonePath); err != nil {
			m.logger.Error("failed to remove workspace clone", slog.Any("error", err), slog.String("workstream_id", w.WorkstreamID))
			result.Failures[w.WorkstreamID] = err
			continue
		}
		result.Deleted = append(result.Deleted, w.WorkstreamID)
	}
	return result, nil
}

var errNoFilesystem = &noFilesystemError{}

type noFilesystemError struct{}

func (*noFilesystemError) Error() string { return "parallel: no filesystem port configured" }
