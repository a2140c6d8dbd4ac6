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

// Package parallel implements the parallel session subsystem:
// partitioning a project's sections into workstreams, leasing them to
// runners, and auto-merging completed workstreams back into the main
// branch. Workspace listing/cleanup lives in workspaces.go.
package parallel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/store"
)

// DefaultLeaseTTL is the workstream lease duration, refreshed on heartbeat.
const DefaultLeaseTTL = 10 * time.Minute

// Config wires a Manager to its collaborators.
type Config struct {
	Registry registry.Backend
	Git      ports.GitPort
	FS       ports.Filesystem
	Clock    ports.Clock

	WorkspaceRoot     string
	ValidationCommand string
	CleanupOnSuccess  bool
	MainBranch        string
	MergeStrategy     ports.MergeStrategy

	Logger *slog.Logger
}

// Manager creates and drives parallel sessions.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	if cfg.MergeStrategy == "" {
		cfg.MergeStrategy = ports.MergeFastForward
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With(slog.String("component", "parallel"))}
}

func (m *Manager) now() time.Time {
	if m.cfg.Clock != nil {
		return m.cfg.Clock.Now()
	}
	return time.Now()
}

// projectHash derives the deterministic workspace root subdirectory for
// projectPath: <root>/<projectHash>/ws-<workstreamId>.
func projectHash(projectPath string) string {
	sum := sha256.Sum256([]byte(projectPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Plan describes how CreateSession should partition sections into
// workstreams.
type Plan struct {
	ProjectPath string
	Sections    []*store.Section
	// GroupSize caps how many sections share one workstream; 0 means one
	// workstream per section.
	GroupSize int
	// BranchPrefix names each workstream's branch as <prefix>/<shortID>.
	BranchPrefix string
}

// CreateSession partitions plan.Sections into workstream groups, creates
// one Workstream row per group with its own clone directory, persists the
// session as `planning`, materializes the clones, then flips it to
// `running`.
func (m *Manager) CreateSession(ctx context.Context, plan Plan) (*registry.ParallelSession, []*registry.Workstream, error) {
	groups := partition(plan.Sections, plan.GroupSize)
	if len(groups) == 0 {
		return nil, nil, fmt.Errorf("parallel: no sections to partition")
	}

	sessionID := uuid.New().String()
	hash := projectHash(plan.ProjectPath)
	now := m.now()

	session := &registry.ParallelSession{
		ID:          sessionID,
		ProjectPath: plan.ProjectPath,
		Status:      registry.SessionPlanning,
		CreatedAt:   now,
	}

	workstreams := make([]*registry.Workstream, 0, len(groups))
	for _, group := range groups {
		wsID := uuid.New().String()
		ids := make([]string, 0, len(group))
		for _, s := range group {
			ids = append(ids, s.ID)
		}
		clonePath := filepath.Join(m.cfg.WorkspaceRoot, hash, "ws-"+wsID)
		branch := plan.BranchPrefix
		if branch == "" {
			branch = "steroids"
		}
		workstreams = append(workstreams, &registry.Workstream{
			ID:         wsID,
			SessionID:  sessionID,
			BranchName: fmt.Sprintf("%s/%s", branch, wsID[:8]),
			SectionIDs: ids,
			ClonePath:  clonePath,
			Status:     registry.WorkstreamPending,
			CreatedAt:  now,
		})
	}

	if err := m.cfg.Registry.CreateSession(ctx, session, workstreams); err != nil {
		return nil, nil, err
	}

	for _, w := range workstreams {
		if err := m.materializeClone(ctx, plan.ProjectPath, w); err != nil {
			m.logger.Error("failed to materialize workstream clone", slog.Any("error", err), slog.String("workstream_id", w.ID))
		}
	}

	if err := m.cfg.Registry.UpdateSessionStatus(ctx, sessionID, registry.SessionRunning); err != nil {
		return nil, nil, err
	}
	session.Status = registry.SessionRunning
	return session, workstreams, nil
}

// partition splits sections into groups of at most groupSize (0 => 1 per
// group), preserving section order within and across groups so the
// resulting workstreams respect the task board's position/priority ordering.
func partition(sections []*store.Section, groupSize int) [][]*store.Section {
	ordered := make([]*store.Section, len(sections))
	copy(ordered, sections)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].Priority < ordered[j].Priority
	})

	if groupSize <= 0 {
		groupSize = 1
	}
	var groups [][]*store.Section
	for i := 0; i < len(ordered); i += groupSize {
		end := i + groupSize
		if end > len(ordered) {
			end = len(ordered)
		}
		groups = append(groups, ordered[i:end])
	}
	return groups
}

// materializeClone creates the workstream's clone directory and checks out
// a fresh branch from the project's current HEAD.
func (m *Manager) materializeClone(ctx context.Context, projectPath string, w *registry.Workstream) error {
	if m.cfg.FS != nil {
		if err := m.cfg.FS.MkdirAll(w.ClonePath); err != nil {
			return fmt.Errorf("mkdir clone path: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, "git", "clone", projectPath, w.ClonePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %w: %s", err, out)
	}

	branchCmd := exec.CommandContext(ctx, "git", "checkout", "-b", w.BranchName)
	branchCmd.Dir = w.ClonePath
	if out, err := branchCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout -b %s: %w: %s", w.BranchName, err, out)
	}
	return nil
}

// AcquireLease attempts to lease workstreamID within sessionID to runnerID,
// using the configured default TTL when ttl is zero.
func (m *Manager) AcquireLease(ctx context.Context, sessionID, workstreamID, runnerID string, ttl time.Duration) (registry.LeaseResult, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return m.cfg.Registry.AcquireWorkstreamLease(ctx, sessionID, workstreamID, runnerID, ttl, m.now())
}

// CompleteWorkstream marks workstreamID completed with the next monotonic
// completion order for its session, then checks whether it was the last
// running workstream — if so the caller is the merger.
func (m *Manager) CompleteWorkstream(ctx context.Context, sessionID, workstreamID string) (isMerger bool, err error) {
	streams, err := m.cfg.Registry.ListWorkstreamsForSession(ctx, sessionID)
	if err != nil {
		return false, err
	}

	maxOrder := 0
	for _, w := range streams {
		if w.CompletionOrder > maxOrder {
			maxOrder = w.CompletionOrder
		}
	}
	if err := m.cfg.Registry.CompleteWorkstream(ctx, workstreamID, maxOrder+1); err != nil {
		return false, err
	}

	streams, err = m.cfg.Registry.ListWorkstreamsForSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, w := range streams {
		if w.ID != workstreamID && w.Status == registry.WorkstreamRunning {
			return false, nil
		}
	}
	return true, nil
}
