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

// Package memory provides an in-memory store.Backend used by tests and by
// the selector/orchestrator package's table-driven suites.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steroids-dev/steroids/internal/store"
)

var _ store.Backend = (*Backend)(nil)

// Backend is an in-memory store backend, one instance per project.
type Backend struct {
	mu          sync.RWMutex
	tasks       map[string]*store.Task
	sections    map[string]*store.Section
	audit       map[string][]*store.TaskAudit
	invocations map[string][]*store.Invocation
	disputes    map[string]*store.Dispute
	seq         int64
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		tasks:       make(map[string]*store.Task),
		sections:    make(map[string]*store.Section),
		audit:       make(map[string][]*store.TaskAudit),
		invocations: make(map[string][]*store.Invocation),
		disputes:    make(map[string]*store.Dispute),
	}
}

func (b *Backend) Close() error { return nil }

func (b *Backend) GetTask(ctx context.Context, id string) (*store.Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	clone := *t
	return &clone, nil
}

func (b *Backend) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*store.Task
	for _, t := range b.tasks {
		if filter.SectionID != "" && t.SectionID != filter.SectionID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(filter.Search)) {
			continue
		}
		clone := *t
		out = append(out, &clone)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func containsStatus(statuses []store.TaskStatus, s store.TaskStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (b *Backend) ListSections(ctx context.Context) ([]*store.Section, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*store.Section, 0, len(b.sections))
	for _, s := range b.sections {
		clone := *s
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (b *Backend) GetSection(ctx context.Context, id string) (*store.Section, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.sections[id]
	if !ok {
		return nil, fmt.Errorf("section not found: %s", id)
	}
	clone := *s
	return &clone, nil
}

func (b *Backend) UpsertSection(ctx context.Context, section *store.Section) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	clone := *section
	b.sections[section.ID] = &clone
	return nil
}

func (b *Backend) CreateTask(ctx context.Context, task *store.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tasks[task.ID]; exists {
		return fmt.Errorf("task already exists: %s", task.ID)
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	clone := *task
	b.tasks[task.ID] = &clone
	return nil
}

// Transition performs the CAS status update plus audit append. Callers
// outside store (e.g. the orchestrator) are expected to have already
// validated the transition is legal against the fixed task state machine;
// Transition itself only guards on the expected current status.
func (b *Backend) Transition(ctx context.Context, taskID string, from, to store.TaskStatus, actor, notes, commitSHA string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if t.Status != from {
		return fmt.Errorf("cas failed: task %s is %s, not %s", taskID, t.Status, from)
	}

	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	b.appendAuditLocked(taskID, from, to, actor, notes, commitSHA)
	return nil
}

func (b *Backend) appendAuditLocked(taskID string, from, to store.TaskStatus, actor, notes, commitSHA string) {
	b.seq++
	b.audit[taskID] = append(b.audit[taskID], &store.TaskAudit{
		ID:         fmt.Sprintf("audit-%d", b.seq),
		TaskID:     taskID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Notes:      notes,
		CommitSHA:  commitSHA,
		CreatedAt:  time.Now().UTC(),
		Seq:        b.seq,
	})
}

func (b *Backend) ApproveTask(ctx context.Context, taskID, actor, commitSHA string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if t.Status != store.StatusReview {
		return fmt.Errorf("cas failed: task %s is %s, not review", taskID, t.Status)
	}
	t.Status = store.StatusCompleted
	t.UpdatedAt = time.Now().UTC()
	b.appendAuditLocked(taskID, store.StatusReview, store.StatusCompleted, actor, "approved", commitSHA)
	return nil
}

func (b *Backend) RecordCommitSHA(ctx context.Context, taskID, actor, commitSHA string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	t.UpdatedAt = time.Now().UTC()
	b.appendAuditLocked(taskID, t.Status, t.Status, actor, "commit_sha_recorded", commitSHA)
	return nil
}

func (b *Backend) RejectTask(ctx context.Context, taskID, actor, notes string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if t.Status == store.StatusFailed {
		b.appendAuditLocked(taskID, store.StatusFailed, store.StatusFailed, actor, "ignored_after_failed: "+notes, "")
		return nil
	}
	from := t.Status
	t.RejectionCount++
	if t.RejectionCount >= store.MaxRejections {
		t.Status = store.StatusFailed
	} else {
		t.Status = store.StatusInProgress
	}
	t.UpdatedAt = time.Now().UTC()
	b.appendAuditLocked(taskID, from, t.Status, actor, notes, "")
	return nil
}

func (b *Backend) ResetRejections(ctx context.Context, taskID, actor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	t.RejectionCount = 0
	t.UpdatedAt = time.Now().UTC()
	b.appendAuditLocked(taskID, t.Status, t.Status, actor, "reset-rejections", "")
	return nil
}

func (b *Backend) ListAudit(ctx context.Context, taskID string) ([]*store.TaskAudit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := b.audit[taskID]
	out := make([]*store.TaskAudit, len(rows))
	copy(out, rows)
	return out, nil
}

func (b *Backend) ListInvocations(ctx context.Context, taskID string) ([]*store.Invocation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := b.invocations[taskID]
	out := make([]*store.Invocation, len(rows))
	copy(out, rows)
	return out, nil
}

func (b *Backend) CreateInvocation(ctx context.Context, inv *store.Invocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	inv.CreatedAt = time.Now().UTC()
	clone := *inv
	b.invocations[inv.TaskID] = append(b.invocations[inv.TaskID], &clone)
	return nil
}

func (b *Backend) CreateDispute(ctx context.Context, d *store.Dispute) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d.CreatedAt = time.Now().UTC()
	d.Status = store.DisputeOpen
	clone := *d
	b.disputes[d.ID] = &clone
	return nil
}

func (b *Backend) ResolveDispute(ctx context.Context, id, resolution, notes, resolvedBy string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.disputes[id]
	if !ok {
		return fmt.Errorf("dispute not found: %s", id)
	}
	now := time.Now().UTC()
	d.Status = store.DisputeResolved
	d.Resolution = resolution
	d.ResolutionNotes = notes
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &now
	return nil
}

func (b *Backend) ListDisputes(ctx context.Context, status store.DisputeStatus) ([]*store.Dispute, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*store.Dispute
	for _, d := range b.disputes {
		if status != "" && d.Status != status {
			continue
		}
		clone := *d
		out = append(out, &clone)
	}
	return out, nil
}

func (b *Backend) GetDispute(ctx context.Context, id string) (*store.Dispute, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d, ok := b.disputes[id]
	if !ok {
		return nil, fmt.Errorf("dispute not found: %s", id)
	}
	clone := *d
	return &clone, nil
}
