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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/steroids-dev/steroids/internal/store"
)

func createTestBackend(t *testing.T) *Backend {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "store.db")
	be, err := New(Config{Path: dbPath, WAL: true})
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return be
}

func TestSQLiteBackend_CreateAndGetTask(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{
		ID:        "task-1",
		Title:     "wire up config loader",
		SectionID: "section-1",
		Status:    store.StatusPending,
	}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	got, err := be.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Title != task.Title {
		t.Errorf("title = %q, want %q", got.Title, task.Title)
	}
	if got.Status != store.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestSQLiteBackend_TransitionCAS(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{ID: "task-2", Title: "t", Status: store.StatusPending}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	if err := be.Transition(ctx, "task-2", store.StatusPending, store.StatusInProgress, "runner-1", "starting", ""); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	if err := be.Transition(ctx, "task-2", store.StatusPending, store.StatusReview, "runner-1", "stale", ""); err == nil {
		t.Fatal("expected cas failure on stale from-status")
	}

	audit, err := be.ListAudit(ctx, "task-2")
	if err != nil {
		t.Fatalf("failed to list audit: %v", err)
	}
	if len(audit) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(audit))
	}
	if audit[0].ToStatus != store.StatusInProgress {
		t.Errorf("audit to_status = %q, want in_progress", audit[0].ToStatus)
	}
}

func TestSQLiteBackend_RejectTaskCeiling(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{ID: "task-3", Title: "t", Status: store.StatusReview}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	for i := 0; i < store.MaxRejections; i++ {
		if err := be.RejectTask(ctx, "task-3", "reviewer", "not good enough"); err != nil {
			t.Fatalf("reject %d failed: %v", i, err)
		}
	}

	got, err := be.GetTask(ctx, "task-3")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed after %d rejections", got.Status, store.MaxRejections)
	}

	if err := be.RejectTask(ctx, "task-3", "reviewer", "still no"); err != nil {
		t.Fatalf("reject on failed task should be a no-op, not an error: %v", err)
	}
	audit, err := be.ListAudit(ctx, "task-3")
	if err != nil {
		t.Fatalf("failed to list audit: %v", err)
	}
	last := audit[len(audit)-1]
	if last.Notes != "ignored_after_failed: still no" {
		t.Errorf("expected ignored_after_failed note, got %q", last.Notes)
	}
}

func TestSQLiteBackend_ApproveTask(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{ID: "task-4", Title: "t", Status: store.StatusReview}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if err := be.ApproveTask(ctx, "task-4", "reviewer", "abc123"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	got, err := be.GetTask(ctx, "task-4")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestSQLiteBackend_RecordCommitSHA(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{ID: "task-5", Title: "t", Status: store.StatusReview}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if err := be.ApproveTask(ctx, "task-5", "reviewer", ""); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if err := be.RecordCommitSHA(ctx, "task-5", "reviewer", "c0ffee"); err != nil {
		t.Fatalf("record commit sha failed: %v", err)
	}

	got, err := be.GetTask(ctx, "task-5")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}

	audit, err := be.ListAudit(ctx, "task-5")
	if err != nil {
		t.Fatalf("failed to list audit: %v", err)
	}
	if len(audit) == 0 || audit[len(audit)-1].CommitSHA != "c0ffee" {
		t.Fatalf("expected latest audit row to carry commit sha, got %+v", audit)
	}
}

func TestSQLiteBackend_SectionDependsOnRoundtrip(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	section := &store.Section{
		ID:        "section-2",
		Name:      "auth",
		Position:  2,
		Priority:  1,
		DependsOn: []string{"section-0", "section-1"},
	}
	if err := be.UpsertSection(ctx, section); err != nil {
		t.Fatalf("failed to upsert section: %v", err)
	}

	got, err := be.GetSection(ctx, "section-2")
	if err != nil {
		t.Fatalf("failed to get section: %v", err)
	}
	if len(got.DependsOn) != 2 || got.DependsOn[0] != "section-0" || got.DependsOn[1] != "section-1" {
		t.Errorf("depends_on roundtrip = %v, want [section-0 section-1]", got.DependsOn)
	}
}

func TestSQLiteBackend_ListTasksFilter(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	tasks := []*store.Task{
		{ID: "t1", Title: "alpha", SectionID: "s1", Status: store.StatusPending},
		{ID: "t2", Title: "beta", SectionID: "s1", Status: store.StatusCompleted},
		{ID: "t3", Title: "gamma", SectionID: "s2", Status: store.StatusPending},
	}
	for _, tk := range tasks {
		if err := be.CreateTask(ctx, tk); err != nil {
			t.Fatalf("failed to create task %s: %v", tk.ID, err)
		}
	}

	got, err := be.ListTasks(ctx, store.TaskFilter{SectionID: "s1"})
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks in s1, got %d", len(got))
	}

	got, err = be.ListTasks(ctx, store.TaskFilter{Statuses: []store.TaskStatus{store.StatusPending}})
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(got))
	}
}

func TestSQLiteBackend_DisputeLifecycle(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{ID: "task-5", Title: "t", Status: store.StatusDisputed}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	d := &store.Dispute{
		ID:               "dispute-1",
		TaskID:           "task-5",
		Type:             store.DisputeMajor,
		Reason:           "coder and reviewer disagree on approach",
		CoderPosition:    "use interface",
		ReviewerPosition: "use concrete type",
		CreatedBy:        "reviewer",
	}
	if err := be.CreateDispute(ctx, d); err != nil {
		t.Fatalf("failed to create dispute: %v", err)
	}

	open, err := be.ListDisputes(ctx, store.DisputeOpen)
	if err != nil {
		t.Fatalf("failed to list open disputes: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open dispute, got %d", len(open))
	}

	if err := be.ResolveDispute(ctx, "dispute-1", "use interface", "coder's approach matches the rest of the package", "coordinator"); err != nil {
		t.Fatalf("failed to resolve dispute: %v", err)
	}

	got, err := be.GetDispute(ctx, "dispute-1")
	if err != nil {
		t.Fatalf("failed to get dispute: %v", err)
	}
	if got.Status != store.DisputeResolved {
		t.Errorf("status = %q, want resolved", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("resolved_at should be set")
	}
}

func TestSQLiteBackend_InvocationHistory(t *testing.T) {
	be := createTestBackend(t)
	defer be.Close()
	ctx := context.Background()

	task := &store.Task{ID: "task-6", Title: "t", Status: store.StatusInProgress}
	if err := be.CreateTask(ctx, task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	inv := &store.Invocation{
		ID:         "inv-1",
		TaskID:     "task-6",
		Role:       store.RoleCoder,
		Provider:   "anthropic",
		Model:      "claude",
		Success:    true,
		DurationMs: 1200,
	}
	if err := be.CreateInvocation(ctx, inv); err != nil {
		t.Fatalf("failed to create invocation: %v", err)
	}

	got, err := be.ListInvocations(ctx, "task-6")
	if err != nil {
		t.Fatalf("failed to list invocations: %v", err)
	}
	if len(got) != 1 || got[0].Provider != "anthropic" {
		t.Fatalf("unexpected invocations: %+v", got)
	}
}
