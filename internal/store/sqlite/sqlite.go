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

// Package sqlite provides the default per-project store.Backend, a single
// file under <projectPath>/.steroids/store.db.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steroids-dev/steroids/internal/store"
	_ "modernc.org/sqlite"
)

var _ store.Backend = (*Backend)(nil)

// Backend is a SQLite-backed store.Backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	Path string
	WAL  bool
}

// New opens (creating if necessary) the store database at cfg.Path.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := b.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			skipped INTEGER NOT NULL DEFAULT 0,
			depends_on TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			section_id TEXT,
			status TEXT NOT NULL,
			rejection_count INTEGER NOT NULL DEFAULT 0,
			source_file TEXT,
			file_path TEXT,
			file_line INTEGER,
			file_commit_sha TEXT,
			file_content_hash TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_section ON tasks(status, section_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_section ON tasks(section_id)`,
		`CREATE TABLE IF NOT EXISTS task_audit (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			from_status TEXT,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL,
			notes TEXT,
			commit_sha TEXT,
			seq INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_task_created ON task_audit(task_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS task_invocations (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			role TEXT NOT NULL,
			provider TEXT,
			model TEXT,
			prompt TEXT,
			response TEXT,
			error TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			timed_out INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			rejection_number INTEGER,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_task_created ON task_invocations(task_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS disputes (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			reason TEXT,
			status TEXT NOT NULL,
			coder_position TEXT,
			reviewer_position TEXT,
			resolution TEXT,
			resolution_notes TEXT,
			created_by TEXT,
			created_at TEXT NOT NULL,
			resolved_by TEXT,
			resolved_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status)`,
	}
	for _, m := range migrations {
		if _, err := b.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func joinDependsOn(deps []string) string {
	out := ""
	for i, d := range deps {
		if i > 0 {
			out += ","
		}
		out += d
	}
	return out
}

func splitDependsOn(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (b *Backend) GetTask(ctx context.Context, id string) (*store.Task, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, title, section_id, status, rejection_count, source_file, file_path,
			file_line, file_commit_sha, file_content_hash, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*store.Task, error) {
	var t store.Task
	var sectionID, sourceFile, filePath, fileCommitSHA, fileContentHash sql.NullString
	var fileLine sql.NullInt64
	var createdAt, updatedAt string

	if err := row.Scan(&t.ID, &t.Title, &sectionID, &t.Status, &t.RejectionCount,
		&sourceFile, &filePath, &fileLine, &fileCommitSHA, &fileContentHash,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task not found")
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.SectionID = sectionID.String
	t.SourceFile = sourceFile.String
	t.FilePath = filePath.String
	t.FileCommitSHA = fileCommitSHA.String
	t.FileContentHash = fileContentHash.String
	t.FileLine = int(fileLine.Int64)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

func (b *Backend) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	query := `SELECT id, title, section_id, status, rejection_count, source_file, file_path,
		file_line, file_commit_sha, file_content_hash, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any

	if filter.SectionID != "" {
		query += " AND section_id = ?"
		args = append(args, filter.SectionID)
	}
	if len(filter.Statuses) > 0 {
		query += " AND status IN ("
		for i, s := range filter.Statuses {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, string(s))
		}
		query += ")"
	}
	if filter.Search != "" {
		query += " AND title LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	query += " ORDER BY created_at, id"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (b *Backend) ListSections(ctx context.Context) ([]*store.Section, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, name, position, priority, skipped, depends_on FROM sections ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var out []*store.Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSection(row scannable) (*store.Section, error) {
	var s store.Section
	var skipped int
	var dependsOn sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.Position, &s.Priority, &skipped, &dependsOn); err != nil {
		return nil, fmt.Errorf("failed to scan section: %w", err)
	}
	s.Skipped = skipped != 0
	s.DependsOn = splitDependsOn(dependsOn.String)
	return &s, nil
}

func (b *Backend) GetSection(ctx context.Context, id string) (*store.Section, error) {
	row := b.db.QueryRowContext(ctx, `SELECT id, name, position, priority, skipped, depends_on FROM sections WHERE id = ?`, id)
	return scanSection(row)
}

func (b *Backend) UpsertSection(ctx context.Context, section *store.Section) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sections (id, name, position, priority, skipped, depends_on)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, position=excluded.position,
			priority=excluded.priority, skipped=excluded.skipped, depends_on=excluded.depends_on
	`, section.ID, section.Name, section.Position, section.Priority, boolInt(section.Skipped), joinDependsOn(section.DependsOn))
	if err != nil {
		return fmt.Errorf("failed to upsert section: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (b *Backend) CreateTask(ctx context.Context, task *store.Task) error {
	now := time.Now().UTC()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, section_id, status, rejection_count, source_file,
			file_path, file_line, file_commit_sha, file_content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, nullString(task.SectionID), string(task.Status), task.RejectionCount,
		nullString(task.SourceFile), nullString(task.FilePath), task.FileLine,
		nullString(task.FileCommitSHA), nullString(task.FileContentHash),
		formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func (b *Backend) appendAudit(ctx context.Context, tx *sql.Tx, taskID string, from, to store.TaskStatus, actor, notes, commitSHA string) error {
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM task_audit`).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate audit seq: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_audit (id, task_id, from_status, to_status, actor, notes, commit_sha, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fmt.Sprintf("audit-%d", seq), taskID, string(from), string(to), actor, nullString(notes), nullString(commitSHA), seq, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}

func (b *Backend) Transition(ctx context.Context, taskID string, from, to store.TaskStatus, actor, notes, commitSHA string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(time.Now()), taskID, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cas failed: task %s is not %s", taskID, from)
	}
	if err := b.appendAudit(ctx, tx, taskID, from, to, actor, notes, commitSHA); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend) ApproveTask(ctx context.Context, taskID, actor, commitSHA string) error {
	return b.Transition(ctx, taskID, store.StatusReview, store.StatusCompleted, actor, "approved", commitSHA)
}

func (b *Backend) RecordCommitSHA(ctx context.Context, taskID, actor, commitSHA string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status); err != nil {
		return fmt.Errorf("task not found: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET updated_at = ? WHERE id = ?`, formatTime(time.Now()), taskID); err != nil {
		return fmt.Errorf("failed to touch task: %w", err)
	}
	st := store.TaskStatus(status)
	if err := b.appendAudit(ctx, tx, taskID, st, st, actor, "commit_sha_recorded", commitSHA); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend) RejectTask(ctx context.Context, taskID, actor, notes string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	var rejectionCount int
	if err := tx.QueryRowContext(ctx, `SELECT status, rejection_count FROM tasks WHERE id = ?`, taskID).Scan(&status, &rejectionCount); err != nil {
		return fmt.Errorf("task not found: %w", err)
	}

	if status == string(store.StatusFailed) {
		if err := b.appendAudit(ctx, tx, taskID, store.StatusFailed, store.StatusFailed, actor, "ignored_after_failed: "+notes, ""); err != nil {
			return err
		}
		return tx.Commit()
	}

	from := store.TaskStatus(status)
	rejectionCount++
	to := store.StatusInProgress
	if rejectionCount >= store.MaxRejections {
		to = store.StatusFailed
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, rejection_count = ?, updated_at = ? WHERE id = ?`,
		string(to), rejectionCount, formatTime(time.Now()), taskID); err != nil {
		return fmt.Errorf("failed to reject task: %w", err)
	}
	if err := b.appendAudit(ctx, tx, taskID, from, to, actor, notes, ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend) ResetRejections(ctx context.Context, taskID, actor string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&status); err != nil {
		return fmt.Errorf("task not found: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET rejection_count = 0, updated_at = ? WHERE id = ?`, formatTime(time.Now()), taskID); err != nil {
		return fmt.Errorf("failed to reset rejections: %w", err)
	}
	if err := b.appendAudit(ctx, tx, taskID, store.TaskStatus(status), store.TaskStatus(status), actor, "reset-rejections", ""); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend) ListAudit(ctx context.Context, taskID string) ([]*store.TaskAudit, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, task_id, from_status, to_status, actor, notes, commit_sha, seq, created_at
		FROM task_audit WHERE task_id = ? ORDER BY created_at, seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit: %w", err)
	}
	defer rows.Close()

	var out []*store.TaskAudit
	for rows.Next() {
		var a store.TaskAudit
		var from, notes, commitSHA sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &from, &a.ToStatus, &a.Actor, &notes, &commitSHA, &a.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		a.FromStatus = store.TaskStatus(from.String)
		a.Notes = notes.String
		a.CommitSHA = commitSHA.String
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (b *Backend) ListInvocations(ctx context.Context, taskID string) ([]*store.Invocation, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, task_id, role, provider, model, prompt, response, error, success, timed_out,
			duration_ms, rejection_number, created_at
		FROM task_invocations WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	var out []*store.Invocation
	for rows.Next() {
		var inv store.Invocation
		var provider, model, prompt, response, errStr sql.NullString
		var success, timedOut int
		var rejectionNumber sql.NullInt64
		var createdAt string
		if err := rows.Scan(&inv.ID, &inv.TaskID, &inv.Role, &provider, &model, &prompt, &response,
			&errStr, &success, &timedOut, &inv.DurationMs, &rejectionNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		inv.Provider = provider.String
		inv.Model = model.String
		inv.Prompt = prompt.String
		inv.Response = response.String
		inv.Error = errStr.String
		inv.Success = success != 0
		inv.TimedOut = timedOut != 0
		inv.RejectionNumber = int(rejectionNumber.Int64)
		inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &inv)
	}
	return out, rows.Err()
}

func (b *Backend) CreateInvocation(ctx context.Context, inv *store.Invocation) error {
	now := time.Now().UTC()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO task_invocations (id, task_id, role, provider, model, prompt, response, error,
			success, timed_out, duration_ms, rejection_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.TaskID, string(inv.Role), nullString(inv.Provider), nullString(inv.Model),
		nullString(inv.Prompt), nullString(inv.Response), nullString(inv.Error),
		boolInt(inv.Success), boolInt(inv.TimedOut), inv.DurationMs, inv.RejectionNumber, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create invocation: %w", err)
	}
	inv.CreatedAt = now
	return nil
}

func (b *Backend) CreateDispute(ctx context.Context, d *store.Dispute) error {
	now := time.Now().UTC()
	d.Status = store.DisputeOpen
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO disputes (id, task_id, type, reason, status, coder_position, reviewer_position,
			created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.TaskID, string(d.Type), nullString(d.Reason), string(d.Status),
		nullString(d.CoderPosition), nullString(d.ReviewerPosition), nullString(d.CreatedBy), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	d.CreatedAt = now
	return nil
}

func (b *Backend) ResolveDispute(ctx context.Context, id, resolution, notes, resolvedBy string) error {
	now := time.Now().UTC()
	res, err := b.db.ExecContext(ctx, `
		UPDATE disputes SET status = ?, resolution = ?, resolution_notes = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ?
	`, string(store.DisputeResolved), nullString(resolution), nullString(notes), nullString(resolvedBy), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("failed to resolve dispute: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dispute not found: %s", id)
	}
	return nil
}

func (b *Backend) ListDisputes(ctx context.Context, status store.DisputeStatus) ([]*store.Dispute, error) {
	query := `SELECT id, task_id, type, reason, status, coder_position, reviewer_position,
		resolution, resolution_notes, created_by, created_at, resolved_by, resolved_at FROM disputes WHERE 1=1`
	var args []any
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var out []*store.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDispute(row scannable) (*store.Dispute, error) {
	var d store.Dispute
	var reason, coderPos, reviewerPos, resolution, notes, createdBy, resolvedBy, resolvedAt sql.NullString
	var createdAt string
	if err := row.Scan(&d.ID, &d.TaskID, &d.Type, &reason, &d.Status, &coderPos, &reviewerPos,
		&resolution, &notes, &createdBy, &createdAt, &resolvedBy, &resolvedAt); err != nil {
		return nil, fmt.Errorf("failed to scan dispute: %w", err)
	}
	d.Reason = reason.String
	d.CoderPosition = coderPos.String
	d.ReviewerPosition = reviewerPos.String
	d.Resolution = resolution.String
	d.ResolutionNotes = notes.String
	d.CreatedBy = createdBy.String
	d.ResolvedBy = resolvedBy.String
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt)
		d.ResolvedAt = &t
	}
	return &d, nil
}

func (b *Backend) GetDispute(ctx context.Context, id string) (*store.Dispute, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, task_id, type, reason, status, coder_position, reviewer_position,
			resolution, resolution_notes, created_by, created_at, resolved_by, resolved_at
		FROM disputes WHERE id = ?`, id)
	return scanDispute(row)
}
