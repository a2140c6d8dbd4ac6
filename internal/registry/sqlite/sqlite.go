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

// Package sqlite is the default single-node registry.Backend, a single file
// at ~/.steroids/registry.db.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steroids-dev/steroids/internal/registry"
	_ "modernc.org/sqlite"
)

var _ registry.Backend = (*Backend)(nil)

// Backend is a SQLite-backed registry.Backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	Path string
	WAL  bool
}

// New opens (creating if necessary) the registry database at cfg.Path.
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
	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"}
	if cfg.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			path TEXT PRIMARY KEY,
			name TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			registered_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			stats_pending INTEGER NOT NULL DEFAULT 0,
			stats_in_progress INTEGER NOT NULL DEFAULT 0,
			stats_review INTEGER NOT NULL DEFAULT 0,
			stats_completed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS runners (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			pid INTEGER,
			project_path TEXT,
			section_id TEXT,
			parallel_session_id TEXT,
			current_task_id TEXT,
			started_at TEXT NOT NULL,
			heartbeat_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runners_project ON runners(project_path)`,
		`CREATE TABLE IF NOT EXISTS parallel_sessions (
			id TEXT PRIMARY KEY,
			project_path TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS workstreams (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			branch_name TEXT,
			section_ids TEXT,
			clone_path TEXT,
			status TEXT NOT NULL,
			runner_id TEXT,
			lease_expires_at TEXT,
			completion_order INTEGER,
			created_at TEXT NOT NULL,
			completed_at TEXT,
			FOREIGN KEY (session_id) REFERENCES parallel_sessions(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workstreams_session ON workstreams(session_id)`,
		`CREATE TABLE IF NOT EXISTS activity_events (
			id TEXT PRIMARY KEY,
			project_path TEXT NOT NULL,
			runner_id TEXT,
			task_id TEXT,
			task_title TEXT,
			section_name TEXT,
			kind TEXT NOT NULL,
			commit_message TEXT,
			commit_sha TEXT,
			at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_project_at ON activity_events(project_path, at)`,
		`CREATE TABLE IF NOT EXISTS credit_incidents (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			role TEXT NOT NULL,
			message TEXT,
			runner_id TEXT,
			opened_at TEXT NOT NULL,
			resolved_at TEXT,
			resolution TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_open ON credit_incidents(provider, model, role, resolved_at)`,
	}
	for _, m := range migrations {
		if _, err := b.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() error { return b.db.Close() }

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }
func formatTime(t time.Time) string      { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (b *Backend) RegisterProject(ctx context.Context, path, name string) (*registry.Project, error) {
	now := time.Now().UTC()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO projects (path, name, enabled, registered_at, last_seen_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(path) DO UPDATE SET enabled = 1
	`, path, nullString(name), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to register project: %w", err)
	}
	return b.GetProject(ctx, path)
}

func (b *Backend) UnregisterProject(ctx context.Context, path string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM projects WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to unregister project: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) EnableProject(ctx context.Context, path string) error {
	return b.setEnabled(ctx, path, true)
}

func (b *Backend) DisableProject(ctx context.Context, path string) error {
	return b.setEnabled(ctx, path, false)
}

func (b *Backend) setEnabled(ctx context.Context, path string, enabled bool) error {
	res, err := b.db.ExecContext(ctx, `UPDATE projects SET enabled = ? WHERE path = ?`, boolInt(enabled), path)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) PruneProjects(ctx context.Context, exists func(path string) bool) ([]string, error) {
	projects, err := b.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, p := range projects {
		if !exists(p.Path) {
			if _, err := b.db.ExecContext(ctx, `DELETE FROM projects WHERE path = ?`, p.Path); err != nil {
				return removed, fmt.Errorf("failed to prune %s: %w", p.Path, err)
			}
			removed = append(removed, p.Path)
		}
	}
	return removed, nil
}

func (b *Backend) ListProjects(ctx context.Context) ([]*registry.Project, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT path, name, enabled, registered_at, last_seen_at,
			stats_pending, stats_in_progress, stats_review, stats_completed
		FROM projects ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*registry.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProject(row scannable) (*registry.Project, error) {
	var p registry.Project
	var name sql.NullString
	var enabled int
	var registeredAt, lastSeenAt string
	if err := row.Scan(&p.Path, &name, &enabled, &registeredAt, &lastSeenAt,
		&p.Stats.Pending, &p.Stats.InProgress, &p.Stats.Review, &p.Stats.Completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project not found")
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Name = name.String
	p.Enabled = enabled != 0
	p.RegisteredAt = parseTime(registeredAt)
	p.LastSeenAt = parseTime(lastSeenAt)
	return &p, nil
}

func (b *Backend) GetProject(ctx context.Context, path string) (*registry.Project, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT path, name, enabled, registered_at, last_seen_at,
			stats_pending, stats_in_progress, stats_review, stats_completed
		FROM projects WHERE path = ?`, path)
	return scanProject(row)
}

func (b *Backend) UpdateProjectStats(ctx context.Context, path string, stats registry.ProjectStats) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE projects SET stats_pending = ?, stats_in_progress = ?, stats_review = ?, stats_completed = ?
		WHERE path = ?
	`, stats.Pending, stats.InProgress, stats.Review, stats.Completed, path)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) TouchProject(ctx context.Context, path string) error {
	res, err := b.db.ExecContext(ctx, `UPDATE projects SET last_seen_at = ? WHERE path = ?`, formatTime(time.Now()), path)
	if err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) UpsertRunner(ctx context.Context, r *registry.Runner) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO runners (id, status, pid, project_path, section_id, parallel_session_id,
			current_task_id, started_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, pid=excluded.pid,
			project_path=excluded.project_path, section_id=excluded.section_id,
			parallel_session_id=excluded.parallel_session_id, current_task_id=excluded.current_task_id,
			heartbeat_at=excluded.heartbeat_at
	`, r.ID, string(r.Status), r.PID, nullString(r.ProjectPath), nullString(r.SectionID),
		nullString(r.ParallelSessionID), nullString(r.CurrentTaskID), formatTime(r.StartedAt), formatTime(r.HeartbeatAt))
	if err != nil {
		return fmt.Errorf("failed to upsert runner: %w", err)
	}
	return nil
}

func (b *Backend) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	res, err := b.db.ExecContext(ctx, `UPDATE runners SET heartbeat_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("runner not found: %s", id)
	}
	return nil
}

func (b *Backend) DeleteRunner(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM runners WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete runner: %w", err)
	}
	return nil
}

func scanRunner(row scannable) (*registry.Runner, error) {
	var r registry.Runner
	var pid sql.NullInt64
	var projectPath, sectionID, parallelSessionID, currentTaskID sql.NullString
	var startedAt, heartbeatAt string
	if err := row.Scan(&r.ID, &r.Status, &pid, &projectPath, &sectionID, &parallelSessionID,
		&currentTaskID, &startedAt, &heartbeatAt); err != nil {
		return nil, fmt.Errorf("failed to scan runner: %w", err)
	}
	r.PID = int(pid.Int64)
	r.ProjectPath = projectPath.String
	r.SectionID = sectionID.String
	r.ParallelSessionID = parallelSessionID.String
	r.CurrentTaskID = currentTaskID.String
	r.StartedAt = parseTime(startedAt)
	r.HeartbeatAt = parseTime(heartbeatAt)
	return &r, nil
}

func (b *Backend) ListRunners(ctx context.Context) ([]*registry.Runner, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, status, pid, project_path, section_id, parallel_session_id, current_task_id,
			started_at, heartbeat_at FROM runners ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	defer rows.Close()

	var out []*registry.Runner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *Backend) GetRunner(ctx context.Context, id string) (*registry.Runner, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, status, pid, project_path, section_id, parallel_session_id, current_task_id,
			started_at, heartbeat_at FROM runners WHERE id = ?`, id)
	return scanRunner(row)
}

func (b *Backend) HasActiveRunnerForProject(ctx context.Context, projectPath string, now time.Time) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runners
		WHERE project_path = ? AND (parallel_session_id IS NULL OR parallel_session_id = '')
			AND heartbeat_at >= ?
	`, projectPath, formatTime(now.Add(-registry.HeartbeatFreshness))).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active runner: %w", err)
	}
	return count > 0, nil
}

func (b *Backend) CreateSession(ctx context.Context, s *registry.ParallelSession, workstreams []*registry.Workstream) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO parallel_sessions (id, project_path, status, created_at) VALUES (?, ?, ?, ?)
	`, s.ID, s.ProjectPath, string(s.Status), formatTime(now)); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	for _, w := range workstreams {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workstreams (id, session_id, branch_name, section_ids, clone_path, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, w.ID, s.ID, w.BranchName, strings.Join(w.SectionIDs, ","), w.ClonePath, string(w.Status), formatTime(now)); err != nil {
			return fmt.Errorf("failed to create workstream %s: %w", w.ID, err)
		}
	}
	return tx.Commit()
}

func (b *Backend) UpdateSessionStatus(ctx context.Context, id string, status registry.SessionStatus) error {
	var completedAt any
	if status == registry.SessionCompleted || status == registry.SessionFailed || status == registry.SessionAborted {
		completedAt = formatTime(time.Now())
	}
	res, err := b.db.ExecContext(ctx, `UPDATE parallel_sessions SET status = ?, completed_at = ? WHERE id = ?`, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (b *Backend) GetSession(ctx context.Context, id string) (*registry.ParallelSession, error) {
	row := b.db.QueryRowContext(ctx, `SELECT id, project_path, status, created_at, completed_at FROM parallel_sessions WHERE id = ?`, id)
	var s registry.ParallelSession
	var createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&s.ID, &s.ProjectPath, &s.Status, &createdAt, &completedAt); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.CreatedAt = parseTime(createdAt)
	s.CompletedAt = parseNullTime(completedAt)
	return &s, nil
}

func scanWorkstream(row scannable) (*registry.Workstream, error) {
	var w registry.Workstream
	var branchName, sectionIDs, clonePath, runnerID, leaseExpiresAt sql.NullString
	var completionOrder sql.NullInt64
	var createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&w.ID, &w.SessionID, &branchName, &sectionIDs, &clonePath, &w.Status,
		&runnerID, &leaseExpiresAt, &completionOrder, &createdAt, &completedAt); err != nil {
		return nil, fmt.Errorf("failed to scan workstream: %w", err)
	}
	w.BranchName = branchName.String
	if sectionIDs.String != "" {
		w.SectionIDs = strings.Split(sectionIDs.String, ",")
	}
	w.ClonePath = clonePath.String
	w.RunnerID = runnerID.String
	if leaseExpiresAt.Valid && leaseExpiresAt.String != "" {
		w.LeaseExpiresAt = parseTime(leaseExpiresAt.String)
	}
	w.CompletionOrder = int(completionOrder.Int64)
	w.CreatedAt = parseTime(createdAt)
	w.CompletedAt = parseNullTime(completedAt)
	return &w, nil
}

func (b *Backend) ListWorkstreamsForSession(ctx context.Context, sessionID string) ([]*registry.Workstream, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, session_id, branch_name, section_ids, clone_path, status, runner_id,
			lease_expires_at, completion_order, created_at, completed_at
		FROM workstreams WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workstreams: %w", err)
	}
	defer rows.Close()

	var out []*registry.Workstream
	for rows.Next() {
		w, err := scanWorkstream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (b *Backend) AcquireWorkstreamLease(ctx context.Context, sessionID, workstreamID, runnerID string, ttl time.Duration, now time.Time) (registry.LeaseResult, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.LeaseDenied, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE workstreams SET runner_id = ?, lease_expires_at = ?, status = ?
		WHERE id = ? AND session_id = ? AND (runner_id IS NULL OR runner_id = '' OR lease_expires_at <= ?)
	`, runnerID, formatTime(now.Add(ttl)), string(registry.WorkstreamRunning), workstreamID, sessionID, formatTime(now))
	if err != nil {
		return registry.LeaseDenied, fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.LeaseDenied, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return registry.LeaseDenied, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return registry.LeaseDenied, err
	}
	return registry.LeaseAcquired, nil
}

func (b *Backend) ReleaseWorkstreamLease(ctx context.Context, workstreamID string) error {
	res, err := b.db.ExecContext(ctx, `UPDATE workstreams SET runner_id = NULL, lease_expires_at = NULL WHERE id = ?`, workstreamID)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("workstream not found: %s", workstreamID)
	}
	return nil
}

func (b *Backend) CompleteWorkstream(ctx context.Context, workstreamID string, completionOrder int) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE workstreams SET status = ?, completion_order = ?, completed_at = ? WHERE id = ?
	`, string(registry.WorkstreamCompleted), completionOrder, formatTime(time.Now()), workstreamID)
	if err != nil {
		return fmt.Errorf("failed to complete workstream: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("workstream not found: %s", workstreamID)
	}
	return nil
}

func (b *Backend) GetWorkstream(ctx context.Context, id string) (*registry.Workstream, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, session_id, branch_name, section_ids, clone_path, status, runner_id,
			lease_expires_at, completion_order, created_at, completed_at
		FROM workstreams WHERE id = ?`, id)
	return scanWorkstream(row)
}

func (b *Backend) AppendActivity(ctx context.Context, e *registry.ActivityEvent) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = fmt.Sprintf("activity-%d", now.UnixNano())
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO activity_events (id, project_path, runner_id, task_id, task_title, section_name,
			kind, commit_message, commit_sha, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ProjectPath, nullString(e.RunnerID), nullString(e.TaskID), nullString(e.TaskTitle),
		nullString(e.SectionName), string(e.Kind), nullString(e.CommitMessage), nullString(e.CommitSHA), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	e.At = now
	return nil
}

func (b *Backend) ListActivity(ctx context.Context, projectPath string, limit int) ([]*registry.ActivityEvent, error) {
	query := `SELECT id, project_path, runner_id, task_id, task_title, section_name, kind,
		commit_message, commit_sha, at FROM activity_events WHERE 1=1`
	var args []any
	if projectPath != "" {
		query += " AND project_path = ?"
		args = append(args, projectPath)
	}
	query += " ORDER BY at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []*registry.ActivityEvent
	for rows.Next() {
		var e registry.ActivityEvent
		var runnerID, taskID, taskTitle, sectionName, commitMessage, commitSHA sql.NullString
		var at string
		if err := rows.Scan(&e.ID, &e.ProjectPath, &runnerID, &taskID, &taskTitle, &sectionName,
			&e.Kind, &commitMessage, &commitSHA, &at); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.RunnerID = runnerID.String
		e.TaskID = taskID.String
		e.TaskTitle = taskTitle.String
		e.SectionName = sectionName.String
		e.CommitMessage = commitMessage.String
		e.CommitSHA = commitSHA.String
		e.At = parseTime(at)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (b *Backend) RecordCreditIncident(ctx context.Context, provider, model, role, message, runnerID string) (*registry.CreditIncident, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, provider, model, role, message, runner_id, opened_at, resolved_at, resolution
		FROM credit_incidents WHERE provider = ? AND model = ? AND role = ? AND resolved_at IS NULL
	`, provider, model, role)
	existing, err := scanIncident(row)
	if err == nil {
		return existing, tx.Commit()
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("incident-%d", now.UnixNano())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_incidents (id, provider, model, role, message, runner_id, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, provider, model, role, nullString(message), nullString(runnerID), formatTime(now)); err != nil {
		return nil, fmt.Errorf("failed to record incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &registry.CreditIncident{ID: id, Provider: provider, Model: model, Role: role, Message: message, RunnerID: runnerID, OpenedAt: now}, nil
}

func scanIncident(row scannable) (*registry.CreditIncident, error) {
	var inc registry.CreditIncident
	var message, runnerID, resolution sql.NullString
	var openedAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&inc.ID, &inc.Provider, &inc.Model, &inc.Role, &message, &runnerID, &openedAt, &resolvedAt, &resolution); err != nil {
		return nil, err
	}
	inc.Message = message.String
	inc.RunnerID = runnerID.String
	inc.OpenedAt = parseTime(openedAt)
	inc.ResolvedAt = parseNullTime(resolvedAt)
	inc.Resolution = registry.CreditResolution(resolution.String)
	return &inc, nil
}

func (b *Backend) ResolveCreditIncident(ctx context.Context, id string, resolution registry.CreditResolution) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE credit_incidents SET resolved_at = ?, resolution = ? WHERE id = ?
	`, formatTime(time.Now()), string(resolution), id)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("incident not found: %s", id)
	}
	return nil
}

func (b *Backend) ListOpenIncidents(ctx context.Context) ([]*registry.CreditIncident, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, provider, model, role, message, runner_id, opened_at, resolved_at, resolution
		FROM credit_incidents WHERE resolved_at IS NULL ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	defer rows.Close()

	var out []*registry.CreditIncident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (b *Backend) GetIncident(ctx context.Context, id string) (*registry.CreditIncident, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, provider, model, role, message, runner_id, opened_at, resolved_at, resolution
		FROM credit_incidents WHERE id = ?`, id)
	return scanIncident(row)
}
