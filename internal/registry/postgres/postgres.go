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

// Package postgres is the multi-runner registry.Backend, used when several
// hosts share one fleet's projects/runners/sessions. Elector (leader.go)
// provides advisory-lock leader election over a *sql.DB such as this
// backend's pool; the wakeup controller does not construct one.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/steroids-dev/steroids/internal/registry"
	_ "github.com/lib/pq"
)

var _ registry.Backend = (*Backend)(nil)

// Backend is a PostgreSQL registry.Backend.
type Backend struct {
	db *sql.DB
}

// Config contains PostgreSQL connection configuration.
type Config struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// New creates a new PostgreSQL registry backend.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

// DB exposes the underlying pool, e.g. for building an Elector, without
// reaching into backend internals.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			path TEXT PRIMARY KEY,
			name TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			registered_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
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
			started_at TIMESTAMPTZ NOT NULL,
			heartbeat_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runners_project ON runners(project_path)`,
		`CREATE TABLE IF NOT EXISTS parallel_sessions (
			id TEXT PRIMARY KEY,
			project_path TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS workstreams (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES parallel_sessions(id),
			branch_name TEXT,
			section_ids TEXT,
			clone_path TEXT,
			status TEXT NOT NULL,
			runner_id TEXT,
			lease_expires_at TIMESTAMPTZ,
			completion_order INTEGER,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
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
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_project_at ON activity_events(project_path, at)`,
		`CREATE TABLE IF NOT EXISTS credit_incidents (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			role TEXT NOT NULL,
			message TEXT,
			runner_id TEXT,
			opened_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
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

type scannable interface {
	Scan(dest ...any) error
}

func (b *Backend) RegisterProject(ctx context.Context, path, name string) (*registry.Project, error) {
	now := time.Now().UTC()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO projects (path, name, enabled, registered_at, last_seen_at)
		VALUES ($1, $2, TRUE, $3, $4)
		ON CONFLICT (path) DO UPDATE SET enabled = TRUE
	`, path, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to register project: %w", err)
	}
	return b.GetProject(ctx, path)
}

func (b *Backend) UnregisterProject(ctx context.Context, path string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM projects WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("failed to unregister project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) EnableProject(ctx context.Context, path string) error  { return b.setEnabled(ctx, path, true) }
func (b *Backend) DisableProject(ctx context.Context, path string) error { return b.setEnabled(ctx, path, false) }

func (b *Backend) setEnabled(ctx context.Context, path string, enabled bool) error {
	res, err := b.db.ExecContext(ctx, `UPDATE projects SET enabled = $1 WHERE path = $2`, enabled, path)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
			if _, err := b.db.ExecContext(ctx, `DELETE FROM projects WHERE path = $1`, p.Path); err != nil {
				return removed, fmt.Errorf("failed to prune %s: %w", p.Path, err)
			}
			removed = append(removed, p.Path)
		}
	}
	return removed, nil
}

func scanProject(row scannable) (*registry.Project, error) {
	var p registry.Project
	var name sql.NullString
	if err := row.Scan(&p.Path, &name, &p.Enabled, &p.RegisteredAt, &p.LastSeenAt,
		&p.Stats.Pending, &p.Stats.InProgress, &p.Stats.Review, &p.Stats.Completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project not found")
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	p.Name = name.String
	return &p, nil
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

func (b *Backend) GetProject(ctx context.Context, path string) (*registry.Project, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT path, name, enabled, registered_at, last_seen_at,
			stats_pending, stats_in_progress, stats_review, stats_completed
		FROM projects WHERE path = $1`, path)
	return scanProject(row)
}

func (b *Backend) UpdateProjectStats(ctx context.Context, path string, stats registry.ProjectStats) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE projects SET stats_pending = $1, stats_in_progress = $2, stats_review = $3, stats_completed = $4
		WHERE path = $5
	`, stats.Pending, stats.InProgress, stats.Review, stats.Completed, path)
	if err != nil {
		return fmt.Errorf("failed to update stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) TouchProject(ctx context.Context, path string) error {
	res, err := b.db.ExecContext(ctx, `UPDATE projects SET last_seen_at = $1 WHERE path = $2`, time.Now().UTC(), path)
	if err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project not found: %s", path)
	}
	return nil
}

func (b *Backend) UpsertRunner(ctx context.Context, r *registry.Runner) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO runners (id, status, pid, project_path, section_id, parallel_session_id,
			current_task_id, started_at, heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, pid=EXCLUDED.pid,
			project_path=EXCLUDED.project_path, section_id=EXCLUDED.section_id,
			parallel_session_id=EXCLUDED.parallel_session_id, current_task_id=EXCLUDED.current_task_id,
			heartbeat_at=EXCLUDED.heartbeat_at
	`, r.ID, string(r.Status), r.PID, r.ProjectPath, r.SectionID, r.ParallelSessionID, r.CurrentTaskID, r.StartedAt, r.HeartbeatAt)
	if err != nil {
		return fmt.Errorf("failed to upsert runner: %w", err)
	}
	return nil
}

func (b *Backend) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	res, err := b.db.ExecContext(ctx, `UPDATE runners SET heartbeat_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("runner not found: %s", id)
	}
	return nil
}

func (b *Backend) DeleteRunner(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM runners WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete runner: %w", err)
	}
	return nil
}

func scanRunner(row scannable) (*registry.Runner, error) {
	var r registry.Runner
	var pid sql.NullInt64
	var projectPath, sectionID, parallelSessionID, currentTaskID sql.NullString
	if err := row.Scan(&r.ID, &r.Status, &pid, &projectPath, &sectionID, &parallelSessionID,
		&currentTaskID, &r.StartedAt, &r.HeartbeatAt); err != nil {
		return nil, fmt.Errorf("failed to scan runner: %w", err)
	}
	r.PID = int(pid.Int64)
	r.ProjectPath = projectPath.String
	r.SectionID = sectionID.String
	r.ParallelSessionID = parallelSessionID.String
	r.CurrentTaskID = currentTaskID.String
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
			started_at, heartbeat_at FROM runners WHERE id = $1`, id)
	return scanRunner(row)
}

func (b *Backend) HasActiveRunnerForProject(ctx context.Context, projectPath string, now time.Time) (bool, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runners
		WHERE project_path = $1 AND (parallel_session_id IS NULL OR parallel_session_id = '')
			AND heartbeat_at >= $2
	`, projectPath, now.Add(-registry.HeartbeatFreshness)).Scan(&count)
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
		INSERT INTO parallel_sessions (id, project_path, status, created_at) VALUES ($1, $2, $3, $4)
	`, s.ID, s.ProjectPath, string(s.Status), now); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	for _, w := range workstreams {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workstreams (id, session_id, branch_name, section_ids, clone_path, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, w.ID, s.ID, w.BranchName, strings.Join(w.SectionIDs, ","), w.ClonePath, string(w.Status), now); err != nil {
			return fmt.Errorf("failed to create workstream %s: %w", w.ID, err)
		}
	}
	return tx.Commit()
}

func (b *Backend) UpdateSessionStatus(ctx context.Context, id string, status registry.SessionStatus) error {
	var completedAt any
	if status == registry.SessionCompleted || status == registry.SessionFailed || status == registry.SessionAborted {
		completedAt = time.Now().UTC()
	}
	res, err := b.db.ExecContext(ctx, `UPDATE parallel_sessions SET status = $1, completed_at = $2 WHERE id = $3`, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

func (b *Backend) GetSession(ctx context.Context, id string) (*registry.ParallelSession, error) {
	row := b.db.QueryRowContext(ctx, `SELECT id, project_path, status, created_at, completed_at FROM parallel_sessions WHERE id = $1`, id)
	var s registry.ParallelSession
	var completedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.ProjectPath, &s.Status, &s.CreatedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	return &s, nil
}

func scanWorkstream(row scannable) (*registry.Workstream, error) {
	var w registry.Workstream
	var branchName, sectionIDs, clonePath, runnerID sql.NullString
	var leaseExpiresAt, completedAt sql.NullTime
	var completionOrder sql.NullInt64
	if err := row.Scan(&w.ID, &w.SessionID, &branchName, &sectionIDs, &clonePath, &w.Status,
		&runnerID, &leaseExpiresAt, &completionOrder, &w.CreatedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("failed to scan workstream: %w", err)
	}
	w.BranchName = branchName.String
	if sectionIDs.String != "" {
		w.SectionIDs = strings.Split(sectionIDs.String, ",")
	}
	w.ClonePath = clonePath.String
	w.RunnerID = runnerID.String
	if leaseExpiresAt.Valid {
		w.LeaseExpiresAt = leaseExpiresAt.Time
	}
	w.CompletionOrder = int(completionOrder.Int64)
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	return &w, nil
}

func (b *Backend) ListWorkstreamsForSession(ctx context.Context, sessionID string) ([]*registry.Workstream, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, session_id, branch_name, section_ids, clone_path, status, runner_id,
			lease_expires_at, completion_order, created_at, completed_at
		FROM workstreams WHERE session_id = $1 ORDER BY id`, sessionID)
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
		UPDATE workstreams SET runner_id = $1, lease_expires_at = $2, status = $3
		WHERE id = $4 AND session_id = $5 AND (runner_id IS NULL OR runner_id = '' OR lease_expires_at <= $6)
	`, runnerID, now.Add(ttl), string(registry.WorkstreamRunning), workstreamID, sessionID, now)
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
	res, err := b.db.ExecContext(ctx, `UPDATE workstreams SET runner_id = NULL, lease_expires_at = NULL WHERE id = $1`, workstreamID)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workstream not found: %s", workstreamID)
	}
	return nil
}

func (b *Backend) CompleteWorkstream(ctx context.Context, workstreamID string, completionOrder int) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE workstreams SET status = $1, completion_order = $2, completed_at = $3 WHERE id = $4
	`, string(registry.WorkstreamCompleted), completionOrder, time.Now().UTC(), workstreamID)
	if err != nil {
		return fmt.Errorf("failed to complete workstream: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workstream not found: %s", workstreamID)
	}
	return nil
}

func (b *Backend) GetWorkstream(ctx context.Context, id string) (*registry.Workstream, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, session_id, branch_name, section_ids, clone_path, status, runner_id,
			lease_expires_at, completion_order, created_at, completed_at
		FROM workstreams WHERE id = $1`, id)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ProjectPath, e.RunnerID, e.TaskID, e.TaskTitle, e.SectionName, string(e.Kind), e.CommitMessage, e.CommitSHA, now)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	e.At = now
	return nil
}

func (b *Backend) ListActivity(ctx context.Context, projectPath string, limit int) ([]*registry.ActivityEvent, error) {
	query := `SELECT id, project_path, runner_id, task_id, task_title, section_name, kind,
		commit_message, commit_sha, at FROM activity_events WHERE TRUE`
	var args []any
	n := 1
	if projectPath != "" {
		query += fmt.Sprintf(" AND project_path = $%d", n)
		args = append(args, projectPath)
		n++
	}
	query += " ORDER BY at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
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
		if err := rows.Scan(&e.ID, &e.ProjectPath, &runnerID, &taskID, &taskTitle, &sectionName,
			&e.Kind, &commitMessage, &commitSHA, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.RunnerID = runnerID.String
		e.TaskID = taskID.String
		e.TaskTitle = taskTitle.String
		e.CommitMessage = commitMessage.String
		e.CommitSHA = commitSHA.String
		e.SectionName = sectionName.String
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
		FROM credit_incidents WHERE provider = $1 AND model = $2 AND role = $3 AND resolved_at IS NULL
	`, provider, model, role)
	if existing, err := scanIncident(row); err == nil {
		return existing, tx.Commit()
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("incident-%d", now.UnixNano())
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_incidents (id, provider, model, role, message, runner_id, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, provider, model, role, message, runnerID, now); err != nil {
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
	var resolvedAt sql.NullTime
	if err := row.Scan(&inc.ID, &inc.Provider, &inc.Model, &inc.Role, &message, &runnerID, &inc.OpenedAt, &resolvedAt, &resolution); err != nil {
		return nil, err
	}
	inc.Message = message.String
	inc.RunnerID = runnerID.String
	if resolvedAt.Valid {
		inc.ResolvedAt = &resolvedAt.Time
	}
	inc.Resolution = registry.CreditResolution(resolution.String)
	return &inc, nil
}

func (b *Backend) ResolveCreditIncident(ctx context.Context, id string, resolution registry.CreditResolution) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE credit_incidents SET resolved_at = $1, resolution = $2 WHERE id = $3
	`, time.Now().UTC(), string(resolution), id)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
		FROM credit_incidents WHERE id = $1`, id)
	return scanIncident(row)
}
