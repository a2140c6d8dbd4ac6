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

package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// WakeupAdvisoryLockID is the Postgres advisory lock ID guarding a single
// exclusive Wakeup pass across a multi-runner fleet.
const WakeupAdvisoryLockID int64 = 0x7374726f696473 // "stroids" truncated to fit int64

// Elector holds the wakeup advisory lock so only one host in a fleet runs
// the Wakeup pass at a time.
type Elector struct {
	db         *sql.DB
	instanceID string
	isLeader   bool
	mu         sync.RWMutex
	stopCh     chan struct{}
	doneCh     chan struct{}
	callbacks  []func(isLeader bool)
	logger     *slog.Logger

	retryInterval time.Duration
}

// ElectorConfig configures a new Elector.
type ElectorConfig struct {
	DB            *sql.DB
	InstanceID    string
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// NewElector creates a wakeup leader elector bound to db.
func NewElector(cfg ElectorConfig) *Elector {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Elector{
		db:         cfg.DB,
		instanceID: cfg.InstanceID,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger.With(slog.String("component", "wakeup_leader"), slog.String("instance_id", cfg.InstanceID)),

		retryInterval: cfg.RetryInterval,
	}
}

// Start begins the election loop in a background goroutine.
func (e *Elector) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop ends the election loop and releases the lock if held.
func (e *Elector) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// IsLeader reports whether this instance currently holds the wakeup lock.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// OnLeadershipChange registers a callback fired whenever leadership flips.
func (e *Elector) OnLeadershipChange(callback func(isLeader bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, callback)
}

func (e *Elector) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.retryInterval)
	defer ticker.Stop()

	e.tryAcquire(ctx)

	for {
		select {
		case <-ctx.Done():
			e.release(ctx)
			return
		case <-e.stopCh:
			e.release(ctx)
			return
		case <-ticker.C:
			if !e.IsLeader() {
				e.tryAcquire(ctx)
			} else if !e.verify(ctx) {
				e.setLeader(false)
				e.logger.Warn("lost wakeup leadership, will retry")
			}
		}
	}
}

func (e *Elector) tryAcquire(ctx context.Context) {
	var acquired bool
	if err := e.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", WakeupAdvisoryLockID).Scan(&acquired); err != nil {
		e.logger.Error("failed to acquire wakeup leadership", slog.Any("error", err))
		return
	}
	if acquired {
		e.setLeader(true)
		e.logger.Info("acquired wakeup leadership")
	}
}

func (e *Elector) verify(ctx context.Context) bool {
	var holding bool
	err := e.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory'
			AND classid = ($1 >> 32)::int
			AND objid = ($1 & 4294967295)::int
			AND pid = pg_backend_pid()
		)
	`, WakeupAdvisoryLockID).Scan(&holding)
	if err != nil {
		e.logger.Error("failed to verify wakeup leadership", slog.Any("error", err))
		return false
	}
	return holding
}

func (e *Elector) release(ctx context.Context) {
	if !e.IsLeader() {
		return
	}
	if _, err := e.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", WakeupAdvisoryLockID); err != nil {
		e.logger.Error("failed to release wakeup leadership", slog.Any("error", err))
	}
	e.setLeader(false)
	e.logger.Info("released wakeup leadership")
}

func (e *Elector) setLeader(isLeader bool) {
	e.mu.Lock()
	was := e.isLeader
	e.isLeader = isLeader
	callbacks := make([]func(bool), len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	if was != isLeader {
		for _, cb := range callbacks {
			cb(isLeader)
		}
	}
}
