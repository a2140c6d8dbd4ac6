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

package orchestrator

import (
	"context"
	"fmt"

	"github.com/steroids-dev/steroids/internal/store"
	errs "github.com/steroids-dev/steroids/pkg/errors"
)

// legalTransitions enumerates the fixed task lifecycle. A transition not
// listed here is rejected before it reaches the store's own CAS guard.
var legalTransitions = map[store.TaskStatus]map[store.TaskStatus]bool{
	store.StatusPending: {
		store.StatusInProgress: true,
		store.StatusSkipped:    true,
		store.StatusPartial:    true,
	},
	store.StatusInProgress: {
		store.StatusReview:     true,
		store.StatusInProgress: true, // rejection loop
		store.StatusFailed:     true,
		store.StatusDisputed:   true,
		store.StatusSkipped:    true,
		store.StatusPartial:    true,
	},
	store.StatusReview: {
		store.StatusCompleted:  true,
		store.StatusInProgress: true,
		store.StatusDisputed:   true,
		store.StatusFailed:     true,
	},
	store.StatusCompleted: {},
	store.StatusSkipped: {
		store.StatusPending: true,
	},
	store.StatusPartial: {
		store.StatusPending: true,
	},
	store.StatusFailed: {
		store.StatusPending: true,
	},
	store.StatusDisputed: {
		store.StatusInProgress: true,
		store.StatusCompleted:  true,
	},
}

// isLegalTransition reports whether moving a task from `from` to `to` is
// permitted by the fixed lifecycle.
func isLegalTransition(from, to store.TaskStatus) bool {
	if from == to {
		return false
	}
	targets, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// StateMachine wraps a project store with the legal-transition guard and a
// uniform commit-sha-aware audit notes format.
type StateMachine struct {
	store store.Backend
}

// NewStateMachine wraps backend.
func NewStateMachine(backend store.Backend) *StateMachine {
	return &StateMachine{store: backend}
}

// Transition performs a legality check, then delegates to the store's own
// CAS transition.
func (sm *StateMachine) Transition(ctx context.Context, taskID string, from, to store.TaskStatus, actor, notes, commitSHA string) error {
	if !isLegalTransition(from, to) {
		return &errs.ValidationError{Field: "status", Message: fmt.Sprintf("%s -> %s is not a legal transition", from, to)}
	}
	return sm.store.Transition(ctx, taskID, from, to, actor, notes, commitSHA)
}

// Approve moves a reviewed task to completed.
func (sm *StateMachine) Approve(ctx context.Context, taskID, actor, commitSHA string) error {
	return sm.store.ApproveTask(ctx, taskID, actor, commitSHA)
}

// Reject bounces a task back to in_progress, or to failed at the ceiling.
func (sm *StateMachine) Reject(ctx context.Context, taskID, actor, notes string) error {
	return sm.store.RejectTask(ctx, taskID, actor, notes)
}

// Dispute moves a task into the disputed state from either in_progress or
// review.
func (sm *StateMachine) Dispute(ctx context.Context, task *store.Task, actor, notes string) error {
	return sm.Transition(ctx, task.ID, task.Status, store.StatusDisputed, actor, notes, "")
}
