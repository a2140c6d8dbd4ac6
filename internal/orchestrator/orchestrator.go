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

// Package orchestrator runs the single-project Coder/Reviewer loop: select a
// task, dispatch the right agent phase, record activity, advance git state
// on approval. It composes a StateMachine (CAS transitions + audit), a
// Phases dispatcher (coder/reviewer invocation) and an Activity recorder,
// the way a composed runner splits state/lifecycle/log concerns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steroids-dev/steroids/internal/credit"
	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/selector"
	"github.com/steroids-dev/steroids/internal/store"
	errs "github.com/steroids-dev/steroids/pkg/errors"
)

// DefaultBackoff is the sleep between loop iterations when there is no
// immediate follow-up work.
const DefaultBackoff = time.Second

// Metrics is the subset of internal/tracing.MetricsCollector the loop needs;
// expressed narrowly so tests can supply a no-op implementation.
type Metrics interface {
	RecordPhaseComplete(ctx context.Context, project, phase, status string, duration time.Duration)
}

// Config wires a Loop to its project and collaborators.
type Config struct {
	ProjectPath  string
	RunnerID     string
	Branch       string
	FocusSection string
	Predicate    string
	Backoff      time.Duration

	Store    store.Backend
	Registry registry.Backend
	Agent    ports.AgentInvoker
	Git      ports.GitPort
	Hooks    ports.HookDispatcher
	Clock    ports.Clock
	Credit   *credit.Pauser
	Metrics  Metrics
	Logger   *slog.Logger
}

// Loop drives one project's orchestrator loop.
type Loop struct {
	cfg      Config
	logger   *slog.Logger
	sm       *StateMachine
	activity *Activity
}

// New creates a Loop from cfg, applying defaults for unset fields.
func New(cfg Config) *Loop {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "orchestrator"), slog.String("project", cfg.ProjectPath))
	return &Loop{
		cfg:      cfg,
		logger:   logger,
		sm:       NewStateMachine(cfg.Store),
		activity: NewActivity(cfg.Registry, cfg.Hooks, logger),
	}
}

// Run executes the loop until shouldStop reports true or ctx is cancelled.
func (l *Loop) Run(ctx context.Context, shouldStop func() bool) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if shouldStop() {
			l.logger.Info("stop requested, terminating loop")
			return nil
		}

		project, err := l.cfg.Registry.GetProject(ctx, l.cfg.ProjectPath)
		if err != nil {
			return fmt.Errorf("failed to load project: %w", err)
		}
		if !project.Enabled {
			l.logger.Info("project disabled, terminating loop")
			return nil
		}

		tasks, err := l.cfg.Store.ListTasks(ctx, store.TaskFilter{})
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		sections, err := l.cfg.Store.ListSections(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sections: %w", err)
		}

		result, inconsistencies, ok := selector.SelectNext(tasks, sections, selector.Filter{FocusSection: l.cfg.FocusSection, Predicate: l.cfg.Predicate})
		for _, inc := range inconsistencies {
			l.logger.Warn("selector inconsistency", slog.String("task_id", inc.TaskID), slog.String("reason", inc.Reason))
		}
		if !ok {
			l.logger.Info("no actionable task, all complete")
			return nil
		}

		if err := l.dispatch(ctx, result.Task, result.Action); err != nil {
			if _, isCredit := asCreditExhaustion(err); isCredit {
				if perr := l.pauseForCredit(ctx, err, shouldStop); perr != nil {
					return perr
				}
				continue
			}
			l.logger.Error("phase dispatch failed", slog.Any("error", err), slog.String("task_id", result.Task.ID))
		}

		l.sleep(ctx)
	}
}

func (l *Loop) sleep(ctx context.Context) {
	if l.cfg.Clock != nil {
		l.cfg.Clock.Sleep(l.cfg.Backoff)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(l.cfg.Backoff):
	}
}

func asCreditExhaustion(err error) (*errs.CreditExhaustionError, bool) {
	var ce *errs.CreditExhaustionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func (l *Loop) pauseForCredit(ctx context.Context, err error, shouldStop func() bool) error {
	ce, _ := asCreditExhaustion(err)
	if l.cfg.Credit == nil {
		return fmt.Errorf("credit exhaustion encountered but no pauser configured: %w", err)
	}
	outcome, perr := l.cfg.Credit.Pause(ctx, credit.PauseRequest{
		Provider: ce.Provider,
		Model:    ce.Model,
		Role:     ce.Role,
		Message:  ce.Message,
		RunnerID: l.cfg.RunnerID,
	}, shouldStop)
	if perr != nil {
		return fmt.Errorf("credit pause failed: %w", perr)
	}
	l.logger.Info("credit pause resolved", slog.Bool("resolved", outcome.Resolved), slog.String("resolution", string(outcome.Resolution)))
	if outcome.Resolution == credit.ResolutionImmediateFail {
		// The daemon loop's pauser must block until stopped or reconfigured;
		// immediate_fail only comes from a Once pauser, which is a
		// misconfiguration here, not a result to shrug off and re-dispatch
		// against the same exhausted agent.
		return fmt.Errorf("credit pause returned immediate_fail in a daemon loop: pauser is misconfigured for Once mode")
	}
	return nil
}
