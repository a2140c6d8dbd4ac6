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

// Package selector picks the next task an orchestrator loop should act on.
// It is a pure function over an in-memory snapshot of tasks and sections; it
// performs no I/O itself, mirroring the cron-ordering style of comparable
// scheduler packages in this codebase.
package selector

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/steroids-dev/steroids/internal/ports"
	"github.com/steroids-dev/steroids/internal/store"
)

// Filter narrows candidate tasks to a single section and/or an expression
// predicate.
//
// FocusSection is matched as a doublestar glob against each task's section
// ID, so "auth-*" selects every section whose ID starts with "auth-" as well
// as an exact "auth-api" match.
//
// Predicate, if set, is an expr-lang boolean expression evaluated against
// each candidate task (exposed as "task", a *store.Task) and its section
// (exposed as "section", a *store.Section, nil if the task has no matching
// section). A task is only selected when the expression evaluates to true.
type Filter struct {
	FocusSection string
	Predicate    string
}

// compilePredicate compiles expr once per SelectNext/SelectBatch call so a
// malformed expression fails loudly instead of silently excluding every
// task.
func compilePredicate(predicate string) (*vm.Program, error) {
	if predicate == "" {
		return nil, nil
	}
	program, err := expr.Compile(predicate, expr.Env(predicateEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid section predicate %q: %w", predicate, err)
	}
	return program, nil
}

type predicateEnv struct {
	Task    *store.Task
	Section *store.Section
}

func matchesPredicate(program *vm.Program, t *store.Task, sec *store.Section) (bool, error) {
	if program == nil {
		return true, nil
	}
	out, err := expr.Run(program, predicateEnv{Task: t, Section: sec})
	if err != nil {
		return false, fmt.Errorf("section predicate evaluation failed: %w", err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

func matchesFocusSection(focusSection, sectionID string) bool {
	if focusSection == "" {
		return true
	}
	matched, err := doublestar.Match(focusSection, sectionID)
	if err != nil {
		// An unparseable glob falls back to exact comparison rather than
		// silently matching everything or nothing.
		return sectionID == focusSection
	}
	return matched
}

// Inconsistency is emitted when the selector encounters a task that should
// already have been recovered (e.g. a stale in_progress task past the
// rejection ceiling) rather than returned as a candidate.
type Inconsistency struct {
	TaskID string
	Reason string
}

// Result is what SelectNext returns: a task, the action to take on it, or
// neither (done is false).
type Result struct {
	Task   *store.Task
	Action ports.TaskAction
}

var statusRank = map[store.TaskStatus]int{
	store.StatusReview:     0,
	store.StatusInProgress: 1,
	store.StatusPending:    2,
}

var actionForStatus = map[store.TaskStatus]ports.TaskAction{
	store.StatusPending:    ports.ActionStart,
	store.StatusInProgress: ports.ActionResume,
	store.StatusReview:     ports.ActionReview,
}

// SelectNext picks the highest-priority actionable task across tasks and
// sections. It returns ok=false when nothing is actionable.
func SelectNext(tasks []*store.Task, sections []*store.Section, filter Filter) (result Result, inconsistencies []Inconsistency, ok bool) {
	sectionByID := indexSections(sections)
	blocked := blockedSections(sectionByID, tasks)

	program, err := compilePredicate(filter.Predicate)
	if err != nil {
		inconsistencies = append(inconsistencies, Inconsistency{Reason: err.Error()})
		return Result{}, inconsistencies, false
	}

	candidates := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		sec, hasSection := sectionByID[t.SectionID]
		if hasSection && sec.Skipped {
			continue
		}
		if blocked[t.SectionID] {
			continue
		}
		if !matchesFocusSection(filter.FocusSection, t.SectionID) {
			continue
		}
		matched, err := matchesPredicate(program, t, sec)
		if err != nil {
			inconsistencies = append(inconsistencies, Inconsistency{TaskID: t.ID, Reason: err.Error()})
			continue
		}
		if !matched {
			continue
		}

		switch t.Status {
		case store.StatusPending, store.StatusInProgress, store.StatusReview:
			if t.Status == store.StatusInProgress && t.RejectionCount >= store.MaxRejections {
				inconsistencies = append(inconsistencies, Inconsistency{
					TaskID: t.ID,
					Reason: "stale in_progress task at or past rejection ceiling",
				})
				continue
			}
			candidates = append(candidates, t)
		default:
			continue
		}
	}

	if len(candidates) == 0 {
		return Result{}, inconsistencies, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j], sectionByID)
	})

	best := candidates[0]
	return Result{Task: best, Action: actionForStatus[best.Status]}, inconsistencies, true
}

// BatchResult is the outcome of SelectBatch.
type BatchResult struct {
	Section *store.Section
	Tasks   []*store.Task
}

// SelectBatch picks the highest-priority non-skipped, unblocked section with
// at least one pending task and returns up to maxSize of its pending tasks
// in selection order. It is disabled (returns ok=false) when focusSection is
// set, since batch mode and single-section focus are mutually exclusive.
func SelectBatch(tasks []*store.Task, sections []*store.Section, maxSize int, focusSection string) (result BatchResult, ok bool) {
	if focusSection != "" {
		return BatchResult{}, false
	}

	sectionByID := indexSections(sections)
	blocked := blockedSections(sectionByID, tasks)

	pendingBySection := make(map[string][]*store.Task)
	for _, t := range tasks {
		if t.Status != store.StatusPending {
			continue
		}
		sec, hasSection := sectionByID[t.SectionID]
		if hasSection && sec.Skipped {
			continue
		}
		if blocked[t.SectionID] {
			continue
		}
		pendingBySection[t.SectionID] = append(pendingBySection[t.SectionID], t)
	}
	if len(pendingBySection) == 0 {
		return BatchResult{}, false
	}

	var eligible []*store.Section
	for id := range pendingBySection {
		if sec, found := sectionByID[id]; found {
			eligible = append(eligible, sec)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Position != eligible[j].Position {
			return eligible[i].Position < eligible[j].Position
		}
		return eligible[i].Priority < eligible[j].Priority
	})

	chosen := eligible[0]
	batch := pendingBySection[chosen.ID]
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].CreatedAt.Equal(batch[j].CreatedAt) {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		}
		return batch[i].ID < batch[j].ID
	})
	if maxSize > 0 && len(batch) > maxSize {
		batch = batch[:maxSize]
	}
	return BatchResult{Section: chosen, Tasks: batch}, true
}

func indexSections(sections []*store.Section) map[string]*store.Section {
	out := make(map[string]*store.Section, len(sections))
	for _, s := range sections {
		out[s.ID] = s
	}
	return out
}

// blockedSections returns the set of section IDs that have at least one
// dependency section with a remaining pending|in_progress|review task.
func blockedSections(sectionByID map[string]*store.Section, tasks []*store.Task) map[string]bool {
	remaining := make(map[string]bool)
	for _, t := range tasks {
		switch t.Status {
		case store.StatusPending, store.StatusInProgress, store.StatusReview:
			remaining[t.SectionID] = true
		}
	}

	blocked := make(map[string]bool)
	for _, sec := range sectionByID {
		for _, dep := range sec.DependsOn {
			if remaining[dep] {
				blocked[sec.ID] = true
				break
			}
		}
	}
	return blocked
}

func less(a, b *store.Task, sectionByID map[string]*store.Section) bool {
	ra, rb := statusRank[a.Status], statusRank[b.Status]
	if ra != rb {
		return ra < rb
	}

	secA, okA := sectionByID[a.SectionID]
	secB, okB := sectionByID[b.SectionID]
	posA, prioA := 0, 0
	if okA {
		posA, prioA = secA.Position, secA.Priority
	}
	posB, prioB := 0, 0
	if okB {
		posB, prioB = secB.Position, secB.Priority
	}
	if posA != posB {
		return posA < posB
	}
	if prioA != prioB {
		return prioA < prioB
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
