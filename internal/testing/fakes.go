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

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/steroids-dev/steroids/internal/ports"
)

// Agent is a scriptable AgentInvoker fake. Set CoderFunc/ReviewerFunc to
// control behavior per call; unset funcs return a submitted-for-review
// CoderResult or an approve ReviewerResult respectively.
type Agent struct {
	mu sync.Mutex

	CoderFunc     func(ctx context.Context, taskID, projectPath string, action ports.TaskAction) (*ports.CoderResult, error)
	ReviewerFunc  func(ctx context.Context, taskID, projectPath string) (*ports.ReviewerResult, error)
	ClassifyFunc  func(err error) (*ports.CreditExhaustion, bool)
	CoderCalls    []string
	ReviewerCalls []string
}

func (a *Agent) InvokeCoder(ctx context.Context, taskID, projectPath string, action ports.TaskAction) (*ports.CoderResult, error) {
	a.mu.Lock()
	a.CoderCalls = append(a.CoderCalls, taskID)
	a.mu.Unlock()
	if a.CoderFunc != nil {
		return a.CoderFunc(ctx, taskID, projectPath, action)
	}
	return &ports.CoderResult{SubmittedForReview: true}, nil
}

func (a *Agent) InvokeReviewer(ctx context.Context, taskID, projectPath string) (*ports.ReviewerResult, error) {
	a.mu.Lock()
	a.ReviewerCalls = append(a.ReviewerCalls, taskID)
	a.mu.Unlock()
	if a.ReviewerFunc != nil {
		return a.ReviewerFunc(ctx, taskID, projectPath)
	}
	return &ports.ReviewerResult{Decision: ports.DecisionApprove}, nil
}

func (a *Agent) InvokeCoderBatch(ctx context.Context, taskIDs []string, projectPath string) ([]*ports.CoderResult, error) {
	results := make([]*ports.CoderResult, 0, len(taskIDs))
	for _, id := range taskIDs {
		r, err := a.InvokeCoder(ctx, id, projectPath, ports.ActionStart)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (a *Agent) InvokeReviewerBatch(ctx context.Context, taskIDs []string, projectPath string) ([]*ports.ReviewerResult, error) {
	results := make([]*ports.ReviewerResult, 0, len(taskIDs))
	for _, id := range taskIDs {
		r, err := a.InvokeReviewer(ctx, id, projectPath)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (a *Agent) Classify(err error) (*ports.CreditExhaustion, bool) {
	if a.ClassifyFunc != nil {
		return a.ClassifyFunc(err)
	}
	return nil, false
}

var _ ports.AgentInvoker = (*Agent)(nil)

// Git is an in-memory GitPort fake recording calls.
type Git struct {
	mu sync.Mutex

	CommitSHA string
	Tracked   map[string]bool
	PushCalls []string
	MergeFunc func(ctx context.Context, path, source, target string, opts ports.MergeOptions) (*ports.MergeResult, error)
	PushErr   error
}

func (g *Git) IsRepo(ctx context.Context, path string) (bool, error) { return true, nil }

func (g *Git) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	return false, nil
}

func (g *Git) IsFileTracked(ctx context.Context, path, file string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Tracked == nil {
		return false, nil
	}
	return g.Tracked[file], nil
}

func (g *Git) FileLastCommit(ctx context.Context, path, file string) (string, error) {
	return g.CommitSHA, nil
}

func (g *Git) FileContentHash(ctx context.Context, path, file string) (string, error) {
	return "", nil
}

func (g *Git) CurrentCommitSHA(ctx context.Context, path string) (string, error) {
	return g.CommitSHA, nil
}

func (g *Git) Push(ctx context.Context, path, branch, remote string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PushCalls = append(g.PushCalls, branch)
	return g.PushErr
}

func (g *Git) Merge(ctx context.Context, path, source, target string, opts ports.MergeOptions) (*ports.MergeResult, error) {
	if g.MergeFunc != nil {
		return g.MergeFunc(ctx, path, source, target, opts)
	}
	return &ports.MergeResult{Merged: true}, nil
}

var _ ports.GitPort = (*Git)(nil)

// Hooks is a HookDispatcher fake that records fired events.
type Hooks struct {
	mu     sync.Mutex
	Events []FiredEvent
}

// FiredEvent is one recorded Fire call.
type FiredEvent struct {
	Name    string
	Payload map[string]any
}

func (h *Hooks) Fire(ctx context.Context, event string, payload map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, FiredEvent{Name: event, Payload: payload})
}

func (h *Hooks) Recorded() []FiredEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FiredEvent, len(h.Events))
	copy(out, h.Events)
	return out
}

var _ ports.HookDispatcher = (*Hooks)(nil)

// Clock is a controllable Clock fake. Sleep advances the fake time instead
// of blocking, so loop tests run instantly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ ports.Clock = (*Clock)(nil)

// ProcessControl is a fake ProcessControl tracking spawned/killed pids.
type ProcessControl struct {
	mu      sync.Mutex
	nextPID int
	alive   map[int]bool
}

// NewProcessControl creates an empty ProcessControl fake.
func NewProcessControl() *ProcessControl {
	return &ProcessControl{nextPID: 1000, alive: make(map[int]bool)}
}

func (p *ProcessControl) SpawnDetached(ctx context.Context, cmd string, args []string, cwd string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid := p.nextPID
	p.nextPID++
	p.alive[pid] = true
	return pid, nil
}

func (p *ProcessControl) Kill(pid int, sig int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive[pid] {
		return fmt.Errorf("process %d not running", pid)
	}
	delete(p.alive, pid)
	return nil
}

func (p *ProcessControl) IsAlive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

func (p *ProcessControl) SelfPID() int { return 1 }

var _ ports.ProcessControl = (*ProcessControl)(nil)

// Filesystem is an in-memory Filesystem fake.
type Filesystem struct {
	mu      sync.Mutex
	dirs    map[string]bool
	entries map[string][]string
}

// NewFilesystem creates an empty Filesystem fake.
func NewFilesystem() *Filesystem {
	return &Filesystem{dirs: make(map[string]bool), entries: make(map[string][]string)}
}

func (f *Filesystem) Exists(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[path], nil
}

func (f *Filesystem) ReadDir(path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[path], nil
}

func (f *Filesystem) MkdirAll(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *Filesystem) RemoveAll(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, path)
	delete(f.entries, path)
	return nil
}

func (f *Filesystem) Realpath(path string) (string, error) { return path, nil }

var _ ports.Filesystem = (*Filesystem)(nil)
