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

// Package credit implements the pause protocol an orchestrator loop enters
// when an agent invocation is classified as credit exhaustion: record an
// incident, notify, then poll in short slices until a configuration change
// resolves it or the runner is asked to stop.
package credit

import (
	"context"
	"log/slog"
	"time"

	"github.com/steroids-dev/steroids/internal/registry"
	"github.com/steroids-dev/steroids/internal/ports"
)

const maxMessageLen = 200

// DefaultPollSlice is the pause loop's sleep-and-recheck cadence. The loop
// itself has no total-duration ceiling: it runs until shouldStop fires or
// the configured provider/model for the role changes.
const DefaultPollSlice = 2 * time.Second

// PauseRequest describes the credit-exhaustion episode that triggered a
// pause.
type PauseRequest struct {
	Provider string
	Model    string
	Role     string
	Message  string
	RunnerID string
}

// Resolution classifies how a pause ended.
type Resolution string

const (
	ResolutionConfigChanged Resolution = "config_changed"
	ResolutionStopped       Resolution = "stopped"
	ResolutionImmediateFail Resolution = "immediate_fail"
)

// Outcome is what a Pause call returns.
type Outcome struct {
	Resolved   bool
	Resolution Resolution
}

// ConfigProvider re-reads the configured provider/model pair for a role so
// the pause loop can detect an operator's fix without restarting the runner.
type ConfigProvider interface {
	ProviderModel(role string) (provider, model string)
}

// Config wires a Pauser to its collaborators.
type Config struct {
	Registry       registry.Backend
	Hooks          ports.HookDispatcher
	Clock          ports.Clock
	ProviderConfig ConfigProvider
	// Heartbeat, when set, is called once per poll slice so Wakeup does not
	// reap the paused runner as dead.
	Heartbeat func(ctx context.Context)
	// Once restricts Pause to the behavior used by single-pass (non-daemon)
	// invocations: record, notify, then return immediately without polling.
	Once bool
	// PollSlice overrides the default; tests shrink this to avoid real sleeps.
	PollSlice time.Duration
	Logger    *slog.Logger
}

// Pauser runs the credit-exhaustion pause protocol.
type Pauser struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pauser.
func New(cfg Config) *Pauser {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollSlice <= 0 {
		cfg.PollSlice = DefaultPollSlice
	}
	return &Pauser{cfg: cfg, logger: logger.With(slog.String("component", "credit"))}
}

func sanitize(message string) string {
	if len(message) <= maxMessageLen {
		return message
	}
	return message[:maxMessageLen]
}

// Pause runs the pause protocol for req, returning once resolved, stopped,
// or (in --once mode) immediately after recording the incident. shouldStop
// is polled once per sleep slice so a runner shutdown can cut the pause
// short, per the daemon's own stop signal.
func (p *Pauser) Pause(ctx context.Context, req PauseRequest, shouldStop func() bool) (Outcome, error) {
	message := sanitize(req.Message)

	incident, err := p.cfg.Registry.RecordCreditIncident(ctx, req.Provider, req.Model, req.Role, message, req.RunnerID)
	if err != nil {
		return Outcome{}, err
	}

	if p.cfg.Hooks != nil {
		go p.cfg.Hooks.Fire(context.Background(), "credit.exhausted", map[string]any{
			"provider":    req.Provider,
			"model":       req.Model,
			"role":        req.Role,
			"message":     message,
			"incident_id": incident.ID,
		})
	}

	p.logger.Warn("credit exhaustion detected",
		slog.String("provider", req.Provider), slog.String("model", req.Model), slog.String("role", req.Role))

	if p.cfg.Once {
		return Outcome{Resolved: false, Resolution: ResolutionImmediateFail}, nil
	}

	return p.poll(ctx, req, incident.ID, shouldStop)
}

// poll sleeps in PollSlice increments, checking shouldStop and the
// configured provider/model each slice, for as long as the pause remains
// unresolved. It never gives up on its own: only a stop request or a real
// config change ends the loop.
func (p *Pauser) poll(ctx context.Context, req PauseRequest, incidentID string, shouldStop func() bool) (Outcome, error) {
	for {
		if ctx.Err() != nil || (shouldStop != nil && shouldStop()) {
			_ = p.cfg.Registry.ResolveCreditIncident(ctx, incidentID, registry.ResolutionDismissed)
			return Outcome{Resolved: false, Resolution: ResolutionStopped}, nil
		}

		p.sleep(p.cfg.PollSlice)

		if p.cfg.Heartbeat != nil {
			p.cfg.Heartbeat(ctx)
		}

		if p.cfg.ProviderConfig != nil {
			provider, model := p.cfg.ProviderConfig.ProviderModel(req.Role)
			if provider != req.Provider || model != req.Model {
				if err := p.cfg.Registry.ResolveCreditIncident(ctx, incidentID, registry.ResolutionConfigChanged); err != nil {
					return Outcome{}, err
				}
				if p.cfg.Hooks != nil {
					go p.cfg.Hooks.Fire(context.Background(), "credit.resolved", map[string]any{
						"incident_id": incidentID,
						"provider":    provider,
						"model":       model,
					})
				}
				p.logger.Info("credit exhaustion resolved by config change",
					slog.String("role", req.Role), slog.String("new_provider", provider), slog.String("new_model", model))
				return Outcome{Resolved: true, Resolution: ResolutionConfigChanged}, nil
			}
		}
	}
}

func (p *Pauser) sleep(d time.Duration) {
	if p.cfg.Clock != nil {
		p.cfg.Clock.Sleep(d)
		return
	}
	time.Sleep(d)
}
