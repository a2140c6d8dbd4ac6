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

// Package hook is the production ports.HookDispatcher: a best-effort,
// fire-and-forget POST of the event payload to a configured webhook URL.
// Setting STEROIDS_NO_HOOKS disables dispatch entirely; failures are
// logged and never propagate to the caller.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/steroids-dev/steroids/internal/ports"
)

// NoHooksEnvVar disables all hook dispatch when set to a non-empty value.
const NoHooksEnvVar = "STEROIDS_NO_HOOKS"

// Config wires a Dispatcher to its webhook target and optional AWS identity
// enrichment.
type Config struct {
	URL                   string
	Timeout               time.Duration
	EnrichWithAWSIdentity bool
	Logger                *slog.Logger
	Client                *http.Client
}

// Dispatcher is the production HookDispatcher. It posts a JSON body
// {"event": ..., "payload": ...} to Config.URL and never returns an error
// to the caller — Fire logs failures and moves on so a broken webhook
// never stalls the orchestrator loop.
type Dispatcher struct {
	cfg      Config
	client   *http.Client
	logger   *slog.Logger
	disabled bool

	identityOnce sync.Once
	identity     string
}

// New creates a Dispatcher. Dispatch is a no-op when STEROIDS_NO_HOOKS is
// set or cfg.URL is empty.
func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		logger:   logger.With(slog.String("component", "hook")),
		disabled: os.Getenv(NoHooksEnvVar) != "" || cfg.URL == "",
	}
}

// Fire posts event/payload to the configured webhook URL and waits for the
// response, for at most Config.Timeout. It never returns an error: failures
// are logged only. The orchestrator and the credit pauser call it in their
// own goroutine.
func (d *Dispatcher) Fire(ctx context.Context, event string, payload map[string]any) {
	if d.disabled {
		return
	}

	body := map[string]any{
		"event":     event,
		"payload":   payload,
		"fired_at":  time.Now().UTC(),
	}
	if d.cfg.EnrichWithAWSIdentity {
		if id := d.awsIdentity(ctx); id != "" {
			body["aws_identity"] = id
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		d.logger.Error("failed to encode hook payload", slog.Any("error", err), slog.String("event", event))
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.cfg.URL, bytes.NewReader(encoded))
	if err != nil {
		d.logger.Error("failed to build hook request", slog.Any("error", err), slog.String("event", event))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("hook dispatch failed", slog.Any("error", err), slog.String("event", event))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Warn("hook endpoint rejected event",
			slog.String("event", event), slog.Int("status", resp.StatusCode))
	}
}

// awsIdentity resolves and caches the invoking AWS identity (via STS
// GetCallerIdentity) to tag activity events when running in CI. It is
// best-effort: any failure leaves the identity blank rather than failing
// the hook.
func (d *Dispatcher) awsIdentity(ctx context.Context) string {
	d.identityOnce.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			d.logger.Debug("aws identity enrichment unavailable", slog.Any("error", err))
			return
		}
		client := sts.NewFromConfig(cfg)
		callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		out, err := client.GetCallerIdentity(callCtx, &sts.GetCallerIdentityInput{})
		if err != nil {
			d.logger.Debug("sts get-caller-identity failed", slog.Any("error", err))
			return
		}
		d.identity = fmt.Sprintf("%s:%s", aws.ToString(out.Account), aws.ToString(out.Arn))
	})
	return d.identity
}

var _ ports.HookDispatcher = (*Dispatcher)(nil)
