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

// Package agentcli is a CLI-subprocess ports.AgentInvoker: it shells out to
// a configured coder/reviewer command per role (the way pkg/llm/providers/
// claudecode wraps the Claude Code CLI) and parses a JSON result object
// from the subprocess's stdout. The orchestrator core only depends on the
// AgentInvoker interface; this is one concrete wiring of it, not the only
// one an operator could configure.
package agentcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/steroids-dev/steroids/internal/config"
	"github.com/steroids-dev/steroids/internal/log"
	"github.com/steroids-dev/steroids/internal/ports"
)

// RoleCommand is the subprocess invocation template for one agent role.
type RoleCommand struct {
	Provider string
	Model    string
	// Command is the binary invoked; Args may contain the placeholders
	// {task_id}, {project_path}, {model}, {action}.
	Command string
	Args    []string
	Timeout time.Duration
}

// SecretResolver is the subset of internal/secrets.Resolver the invoker
// needs: resolving a provider's API key to inject into the subprocess
// environment rather than trusting the subprocess to have it configured.
type SecretResolver interface {
	Get(ctx context.Context, key string) (string, error)
}

// Config resolves provider/model/command per role.
type Config struct {
	Roles   map[string]RoleCommand
	Timeout time.Duration

	// Secrets resolves "providers/<provider>/api_key" per invocation and
	// injects it into the subprocess environment as <PROVIDER>_API_KEY,
	// the same alias internal/secrets.EnvBackend recognizes. Nil disables
	// resolution and the subprocess falls back to its own credential
	// discovery (env, keychain, CLI config).
	Secrets SecretResolver
	Logger  *slog.Logger
}

// Invoker is a production, subprocess-backed AgentInvoker.
type Invoker struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Invoker from cfg, applying a default per-call timeout.
func New(cfg Config) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{cfg: cfg, logger: logger.With(slog.String("component", "agentcli"))}
}

// FromAIConfig builds an Invoker's role table from the ai: section of the
// loaded config, defaulting Command/Args to an invocation of the provider
// name as a CLI binary with an `--output-format json` flag (the claude-code
// CLI's own convention).
func FromAIConfig(ai config.AIConfig) Config {
	roles := make(map[string]RoleCommand, len(ai))
	for role, rc := range ai {
		roles[role] = RoleCommand{
			Provider: rc.Provider,
			Model:    rc.Model,
			Command:  rc.Provider,
			Args:     []string{"run", "--model", rc.Model, "--output-format", "json", "--task", "{task_id}", "--project", "{project_path}"},
		}
	}
	return Config{Roles: roles}
}

// cliResult is the JSON object a coder/reviewer subprocess is expected to
// print on its final stdout line.
type cliResult struct {
	Decision           string `json:"decision"`
	Notes              string `json:"notes"`
	SubmittedForReview bool   `json:"submitted_for_review"`
	StoreMutated       bool   `json:"store_mutated"`
	CreditExhausted    bool   `json:"credit_exhausted"`
	Message            string `json:"message"`
}

type invokeError struct {
	role    string
	err     error
	credit  *ports.CreditExhaustion
	timeout bool
}

func (e *invokeError) Error() string {
	if e.credit != nil {
		return fmt.Sprintf("%s invocation reported credit exhaustion: %s", e.role, e.credit.Message)
	}
	return fmt.Sprintf("%s invocation failed: %v", e.role, e.err)
}

func (e *invokeError) Unwrap() error { return e.err }

func (i *Invoker) run(ctx context.Context, role, taskID, projectPath, action string) (*cliResult, ports.AgentResult, error) {
	rc, ok := i.cfg.Roles[role]
	if !ok {
		return nil, ports.AgentResult{}, &invokeError{role: role, err: fmt.Errorf("no command configured for role %q", role)}
	}
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = i.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, len(rc.Args))
	for idx, a := range rc.Args {
		a = strings.ReplaceAll(a, "{task_id}", taskID)
		a = strings.ReplaceAll(a, "{project_path}", projectPath)
		a = strings.ReplaceAll(a, "{model}", rc.Model)
		a = strings.ReplaceAll(a, "{action}", action)
		args[idx] = a
	}

	cmd := exec.CommandContext(runCtx, rc.Command, args...)
	cmd.Dir = projectPath
	cmd.Env = i.subprocessEnv(ctx, rc.Provider)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := ports.AgentResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
		TimedOut:   runCtx.Err() == context.DeadlineExceeded,
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}

	var parsed cliResult
	if line := lastNonEmptyLine(stdout.String()); line != "" {
		_ = json.Unmarshal([]byte(line), &parsed)
	}
	result.Notes = parsed.Notes

	if parsed.CreditExhausted {
		return &parsed, result, &invokeError{
			role: role,
			err:  fmt.Errorf("%s: %s", role, parsed.Message),
			credit: &ports.CreditExhaustion{
				Provider: rc.Provider,
				Model:    rc.Model,
				Role:     role,
				Message:  parsed.Message,
			},
		}
	}
	if runErr != nil {
		return &parsed, result, &invokeError{role: role, err: runErr, timeout: result.TimedOut}
	}
	return &parsed, result, nil
}

// subprocessEnv returns the environment the role's subprocess runs under:
// the parent process's environment plus, if a resolver is configured, the
// provider's API key under its conventional alias (e.g. ANTHROPIC_API_KEY)
// so the CLI doesn't need its own credential lookup configured. Resolution
// failures are logged at debug and otherwise ignored: many provider CLIs
// already read credentials from their own config or keychain.
func (i *Invoker) subprocessEnv(ctx context.Context, provider string) []string {
	env := os.Environ()
	if i.cfg.Secrets == nil || provider == "" {
		return env
	}
	key, err := i.cfg.Secrets.Get(ctx, fmt.Sprintf("providers/%s/api_key", provider))
	if err != nil {
		i.logger.Debug("no resolved secret for provider, relying on subprocess's own credential discovery",
			slog.String("provider", provider), slog.Any("error", err))
		return env
	}
	i.logger.Debug("injecting resolved provider credential into subprocess environment",
		slog.String("provider", provider), slog.String("key_suffix", log.SanitizeAPIKey(key)))
	return append(env, strings.ToUpper(provider)+"_API_KEY="+key)
}

// InvokeCoder shells out to the configured coder command for task taskID.
func (i *Invoker) InvokeCoder(ctx context.Context, taskID, projectPath string, action ports.TaskAction) (*ports.CoderResult, error) {
	parsed, base, err := i.run(ctx, "coder", taskID, projectPath, string(action))
	res := &ports.CoderResult{AgentResult: base}
	if parsed != nil {
		res.SubmittedForReview = parsed.SubmittedForReview
	}
	return res, err
}

// InvokeReviewer shells out to the configured reviewer command for task taskID.
func (i *Invoker) InvokeReviewer(ctx context.Context, taskID, projectPath string) (*ports.ReviewerResult, error) {
	parsed, base, err := i.run(ctx, "reviewer", taskID, projectPath, "")
	res := &ports.ReviewerResult{AgentResult: base}
	if parsed != nil {
		res.Decision = ports.ReviewDecision(parsed.Decision)
		res.StoreMutated = parsed.StoreMutated
	}
	return res, err
}

// InvokeCoderBatch runs InvokeCoder across taskIDs sequentially; the
// coder CLI itself is not assumed to support batching.
func (i *Invoker) InvokeCoderBatch(ctx context.Context, taskIDs []string, projectPath string) ([]*ports.CoderResult, error) {
	out := make([]*ports.CoderResult, 0, len(taskIDs))
	for _, id := range taskIDs {
		res, err := i.InvokeCoder(ctx, id, projectPath, "")
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// InvokeReviewerBatch runs InvokeReviewer across taskIDs sequentially.
func (i *Invoker) InvokeReviewerBatch(ctx context.Context, taskIDs []string, projectPath string) ([]*ports.ReviewerResult, error) {
	out := make([]*ports.ReviewerResult, 0, len(taskIDs))
	for _, id := range taskIDs {
		res, err := i.InvokeReviewer(ctx, id, projectPath)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Classify reports whether err wraps a credit-exhaustion signal from run.
func (i *Invoker) Classify(err error) (*ports.CreditExhaustion, bool) {
	var ie *invokeError
	if errors.As(err, &ie) && ie.credit != nil {
		return ie.credit, true
	}
	return nil, false
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for idx := len(lines) - 1; idx >= 0; idx-- {
		trimmed := strings.TrimSpace(lines[idx])
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ ports.AgentInvoker = (*Invoker)(nil)
