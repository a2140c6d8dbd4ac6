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

// Package config loads and validates the steroids configuration: runner
// behavior, section batching, per-role AI provider/model assignment, git
// remote/branch, and stuck-task recovery thresholds. Values are enumerated
// explicitly by design — there is no
// dynamic lookup-by-string-path.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete steroids configuration.
type Config struct {
	Version int `yaml:"version,omitempty"`

	Log      LogConfig      `yaml:"log"`
	Runners  RunnersConfig  `yaml:"runners"`
	Sections SectionsConfig `yaml:"sections"`
	AI       AIConfig       `yaml:"ai"`
	Git      GitConfig      `yaml:"git"`
	Recovery RecoveryConfig `yaml:"recovery"`

	Registry RegistryConfig `yaml:"registry"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Admin    AdminConfig    `yaml:"admin"`
}

// RunnersConfig configures the per-project runner daemon and its parallel
// workstream sessions.
type RunnersConfig struct {
	DaemonLogs bool                  `yaml:"daemonLogs"`
	Parallel   RunnersParallelConfig `yaml:"parallel"`

	// StaleThresholdSeconds is how long a runner may go without a heartbeat
	// before Wakeup reaps it (default 2 min).
	StaleThresholdSeconds int `yaml:"staleThresholdSeconds,omitempty"`
}

// RunnersParallelConfig configures parallel workstream fan-out.
type RunnersParallelConfig struct {
	WorkspaceRoot     string `yaml:"workspaceRoot"`
	ValidationCommand string `yaml:"validationCommand,omitempty"`
	CleanupOnSuccess  bool   `yaml:"cleanupOnSuccess"`

	// LeaseTTLSeconds is the workstream lease duration, refreshed on
	// heartbeat (default 10 min).
	LeaseTTLSeconds int `yaml:"leaseTTLSeconds,omitempty"`
}

// SectionsConfig configures the Task Selector's batch mode.
type SectionsConfig struct {
	BatchMode    bool `yaml:"batchMode"`
	MaxBatchSize int  `yaml:"maxBatchSize"`
}

// AIRoleConfig names the provider/model pair invoked for one agent role
// (coder, reviewer, ...) via ports.AgentInvoker.
type AIRoleConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// AIConfig maps agent roles to their provider/model assignment. Read with
// AIConfig.Role, never by free-form string path.
type AIConfig map[string]AIRoleConfig

// Role looks up the provider/model pair for a role, returning ok=false if
// unconfigured.
func (a AIConfig) Role(role string) (AIRoleConfig, bool) {
	rc, ok := a[role]
	return rc, ok
}

// GitConfig configures the remote/branch GitPort pushes approved work to.
type GitConfig struct {
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`
}

// RecoveryConfig configures Wakeup's stuck-task recovery heuristics.
type RecoveryConfig struct {
	MaxIncidentsPerHour    int `yaml:"maxIncidentsPerHour"`
	StuckInProgressAgeMs   int `yaml:"stuckInProgressAgeMs"`
	StuckReviewAgeMs       int `yaml:"stuckReviewAgeMs"`
}

// RegistryConfig configures the Global Registry backend.
type RegistryConfig struct {
	Backend     string `yaml:"backend"` // "sqlite" or "postgres"
	SQLitePath  string `yaml:"sqlitePath,omitempty"`
	PostgresURL string `yaml:"postgresUrl,omitempty"`
}

// HooksConfig configures the HookDispatcher's outbound targets.
type HooksConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url,omitempty"`
	TimeoutMs   int           `yaml:"timeoutMs,omitempty"`
	EnrichWithAWSIdentity bool `yaml:"enrichWithAwsIdentity"`
}

// TracingConfig configures OpenTelemetry export for the orchestrator loop.
type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLPEndpoint   string `yaml:"otlpEndpoint,omitempty"`
	ServiceName    string `yaml:"serviceName,omitempty"`
	SampleRatio    float64 `yaml:"sampleRatio,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint on the daemon.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// SecretsConfig configures the credential backend behind AgentInvoker's
// provider API keys.
type SecretsConfig struct {
	Backend string `yaml:"backend"` // "keychain", "env", or "file"
	Path    string `yaml:"path,omitempty"`
}

// AdminConfig configures steroidsd's admin HTTP surface: an unauthenticated
// /healthz liveness probe and a bearer-token-protected /admin/sweep that
// triggers a Wakeup pass on demand (see internal/admin). Disabled by
// default; operators opt in by setting a signing secret.
type AdminConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen,omitempty"`
	SigningSecret string `yaml:"signingSecret,omitempty"`
	TokenTTLSeconds int  `yaml:"tokenTtlSeconds,omitempty"`
}

// LogConfig configures structured logging (see internal/log).
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"addSource"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Runners: RunnersConfig{
			DaemonLogs:            true,
			StaleThresholdSeconds: 120,
			Parallel: RunnersParallelConfig{
				WorkspaceRoot:    defaultWorkspaceRoot(),
				CleanupOnSuccess: true,
				LeaseTTLSeconds:  600,
			},
		},
		Sections: SectionsConfig{
			BatchMode:    false,
			MaxBatchSize: 5,
		},
		AI: AIConfig{
			"coder":    {Provider: "anthropic", Model: "claude-sonnet-4"},
			"reviewer": {Provider: "anthropic", Model: "claude-sonnet-4"},
		},
		Git: GitConfig{
			Remote: "origin",
			Branch: "main",
		},
		Recovery: RecoveryConfig{
			MaxIncidentsPerHour:  6,
			StuckInProgressAgeMs: int((2 * time.Hour).Milliseconds()),
			StuckReviewAgeMs:     int((2 * time.Hour).Milliseconds()),
		},
		Registry: RegistryConfig{
			Backend:    "sqlite",
			SQLitePath: defaultRegistryPath(),
		},
		Hooks: HooksConfig{
			Enabled:   false,
			TimeoutMs: 5000,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "steroids",
			SampleRatio: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9090",
		},
		Secrets: SecretsConfig{
			Backend: "keychain",
		},
		Admin: AdminConfig{
			Enabled:         false,
			Listen:          "127.0.0.1:9091",
			TokenTTLSeconds: 300,
		},
	}
}

// applyDefaults fills in zero-valued fields of c from Default(). Used by
// SettingsFile.Load so a partially-written settings.yaml still produces a
// valid Config.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Runners.Parallel.WorkspaceRoot == "" {
		c.Runners.Parallel.WorkspaceRoot = d.Runners.Parallel.WorkspaceRoot
	}
	if c.Runners.Parallel.LeaseTTLSeconds == 0 {
		c.Runners.Parallel.LeaseTTLSeconds = d.Runners.Parallel.LeaseTTLSeconds
	}
	if c.Runners.StaleThresholdSeconds == 0 {
		c.Runners.StaleThresholdSeconds = d.Runners.StaleThresholdSeconds
	}
	if c.Sections.MaxBatchSize == 0 {
		c.Sections.MaxBatchSize = d.Sections.MaxBatchSize
	}
	if c.AI == nil {
		c.AI = d.AI
	} else {
		for role, rc := range d.AI {
			if _, ok := c.AI[role]; !ok {
				c.AI[role] = rc
			}
		}
	}
	if c.Git.Remote == "" {
		c.Git.Remote = d.Git.Remote
	}
	if c.Git.Branch == "" {
		c.Git.Branch = d.Git.Branch
	}
	if c.Recovery.MaxIncidentsPerHour == 0 {
		c.Recovery.MaxIncidentsPerHour = d.Recovery.MaxIncidentsPerHour
	}
	if c.Recovery.StuckInProgressAgeMs == 0 {
		c.Recovery.StuckInProgressAgeMs = d.Recovery.StuckInProgressAgeMs
	}
	if c.Recovery.StuckReviewAgeMs == 0 {
		c.Recovery.StuckReviewAgeMs = d.Recovery.StuckReviewAgeMs
	}
	if c.Registry.Backend == "" {
		c.Registry.Backend = d.Registry.Backend
	}
	if c.Registry.SQLitePath == "" {
		c.Registry.SQLitePath = d.Registry.SQLitePath
	}
	if c.Secrets.Backend == "" {
		c.Secrets.Backend = d.Secrets.Backend
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = d.Admin.Listen
	}
	if c.Admin.TokenTTLSeconds == 0 {
		c.Admin.TokenTTLSeconds = d.Admin.TokenTTLSeconds
	}
}

// Load reads configuration from configPath (if non-empty and it exists),
// falling back to defaults, then applies environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return nil
}

// loadFromEnv applies STEROIDS_-prefixed environment overrides. These mirror
// the YAML keys the daemon's config-file watcher (internal/config/watch.go)
// observes mid-run for ai.<role>.model.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("STEROIDS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STEROIDS_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("STEROIDS_GIT_REMOTE"); v != "" {
		c.Git.Remote = v
	}
	if v := os.Getenv("STEROIDS_GIT_BRANCH"); v != "" {
		c.Git.Branch = v
	}
	if v := os.Getenv("STEROIDS_REGISTRY_BACKEND"); v != "" {
		c.Registry.Backend = v
	}
	if v := os.Getenv("STEROIDS_REGISTRY_POSTGRES_URL"); v != "" {
		c.Registry.PostgresURL = v
	}
	if v := os.Getenv("STEROIDS_CODER_MODEL"); v != "" {
		rc := c.AI["coder"]
		rc.Model = v
		c.AI["coder"] = rc
	}
	if v := os.Getenv("STEROIDS_REVIEWER_MODEL"); v != "" {
		rc := c.AI["reviewer"]
		rc.Model = v
		c.AI["reviewer"] = rc
	}
	if v := os.Getenv("STEROIDS_MAX_INCIDENTS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recovery.MaxIncidentsPerHour = n
		}
	}
	if v := os.Getenv("STEROIDS_ADMIN_SIGNING_SECRET"); v != "" {
		c.Admin.SigningSecret = v
		c.Admin.Enabled = true
	}
	if v := os.Getenv("STEROIDS_ADMIN_LISTEN"); v != "" {
		c.Admin.Listen = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.Registry.Backend != "sqlite" && c.Registry.Backend != "postgres" {
		problems = append(problems, fmt.Sprintf("registry.backend: unsupported %q", c.Registry.Backend))
	}
	if c.Registry.Backend == "postgres" && c.Registry.PostgresURL == "" {
		problems = append(problems, "registry.postgresUrl: required when registry.backend=postgres")
	}
	if c.Sections.MaxBatchSize < 1 {
		problems = append(problems, "sections.maxBatchSize: must be >= 1")
	}
	if c.Runners.Parallel.WorkspaceRoot == "" {
		problems = append(problems, "runners.parallel.workspaceRoot: must not be empty")
	}
	for _, role := range []string{"coder", "reviewer"} {
		rc, ok := c.AI.Role(role)
		if !ok || rc.Provider == "" || rc.Model == "" {
			problems = append(problems, fmt.Sprintf("ai.%s: provider and model are required", role))
		}
	}
	if c.Git.Remote == "" {
		problems = append(problems, "git.remote: must not be empty")
	}
	if c.Git.Branch == "" {
		problems = append(problems, "git.branch: must not be empty")
	}
	if c.Recovery.MaxIncidentsPerHour < 1 {
		problems = append(problems, "recovery.maxIncidentsPerHour: must be >= 1")
	}
	switch c.Secrets.Backend {
	case "keychain", "env", "file":
	default:
		problems = append(problems, fmt.Sprintf("secrets.backend: unsupported %q", c.Secrets.Backend))
	}
	if c.Admin.Enabled && c.Admin.SigningSecret == "" {
		problems = append(problems, "admin.signingSecret: required when admin.enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func defaultWorkspaceRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "steroids-workspaces")
	}
	return filepath.Join(home, ".steroids", "workspaces")
}

func defaultRegistryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "steroids-registry.db")
	}
	return filepath.Join(home, ".steroids", "registry.db")
}
