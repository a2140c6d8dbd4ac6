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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly, got: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Git.Remote != "origin" {
		t.Errorf("expected default git remote 'origin', got %q", cfg.Git.Remote)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
git:
  remote: upstream
  branch: trunk
sections:
  batchMode: true
  maxBatchSize: 3
ai:
  coder:
    provider: anthropic
    model: claude-opus-4
  reviewer:
    provider: anthropic
    model: claude-sonnet-4
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Git.Remote != "upstream" || cfg.Git.Branch != "trunk" {
		t.Errorf("git config not applied from file: %+v", cfg.Git)
	}
	if !cfg.Sections.BatchMode || cfg.Sections.MaxBatchSize != 3 {
		t.Errorf("sections config not applied from file: %+v", cfg.Sections)
	}
	if cfg.Registry.Backend != "sqlite" {
		t.Errorf("expected unset registry.backend to keep its default, got %q", cfg.Registry.Backend)
	}
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	t.Setenv("STEROIDS_GIT_BRANCH", "from-env")
	t.Setenv("STEROIDS_CODER_MODEL", "claude-haiku-4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Git.Branch != "from-env" {
		t.Errorf("expected env override 'from-env', got %q", cfg.Git.Branch)
	}
	rc, ok := cfg.AI.Role("coder")
	if !ok || rc.Model != "claude-haiku-4" {
		t.Errorf("expected coder model overridden by env, got %+v", rc)
	}
}

func TestValidateRejectsMissingAIRole(t *testing.T) {
	cfg := Default()
	delete(cfg.AI, "reviewer")

	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject a missing reviewer role")
	}
}

func TestValidateRejectsPostgresWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Registry.Backend = "postgres"
	cfg.Registry.PostgresURL = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to require registry.postgresUrl for postgres backend")
	}
}

func TestValidateRejectsZeroMaxBatchSize(t *testing.T) {
	cfg := Default()
	cfg.Sections.MaxBatchSize = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject maxBatchSize of 0")
	}
}

func TestValidateRejectsAdminEnabledWithoutSigningSecret(t *testing.T) {
	cfg := Default()
	cfg.Admin.Enabled = true
	cfg.Admin.SigningSecret = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject admin.enabled without admin.signingSecret")
	}
}

func TestAdminSigningSecretEnvOverrideEnablesAdmin(t *testing.T) {
	os.Setenv("STEROIDS_ADMIN_SIGNING_SECRET", "test-secret")
	defer os.Unsetenv("STEROIDS_ADMIN_SIGNING_SECRET")

	cfg := Default()
	cfg.loadFromEnv()

	if !cfg.Admin.Enabled {
		t.Error("expected STEROIDS_ADMIN_SIGNING_SECRET to enable the admin surface")
	}
	if cfg.Admin.SigningSecret != "test-secret" {
		t.Errorf("expected signing secret to be set from env, got %q", cfg.Admin.SigningSecret)
	}
}
