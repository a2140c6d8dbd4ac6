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

// Package shared holds the collaborators every internal/commands/*
// subcommand package needs to open: the loaded configuration, the Global
// Registry backend, and a project's Project Store. It is the CLI-side
// analogue of internal/cli/shared's flag plumbing.
package shared

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/steroids-dev/steroids/internal/config"
	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/registry"
	regmemory "github.com/steroids-dev/steroids/internal/registry/memory"
	regpostgres "github.com/steroids-dev/steroids/internal/registry/postgres"
	regsqlite "github.com/steroids-dev/steroids/internal/registry/sqlite"
	"github.com/steroids-dev/steroids/internal/secrets"
	"github.com/steroids-dev/steroids/internal/store"
	storememory "github.com/steroids-dev/steroids/internal/store/memory"
	storesqlite "github.com/steroids-dev/steroids/internal/store/sqlite"
)

// LoadConfig loads the effective configuration, honoring the --config flag.
func LoadConfig() (*config.Config, error) {
	return config.Load(clishared.GetConfigPath())
}

// OpenRegistry opens the Global Registry backend named by cfg.Registry.
// Callers are responsible for closing the returned Backend.
func OpenRegistry(cfg *config.Config) (registry.Backend, error) {
	switch cfg.Registry.Backend {
	case "postgres":
		return regpostgres.New(regpostgres.Config{ConnectionString: cfg.Registry.PostgresURL})
	case "memory":
		return regmemory.New(), nil
	default:
		path := cfg.Registry.SQLitePath
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("shared: create registry dir: %w", err)
		}
		return regsqlite.New(regsqlite.Config{Path: path, WAL: true})
	}
}

// ProjectStorePath returns the per-project store file path under
// <projectPath>/.steroids/store.db.
func ProjectStorePath(projectPath string) string {
	return filepath.Join(projectPath, ".steroids", "store.db")
}

// OpenProjectStore opens (creating if necessary) the SQLite store.Backend
// for projectPath. Callers are responsible for closing the returned
// Backend.
func OpenProjectStore(projectPath string) (store.Backend, error) {
	dir := filepath.Join(projectPath, ".steroids")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("shared: create project store dir: %w", err)
	}
	return storesqlite.New(storesqlite.Config{Path: ProjectStorePath(projectPath), WAL: true})
}

// OpenInMemoryProjectStore is used by commands' tests that don't want a
// filesystem dependency.
func OpenInMemoryProjectStore() store.Backend {
	return storememory.New()
}

// OpenSecretsResolver builds the internal/secrets.Resolver agentcli uses to
// inject provider API keys into coder/reviewer subprocesses. The env
// backend is always included (it's read-only and highest priority, so an
// operator's exported ANTHROPIC_API_KEY always wins); cfg.Secrets.Backend
// layers in keychain or an encrypted file underneath it. A backend that
// fails to initialize (e.g. no keyring service available) is logged by its
// own Available() check, not fatal here: the resolver just runs with fewer
// backends.
func OpenSecretsResolver(cfg *config.Config) *secrets.Resolver {
	backends := []secrets.SecretBackend{secrets.NewEnvBackend()}
	switch cfg.Secrets.Backend {
	case "file":
		if fb, err := secrets.NewFileBackend(cfg.Secrets.Path, ""); err == nil {
			backends = append(backends, fb)
		}
	case "keychain", "":
		backends = append(backends, secrets.NewKeychainBackend())
	}
	return secrets.NewResolver(backends...)
}

// ResolveProjectPath normalizes explicit to an absolute, symlink-resolved
// path, or falls back to the current working directory when explicit is
// empty, matching the Project entity's identity rule: a project is keyed
// by its real, canonical filesystem path.
func ResolveProjectPath(explicit string) (string, error) {
	path := explicit
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("shared: resolve cwd: %w", err)
		}
		path = cwd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("shared: resolve absolute path: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The project may not be registered on disk yet (e.g. `projects
		// register` for a path that exists but hasn't been walked); fall
		// back to the unresolved absolute path.
		return abs, nil
	}
	return real, nil
}
