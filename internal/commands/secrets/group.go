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

// Package secrets implements `steroids secrets set/list`: CLI access to
// the provider-credential resolver chain (internal/secrets.Resolver)
// without ever printing a stored value back to the terminal.
package secrets

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/log"
)

// NewCommand creates the `secrets` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage provider credentials backing AgentInvoker",
	}
	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newListCommand())
	return cmd
}

func newSetCommand() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a secret (e.g. providers/anthropic/api_key) in the configured backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			resolver := shared.OpenSecretsResolver(cfg)
			if err := resolver.Set(context.Background(), args[0], args[1], backend); err != nil {
				return err
			}
			// Never echo the stored value back, even on success: a
			// terminal scrollback or CI log is not a safe place for it.
			fmt.Printf("stored %s = %s\n", args[0], log.SanitizeSecret(args[1]))
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "Backend to write to (\"keychain\", \"file\"); defaults to the first writable backend")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known secret keys and which backend holds them, without revealing values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			resolver := shared.OpenSecretsResolver(cfg)
			metas, err := resolver.List(context.Background())
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(metas)
			}
			for _, m := range metas {
				fmt.Printf("%-40s backend=%-10s read_only=%v\n", m.Key, m.Backend, m.ReadOnly)
			}
			return nil
		},
	}
}
