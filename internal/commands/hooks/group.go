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

// Package hooks implements `steroids hooks` — inspecting the configured
// webhook target and firing a synthetic event at it to verify delivery.
package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/hook"
)

// NewCommand creates the `hooks` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect and test the configured webhook dispatcher",
	}
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newTestCommand())
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configured webhook target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]any{
					"enabled":                  cfg.Hooks.Enabled,
					"url":                      cfg.Hooks.URL,
					"timeout_ms":               cfg.Hooks.TimeoutMs,
					"enrich_with_aws_identity": cfg.Hooks.EnrichWithAWSIdentity,
				})
			}
			status := clishared.RenderWarn("disabled")
			if cfg.Hooks.Enabled {
				status = clishared.RenderOK("enabled")
			}
			fmt.Printf("%s %s\n", status, cfg.Hooks.URL)
			fmt.Printf("  timeout=%dms enrich_with_aws_identity=%v\n", cfg.Hooks.TimeoutMs, cfg.Hooks.EnrichWithAWSIdentity)
			return nil
		},
	}
}

func newTestCommand() *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Fire a synthetic event at the configured webhook and wait briefly for it to send",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.Hooks.Enabled || cfg.Hooks.URL == "" {
				return fmt.Errorf("hooks: no webhook configured (hooks.enabled=%v hooks.url=%q)", cfg.Hooks.Enabled, cfg.Hooks.URL)
			}

			dispatcher := hook.New(hook.Config{
				URL:                   cfg.Hooks.URL,
				Timeout:               time.Duration(cfg.Hooks.TimeoutMs) * time.Millisecond,
				EnrichWithAWSIdentity: cfg.Hooks.EnrichWithAWSIdentity,
			})

			dispatcher.Fire(context.Background(), event, map[string]any{
				"source": "steroids hooks test",
				"fired_by_cli": true,
			})

			// Fire is fire-and-forget; give the background goroutine a moment
			// to actually send before the process exits.
			time.Sleep(500 * time.Millisecond)

			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]any{"sent": true, "event": event, "url": cfg.Hooks.URL})
			}
			fmt.Printf("%s fired %q at %s\n", clishared.RenderOK("ok"), event, cfg.Hooks.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&event, "event", "hooks.test", "Event name to send")
	return cmd
}
