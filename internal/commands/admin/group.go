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

// Package admin implements `steroids admin mint-token/wait-healthy`: CLI
// helpers for operating steroidsd's admin HTTP surface from a deploy
// script or runbook, without needing a second HTTP client.
package admin

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clishared "github.com/steroids-dev/steroids/internal/cli/shared"
	internaladmin "github.com/steroids-dev/steroids/internal/admin"
	"github.com/steroids-dev/steroids/internal/commands/shared"
	"github.com/steroids-dev/steroids/internal/lifecycle"
)

// NewCommand creates the `admin` command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operate steroidsd's admin HTTP surface (token minting, health waits)",
	}
	cmd.AddCommand(newMintTokenCommand())
	cmd.AddCommand(newWaitHealthyCommand())
	return cmd
}

func newMintTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint a bearer token for steroidsd's /admin/sweep endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if !cfg.Admin.Enabled {
				return fmt.Errorf("admin: admin.enabled is false in config, refusing to mint a token for a disabled surface")
			}
			issuer, err := internaladmin.NewTokenIssuer(cfg.Admin.SigningSecret, time.Duration(cfg.Admin.TokenTTLSeconds)*time.Second)
			if err != nil {
				return err
			}
			token, err := issuer.Mint(subject)
			if err != nil {
				return err
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]string{"token": token, "subject": subject})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "Label recorded in the token's subject claim for audit logging")
	return cmd
}

func newWaitHealthyCommand() *cobra.Command {
	var url string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait-healthy",
		Short: "Poll a steroidsd /healthz endpoint until it responds healthy or the timeout elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := lifecycle.NewHealthChecker(url)
			attempts := 0
			err := checker.WaitUntilHealthyWithCallback(timeout, func(result *lifecycle.HealthCheckResult, attempt int) {
				attempts = attempt
				if !clishared.GetQuiet() && !result.Success {
					fmt.Printf("attempt %d: not healthy yet (%v)\n", attempt, result.Error)
				}
			})
			if err != nil {
				return fmt.Errorf("admin: %s never became healthy after %d attempts: %w", url, attempts, err)
			}
			if clishared.GetJSON() {
				return clishared.EmitJSON(map[string]any{"url": url, "healthy": true, "attempts": attempts})
			}
			fmt.Printf("%s is healthy (after %d attempts)\n", url, attempts)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:9091/healthz", "steroidsd admin healthz endpoint to poll")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Maximum time to wait before giving up")
	return cmd
}
