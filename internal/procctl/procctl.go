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

// Package procctl is the production ports.ProcessControl: detached spawn
// via internal/lifecycle.Spawner and liveness/signal probes via
// internal/lifecycle's process helpers.
package procctl

import (
	"context"
	"os"
	"syscall"

	"github.com/steroids-dev/steroids/internal/lifecycle"
	"github.com/steroids-dev/steroids/internal/ports"
)

// Controller is the production ports.ProcessControl.
type Controller struct {
	spawner *lifecycle.Spawner
}

// New creates a Controller.
func New() *Controller {
	return &Controller{spawner: lifecycle.NewSpawner()}
}

// SpawnDetached starts cmd as a detached background process, logging its
// output under cwd/.steroids/runner.log.
func (c *Controller) SpawnDetached(ctx context.Context, cmd string, args []string, cwd string) (int, error) {
	logPath := cwd + "/.steroids/runner.log"
	return c.spawner.SpawnDetached(cmd, args, logPath)
}

// Kill sends sig to pid.
func (c *Controller) Kill(pid int, sig int) error {
	return lifecycle.SendSignal(pid, syscall.Signal(sig))
}

// IsAlive reports whether pid refers to a live process.
func (c *Controller) IsAlive(pid int) bool {
	return lifecycle.IsProcessRunning(pid)
}

// SelfPID returns the calling process's own PID.
func (c *Controller) SelfPID() int {
	return os.Getpid()
}

var _ ports.ProcessControl = (*Controller)(nil)
