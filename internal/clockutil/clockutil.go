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

// Package clockutil is the production ports.Clock: a direct pass-through
// to the time package, used everywhere the core takes a ports.Clock so
// tests can substitute a fake.
package clockutil

import (
	"time"

	"github.com/steroids-dev/steroids/internal/ports"
)

// Real is the wall-clock ports.Clock.
type Real struct{}

// New creates a Real clock.
func New() Real { return Real{} }

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// Sleep blocks for d.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

var _ ports.Clock = Real{}
