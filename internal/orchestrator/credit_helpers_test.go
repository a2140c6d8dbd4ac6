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

package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/steroids-dev/steroids/internal/credit"
	"github.com/steroids-dev/steroids/internal/registry"
)

var errTestCreditExhaustion = errors.New("test credit exhaustion")

type fakeConfigProvider struct {
	mu              sync.Mutex
	provider, model string
}

func (c *fakeConfigProvider) ProviderModel(role string) (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider, c.model
}

func (c *fakeConfigProvider) set(provider, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider, c.model = provider, model
}

func newTestPauser(r registry.Backend, cfg *fakeConfigProvider) *credit.Pauser {
	return credit.New(credit.Config{
		Registry:       r,
		ProviderConfig: cfg,
		PollSlice:      time.Millisecond,
	})
}
