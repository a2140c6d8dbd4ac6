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

package clockutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNow_ReturnsCurrentTime(t *testing.T) {
	c := New()
	before := time.Now()
	got := c.Now()
	after := time.Now()

	require.False(t, got.Before(before))
	require.False(t, got.After(after))
}

func TestSleep_BlocksForAtLeastDuration(t *testing.T) {
	c := New()
	start := time.Now()
	c.Sleep(10 * time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
