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

package registry

import (
	"testing"
	"time"
)

func TestRunner_IsFresh_WithinAndBeyondWindow(t *testing.T) {
	now := time.Now()
	fresh := &Runner{HeartbeatAt: now.Add(-time.Minute)}
	if !fresh.IsFresh(now) {
		t.Error("expected a one-minute-old heartbeat to be fresh")
	}

	stale := &Runner{HeartbeatAt: now.Add(-HeartbeatFreshness - time.Second)}
	if stale.IsFresh(now) {
		t.Error("expected a heartbeat older than HeartbeatFreshness to be stale")
	}
}

func TestWorkstream_LeaseHeld_RequiresRunnerAndUnexpiredLease(t *testing.T) {
	now := time.Now()

	unheld := &Workstream{}
	if unheld.LeaseHeld(now) {
		t.Error("expected workstream with no RunnerID to report no lease held")
	}

	held := &Workstream{RunnerID: "runner-a", LeaseExpiresAt: now.Add(time.Minute)}
	if !held.LeaseHeld(now) {
		t.Error("expected unexpired lease with a runner to be held")
	}

	expired := &Workstream{RunnerID: "runner-a", LeaseExpiresAt: now.Add(-time.Minute)}
	if expired.LeaseHeld(now) {
		t.Error("expected expired lease to report not held")
	}
}
