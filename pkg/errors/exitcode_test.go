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

package errors_test

import (
	"errors"
	"testing"

	errs "github.com/steroids-dev/steroids/pkg/errors"
)

func TestExitCode_MapsKnownTypes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, errs.ExitSuccess},
		{"validation", &errs.ValidationError{Field: "title", Message: "required"}, errs.ExitInvalidArgs},
		{"locked", &errs.LockedError{Resource: "runner"}, errs.ExitResourceLocked},
		{"config", &errs.ConfigError{Key: "provider", Reason: "unknown"}, errs.ExitConfigOrHealth},
		{"untyped", errors.New("boom"), errs.ExitGeneric},
		{"not found falls back to generic", &errs.NotFoundError{Resource: "task", ID: "t1"}, errs.ExitGeneric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errs.ExitCode(tc.err); got != tc.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestExitCode_MatchesWrappedError(t *testing.T) {
	wrapped := errs.Wrap(&errs.LockedError{Resource: "workstream"}, "acquire lease")
	if got := errs.ExitCode(wrapped); got != errs.ExitResourceLocked {
		t.Errorf("ExitCode(wrapped locked) = %d, want %d", got, errs.ExitResourceLocked)
	}
}

func TestIsRetryable_OnlyTransientAndIntegrityViolation(t *testing.T) {
	if errs.IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !errs.IsRetryable(&errs.TransientError{Operation: "push", Cause: errors.New("timeout")}) {
		t.Error("TransientError should be retryable")
	}
	if !errs.IsRetryable(&errs.IntegrityViolationError{Invariant: "cas", Detail: "stale"}) {
		t.Error("IntegrityViolationError should be retryable")
	}
	if errs.IsRetryable(&errs.ValidationError{Message: "bad"}) {
		t.Error("ValidationError should not be retryable")
	}
}
