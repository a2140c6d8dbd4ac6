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
	"strings"
	"testing"
	"time"

	errs "github.com/steroids-dev/steroids/pkg/errors"
)

func TestValidationError_IncludesFieldWhenSet(t *testing.T) {
	withField := &errs.ValidationError{Field: "title", Message: "required"}
	if !strings.Contains(withField.Error(), "title") {
		t.Errorf("expected field name in message, got: %s", withField.Error())
	}

	withoutField := &errs.ValidationError{Message: "required"}
	if strings.Contains(withoutField.Error(), "on :") {
		t.Errorf("unexpected empty field marker: %s", withoutField.Error())
	}
}

func TestLockedError_IncludesHeldByWhenSet(t *testing.T) {
	held := &errs.LockedError{Resource: "runner", HeldBy: "runner-a"}
	if !strings.Contains(held.Error(), "runner-a") {
		t.Errorf("expected holder in message, got: %s", held.Error())
	}

	unheld := &errs.LockedError{Resource: "runner"}
	if strings.Contains(unheld.Error(), "by ") {
		t.Errorf("unexpected holder clause: %s", unheld.Error())
	}
}

func TestConfigError_UnwrapsCause(t *testing.T) {
	cause := errors.New("missing key")
	cfgErr := &errs.ConfigError{Key: "provider", Reason: "unknown", Cause: cause}
	if !errors.Is(cfgErr, cause) {
		t.Error("ConfigError should unwrap to its Cause")
	}
}

func TestTransientError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	transientErr := &errs.TransientError{Operation: "push", Cause: cause}
	if !errors.Is(transientErr, cause) {
		t.Error("TransientError should unwrap to its Cause")
	}
}

func TestFatalError_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk corruption")
	fatalErr := &errs.FatalError{Reason: "store unreadable", Cause: cause}
	if !errors.Is(fatalErr, cause) {
		t.Error("FatalError should unwrap to its Cause")
	}
}

func TestAgentTimeoutError_MessageIncludesDuration(t *testing.T) {
	err := &errs.AgentTimeoutError{Role: "coder", Duration: 30 * time.Second}
	if !strings.Contains(err.Error(), "30s") {
		t.Errorf("expected duration in message, got: %s", err.Error())
	}
}

func TestCreditExhaustionError_MessageIncludesProviderModelRole(t *testing.T) {
	err := &errs.CreditExhaustionError{Provider: "anthropic", Model: "sonnet", Role: "coder", Message: "quota exceeded"}
	msg := err.Error()
	for _, want := range []string{"anthropic", "sonnet", "coder", "quota exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message, got: %s", want, msg)
		}
	}
}

func TestIntegrityViolationError_MessageIncludesInvariant(t *testing.T) {
	err := &errs.IntegrityViolationError{Invariant: "single-runner-per-project", Detail: "two active runners"}
	if !strings.Contains(err.Error(), "single-runner-per-project") {
		t.Errorf("expected invariant name in message, got: %s", err.Error())
	}
}

func TestNotFoundError_MessageIncludesResourceAndID(t *testing.T) {
	err := &errs.NotFoundError{Resource: "task", ID: "t1"}
	if !strings.Contains(err.Error(), "task") || !strings.Contains(err.Error(), "t1") {
		t.Errorf("expected resource and id in message, got: %s", err.Error())
	}
}
