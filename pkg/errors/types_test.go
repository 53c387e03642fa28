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
	"fmt"
	"testing"
	"time"

	sferrors "github.com/tombee/stepflow/pkg/errors"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "validation with field",
			err:     &sferrors.ValidationError{Field: "steps[0].id", Message: "id is required"},
			wantMsg: "validation failed on steps[0].id: id is required",
		},
		{
			name:    "validation without field",
			err:     &sferrors.ValidationError{Message: "workflow has no name"},
			wantMsg: "validation failed: workflow has no name",
		},
		{
			name:    "not found",
			err:     &sferrors.NotFoundError{Resource: "run", ID: "run_abc"},
			wantMsg: "run not found: run_abc",
		},
		{
			name:    "duplicate",
			err:     &sferrors.DuplicateError{Resource: "tool", ID: "search"},
			wantMsg: "tool already registered: search",
		},
		{
			name:    "provider with model",
			err:     &sferrors.ProviderError{Provider: "echo", Model: "m1", Message: "boom"},
			wantMsg: "provider echo error (model m1): boom",
		},
		{
			name:    "config with key",
			err:     &sferrors.ConfigError{Key: "storage.backend", Reason: "unknown backend"},
			wantMsg: "config error at storage.backend: unknown backend",
		},
		{
			name:    "timeout",
			err:     &sferrors.TimeoutError{Operation: "agent turn", Duration: 2 * time.Second},
			wantMsg: "agent turn operation timed out after 2s",
		},
		{
			name:    "circular with steps",
			err:     &sferrors.CircularDependencyError{Unresolved: []string{"a", "b"}},
			wantMsg: "circular dependency detected among steps: a, b",
		},
		{
			name:    "circular empty",
			err:     &sferrors.CircularDependencyError{},
			wantMsg: "circular dependency detected",
		},
		{
			name:    "step execution surfaces cause",
			err:     &sferrors.StepExecutionError{StepID: "b", Attempts: 2, Cause: errors.New("tool exploded")},
			wantMsg: "tool exploded",
		},
		{
			name:    "delegate timeout",
			err:     &sferrors.DelegateTimeoutError{Operation: "step fetch", Timeout: 50 * time.Millisecond},
			wantMsg: "step fetch timed out after 50ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestUnwrapChains(t *testing.T) {
	cause := errors.New("root cause")

	tests := []struct {
		name string
		err  error
	}{
		{"provider", &sferrors.ProviderError{Provider: "p", Cause: cause}},
		{"config", &sferrors.ConfigError{Reason: "bad", Cause: cause}},
		{"timeout", &sferrors.TimeoutError{Operation: "op", Cause: cause}},
		{"step execution", &sferrors.StepExecutionError{StepID: "s", Cause: cause}},
		{"condition", &sferrors.ConditionEvaluationError{StepID: "s", Expression: "x >", Cause: cause}},
		{"delegate timeout", &sferrors.DelegateTimeoutError{Operation: "op", Cause: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, cause) {
				t.Errorf("errors.Is(%T, cause) = false, want true", tt.err)
			}
		})
	}
}

func TestDelegateTimeoutMatchesTimeoutError(t *testing.T) {
	err := sferrors.Wrap(&sferrors.DelegateTimeoutError{Operation: "agent agent_1", Timeout: time.Second}, "step s1")

	var te *sferrors.TimeoutError
	if !sferrors.As(err, &te) {
		t.Fatal("expected DelegateTimeoutError to match *TimeoutError")
	}
	if te.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", te.Duration)
	}
	if !sferrors.IsTimeout(err) {
		t.Error("IsTimeout() = false, want true")
	}
}

func TestIsNotFound(t *testing.T) {
	if !sferrors.IsNotFound(sferrors.Wrapf(&sferrors.NotFoundError{Resource: "tool", ID: "x"}, "lookup %s", "x")) {
		t.Error("IsNotFound() = false for wrapped NotFoundError")
	}
	if sferrors.IsNotFound(errors.New("other")) {
		t.Error("IsNotFound() = true for plain error")
	}
}

func TestWrapNil(t *testing.T) {
	if sferrors.Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if sferrors.Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestUserMessage(t *testing.T) {
	msg, suggestion := sferrors.UserMessage(&sferrors.ValidationError{Message: "bad", Suggestion: "fix it"})
	if msg != "validation failed: bad" || suggestion != "fix it" {
		t.Errorf("UserMessage(validation) = %q, %q", msg, suggestion)
	}

	msg, suggestion = sferrors.UserMessage(fmt.Errorf("wrap: %w", &sferrors.CircularDependencyError{Unresolved: []string{"a"}}))
	if msg != "circular dependency detected among steps: a" || suggestion == "" {
		t.Errorf("UserMessage(circular) = %q, %q", msg, suggestion)
	}

	msg, suggestion = sferrors.UserMessage(errors.New("plain"))
	if msg != "plain" || suggestion != "" {
		t.Errorf("UserMessage(plain) = %q, %q", msg, suggestion)
	}
}
