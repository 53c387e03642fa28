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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents an invalid workflow, step, agent or tool definition.
type ValidationError struct {
	// Field identifies which field failed validation (e.g. "steps[2].id")
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError is returned when a run, workflow, step, agent, tool or action
// lookup misses.
type NotFoundError struct {
	// Resource is the kind of thing looked up (e.g. "run", "tool")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// DuplicateError is returned when registering a name that is already taken.
type DuplicateError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already registered: %s", e.Resource, e.ID)
}

// ProviderError represents a failure reported by the model provider.
type ProviderError struct {
	// Provider is the name of the model provider
	Provider string

	// Model is the model id the request was sent to
	Model string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s error", e.Provider)
	if e.Model != "" {
		msg = fmt.Sprintf("%s (model %s)", msg, e.Model)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g. "storage.backend")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g. file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents an operation that exceeded its deadline.
type TimeoutError struct {
	// Operation describes what timed out (e.g. "agent turn", "step fetch")
	Operation string

	// Duration is the configured limit
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// CircularDependencyError reports that execution order could not be computed
// because some steps never became ready. This covers real cycles as well as
// dependencies on step ids that do not exist.
type CircularDependencyError struct {
	// Unresolved holds the ids of the steps that could not be scheduled.
	Unresolved []string
}

// Error implements the error interface.
func (e *CircularDependencyError) Error() string {
	if len(e.Unresolved) == 0 {
		return "circular dependency detected"
	}
	return fmt.Sprintf("circular dependency detected among steps: %s", strings.Join(e.Unresolved, ", "))
}

// IsUserVisible implements UserVisibleError.
func (e *CircularDependencyError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *CircularDependencyError) UserMessage() string { return e.Error() }

// Suggestion implements UserVisibleError.
func (e *CircularDependencyError) Suggestion() string {
	return "Check depends_on for cycles and for references to steps that do not exist"
}

// StepExecutionError wraps the failure of a step delegate after all attempts
// were used.
type StepExecutionError struct {
	StepID   string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *StepExecutionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("step %s failed", e.StepID)
	}
	return e.Cause.Error()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// ConditionEvaluationError reports a step condition that could not be
// evaluated. The engine treats it as a warning and runs the step anyway.
type ConditionEvaluationError struct {
	StepID     string
	Expression string
	Cause      error
}

// Error implements the error interface.
func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition %q on step %s could not be evaluated: %v", e.Expression, e.StepID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConditionEvaluationError) Unwrap() error {
	return e.Cause
}

// DelegateTimeoutError reports that a step delegate or agent turn ran past
// its configured timeout_ms.
type DelegateTimeoutError struct {
	// Operation names the delegate, e.g. "step summarize" or "agent agent_1a2b".
	Operation string
	Timeout   time.Duration
	Cause     error
}

// Error implements the error interface.
func (e *DelegateTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Timeout)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DelegateTimeoutError) Unwrap() error {
	return e.Cause
}

// As lets a DelegateTimeoutError satisfy errors.As(err, **TimeoutError).
func (e *DelegateTimeoutError) As(target any) bool {
	t, ok := target.(**TimeoutError)
	if !ok {
		return false
	}
	*t = &TimeoutError{Operation: e.Operation, Duration: e.Timeout, Cause: e.Cause}
	return true
}
