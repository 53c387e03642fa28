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

package shared

import (
	"fmt"
	"io"
	"os"

	"github.com/tombee/stepflow/pkg/errors"
)

// Exit codes returned by the stepflow binary.
const (
	ExitSuccess         = 0
	ExitExecutionFailed = 1
	ExitInvalidWorkflow = 2
	ExitInvalidInput    = 3
	ExitConfigError     = 4
)

// ExitError carries a process exit code through cobra's RunE.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

func NewExecutionError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitExecutionFailed, Message: msg, Cause: cause}
}

func NewInvalidWorkflowError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidWorkflow, Message: msg, Cause: cause}
}

func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfigError, Message: msg, Cause: cause}
}

// ExitCode maps err to the code the process should exit with.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitExecutionFailed
}

// PrintError writes err and, when something in its chain carries one, a
// suggestion.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(w, "Error:", msg)
	}
	if _, suggestion := errors.UserMessage(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}
