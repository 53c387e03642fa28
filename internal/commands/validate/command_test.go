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

package validate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/errors"
)

const validWorkflow = `
name: review
agents:
  - id: reviewer
steps:
  - id: fetch
    action: echo
    input_template: "{{inputs.diff}}"
  - id: review
    agent_id: reviewer
    depends_on: [fetch]
  - id: count
    action: jq
    depends_on: [fetch]
    metadata:
      query: length
`

const lintWorkflow = `
name: lint
steps:
  - id: a
    action: echo
  - id: b
    action: echo
    condition: steps.c == "x"
  - id: c
    action: echo
`

const cyclicWorkflow = `
name: cyclic
steps:
  - id: a
    depends_on: [b]
  - id: b
    depends_on: [a]
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write workflow: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValid(t *testing.T) {
	path := writeWorkflow(t, validWorkflow)

	out, err := execute(t, path)
	if err != nil {
		t.Fatalf("expected valid workflow, got %v", err)
	}
	if !strings.Contains(out, "is valid (3 steps in 2 groups, 1 agents)") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestValidateWarnings(t *testing.T) {
	path := writeWorkflow(t, lintWorkflow)

	out, err := execute(t, path)
	if err != nil {
		t.Fatalf("warnings should not fail validation: %v", err)
	}
	if !strings.Contains(out, `step "b"`) || !strings.Contains(out, "c") {
		t.Errorf("expected warning for step b, got: %s", out)
	}

	_, err = execute(t, path, "--strict")
	if shared.ExitCode(err) != shared.ExitInvalidWorkflow {
		t.Errorf("expected exit code %d with --strict, got %v", shared.ExitInvalidWorkflow, err)
	}
}

func TestValidateCycle(t *testing.T) {
	path := writeWorkflow(t, cyclicWorkflow)

	_, err := execute(t, path)
	if shared.ExitCode(err) != shared.ExitInvalidWorkflow {
		t.Fatalf("expected invalid workflow exit code, got %v", err)
	}
	var cycle *errors.CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CircularDependencyError in chain, got %v", err)
	}
	if len(cycle.Unresolved) != 2 {
		t.Errorf("expected 2 unresolved steps, got %v", cycle.Unresolved)
	}
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "missing.yaml"))
	if shared.ExitCode(err) != shared.ExitInvalidWorkflow {
		t.Errorf("expected invalid workflow exit code, got %v", err)
	}
}

func TestValidateJSON(t *testing.T) {
	defer shared.SetJSONForTest(true)()
	path := writeWorkflow(t, validWorkflow)

	out, err := execute(t, path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if !res.Success || res.Command != "validate" {
		t.Errorf("unexpected envelope %+v", res.JSONResponse)
	}
	if res.Workflow.Name != "review" || res.Workflow.Steps != 3 || res.Workflow.Agents != 1 {
		t.Errorf("unexpected summary %+v", res.Workflow)
	}
	want := [][]string{{"fetch"}, {"review", "count"}}
	if len(res.Workflow.Groups) != 2 || res.Workflow.Groups[1][0] != want[1][0] || res.Workflow.Groups[1][1] != want[1][1] {
		t.Errorf("expected groups %v, got %v", want, res.Workflow.Groups)
	}
	if res.Warnings == nil || len(res.Warnings) != 0 {
		t.Errorf("expected empty warnings, got %v", res.Warnings)
	}
}

func TestValidateJSONError(t *testing.T) {
	defer shared.SetJSONForTest(true)()
	path := writeWorkflow(t, cyclicWorkflow)

	out, err := execute(t, path)
	if shared.ExitCode(err) != shared.ExitInvalidWorkflow {
		t.Fatalf("expected invalid workflow exit code, got %v", err)
	}
	if err.Error() != "" {
		t.Errorf("JSON mode should not print a second error, got %q", err.Error())
	}

	var res struct {
		shared.JSONResponse
		Errors []shared.JSONError `json:"errors"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if res.Success || len(res.Errors) != 1 || !strings.Contains(res.Errors[0].Message, "circular") {
		t.Errorf("unexpected error response %+v", res)
	}
}
