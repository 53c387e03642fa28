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

package run

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/internal/backend/sqlite"
	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/workflow"
)

const reviewWorkflow = `
name: review
agents:
  - id: reviewer
    config:
      system_prompt: You review code.
steps:
  - id: fetch
    action: echo
    input_template: "{{inputs.diff}}"
  - id: review
    agent_id: reviewer
    depends_on: [fetch]
    input_template: "Review: {{steps.fetch.output}}"
  - id: size
    action: jq
    depends_on: [fetch]
    input_template: '{"lines": ["a", "b", "c"]}'
    metadata:
      query: .lines | length
  - id: strict
    action: echo
    depends_on: [review]
    condition: inputs.mode == "strict"
`

const failingWorkflow = `
name: broken
steps:
  - id: ok
    action: echo
  - id: boom
    action: fail
    depends_on: [ok]
    metadata:
      message: upstream unavailable
  - id: after
    action: echo
    depends_on: [boom]
`

const slowWorkflow = `
name: slow
steps:
  - id: wait
    action: sleep
    metadata:
      duration: 5s
`

// setup points the command at a fresh config file and isolates it from the
// caller's environment.
func setup(t *testing.T, configYAML string) {
	t.Helper()
	for _, key := range []string{
		"STEPFLOW_DEBUG", "STEPFLOW_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"STEPFLOW_MAX_PARALLEL", "STEPFLOW_STORAGE_BACKEND", "STEPFLOW_SQLITE_PATH",
		"STEPFLOW_REDIS_URL", "STEPFLOW_METRICS_FILE", "STEPFLOW_TRACING_EXPORTER",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"+configYAML), 0600))
	shared.SetConfigPathForTest(path)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCompletes(t *testing.T) {
	setup(t, "")
	path := writeFile(t, "review.yaml", reviewWorkflow)

	out, err := execute(t, path, "--input", "diff=fix the parser", "--input", "mode=lenient")
	require.NoError(t, err)

	assert.Contains(t, out, "review")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "fetch: fix the parser")
	assert.Contains(t, out, "review: Review: fix the parser")
	assert.Contains(t, out, "size: 3")
	assert.NotContains(t, out, "strict:")
}

func TestRunJSON(t *testing.T) {
	setup(t, "")
	defer shared.SetJSONForTest(true)()
	path := writeFile(t, "review.yaml", reviewWorkflow)

	out, err := execute(t, path, "-i", "diff=hello", "-i", "mode=strict")
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Run)
	assert.True(t, res.Success)
	assert.Equal(t, workflow.RunStatusCompleted, res.Run.Status)
	assert.True(t, strings.HasPrefix(res.Run.ID, "run_"))
	assert.Equal(t, "hello", res.Run.Outputs["fetch"])
	assert.Equal(t, "Review: hello", res.Run.Outputs["review"])
	assert.Equal(t, "", res.Run.Outputs["strict"])
	assert.Len(t, res.Run.StepResults, 4)
}

func TestRunFailure(t *testing.T) {
	setup(t, "")
	path := writeFile(t, "broken.yaml", failingWorkflow)

	out, err := execute(t, path)
	require.Error(t, err)
	assert.Equal(t, shared.ExitExecutionFailed, shared.ExitCode(err))
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, err.Error(), "upstream unavailable")

	assert.Contains(t, out, "upstream unavailable")
	assert.Contains(t, out, "not run")
}

func TestRunTimeoutCancels(t *testing.T) {
	setup(t, "")
	path := writeFile(t, "slow.yaml", slowWorkflow)

	_, err := execute(t, path, "--timeout", "50ms")
	require.Error(t, err)
	assert.Equal(t, shared.ExitExecutionFailed, shared.ExitCode(err))
	assert.Contains(t, err.Error(), string(workflow.RunStatusCancelled))
}

func TestRunDryRun(t *testing.T) {
	setup(t, "")
	path := writeFile(t, "review.yaml", reviewWorkflow)

	out, err := execute(t, path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "group 1")
	assert.Contains(t, out, "agent=reviewer")
	assert.Contains(t, out, `if inputs.mode == "strict"`)
	assert.NotContains(t, out, "completed")
}

func TestRunInvalidInputs(t *testing.T) {
	setup(t, "")
	path := writeFile(t, "review.yaml", reviewWorkflow)

	_, err := execute(t, path, "--input", "no-equals-sign")
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
}

func TestRunInvalidWorkflow(t *testing.T) {
	setup(t, "")
	path := writeFile(t, "bad.yaml", "name: bad\nsteps:\n  - id: a\n    depends_on: [a]\n")

	_, err := execute(t, path)
	assert.Equal(t, shared.ExitInvalidWorkflow, shared.ExitCode(err))
}

func TestRunBadConfig(t *testing.T) {
	setup(t, "storage:\n  backend: cassandra\n")
	path := writeFile(t, "review.yaml", reviewWorkflow)

	_, err := execute(t, path)
	assert.Equal(t, shared.ExitConfigError, shared.ExitCode(err))
}

func TestRunSavesToSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	setup(t, "storage:\n  backend: sqlite\n  sqlite:\n    path: "+dbPath+"\n")
	defer shared.SetJSONForTest(true)()
	path := writeFile(t, "review.yaml", reviewWorkflow)

	out, err := execute(t, path, "-i", "diff=x")
	require.NoError(t, err)
	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	be, err := sqlite.New(sqlite.Config{Path: dbPath})
	require.NoError(t, err)
	defer be.Close()

	ctx := context.Background()
	runs, err := be.ListRuns(ctx, backend.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Run.ID, runs[0].ID)
	assert.Equal(t, workflow.RunStatusCompleted, runs[0].Status)

	workflows, err := be.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "review", workflows[0].Name)
	assert.Equal(t, res.Run.WorkflowID, workflows[0].ID)
}

func TestRunWritesMetricsFile(t *testing.T) {
	setup(t, "")
	metricsPath := filepath.Join(t.TempDir(), "stepflow.prom")
	path := writeFile(t, "review.yaml", reviewWorkflow)

	_, err := execute(t, path, "--metrics-file", metricsPath, "-i", "diff=x")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `stepflow_workflow_runs_total{status="completed"`)
	assert.Contains(t, string(data), "stepflow_agent_turns_total")
}

func TestParseInputs(t *testing.T) {
	file := writeFile(t, "inputs.json", `{"diff": "from file", "count": 2}`)
	body := writeFile(t, "body.txt", "file body")

	inputs, err := parseInputs([]string{"diff=override", "body=@" + body, "eq=a=b"}, file, nil)
	require.NoError(t, err)
	assert.Equal(t, "override", inputs["diff"])
	assert.Equal(t, float64(2), inputs["count"])
	assert.Equal(t, "file body", inputs["body"])
	assert.Equal(t, "a=b", inputs["eq"])

	stdin, err := parseInputs(nil, "-", strings.NewReader(`{"x": "y"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": "y"}, stdin)

	empty, err := parseInputs(nil, "", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseInputs([]string{"=value"}, "", nil)
	assert.Error(t, err)
	_, err = parseInputs(nil, writeFile(t, "bad.json", "[1,2]"), nil)
	assert.Error(t, err)
	_, err = parseInputs([]string{"body=@/does/not/exist"}, "", nil)
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "plain", formatValue("plain"))
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, `{"a":1}`, formatValue(map[string]any{"a": 1}))
	assert.Equal(t, "two lines", formatValue("two\n  lines"))
	long := formatValue(strings.Repeat("x", 200))
	assert.Len(t, long, maxValueWidth)
	assert.True(t, strings.HasSuffix(long, "..."))
}
