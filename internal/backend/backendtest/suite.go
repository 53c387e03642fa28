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

// Package backendtest holds the behaviour every backend.Backend must share.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Run exercises a backend created by newBackend. Each subtest gets a fresh
// backend.
func Run(t *testing.T, newBackend func(t *testing.T) backend.Backend) {
	t.Run("SaveAndGetRun", func(t *testing.T) { testSaveAndGetRun(t, newBackend(t)) })
	t.Run("SaveRunReplaces", func(t *testing.T) { testSaveRunReplaces(t, newBackend(t)) })
	t.Run("GetRunNotFound", func(t *testing.T) { testGetRunNotFound(t, newBackend(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newBackend(t)) })
	t.Run("DeleteRun", func(t *testing.T) { testDeleteRun(t, newBackend(t)) })
	t.Run("Workflows", func(t *testing.T) { testWorkflows(t, newBackend(t)) })
}

// NewRun builds a finished run with two step results.
func NewRun(id, workflowID string, status workflow.RunStatus, started time.Time) *workflow.WorkflowRun {
	started = started.UTC().Truncate(time.Millisecond)
	return &workflow.WorkflowRun{
		ID:         id,
		WorkflowID: workflowID,
		Status:     status,
		Inputs:     map[string]any{"topic": "queues"},
		Outputs:    map[string]any{"a": "draft", "b": "final"},
		StepResults: []workflow.StepResult{
			{
				StepID:      "a",
				Status:      workflow.StepStatusCompleted,
				Output:      "draft",
				Attempts:    1,
				StartedAt:   started,
				CompletedAt: started.Add(10 * time.Millisecond),
			},
			{
				StepID:      "b",
				Status:      workflow.StepStatusSkipped,
				StartedAt:   started.Add(10 * time.Millisecond),
				CompletedAt: started.Add(11 * time.Millisecond),
			},
		},
		StartedAt:   started,
		CompletedAt: started.Add(20 * time.Millisecond),
	}
}

func testSaveAndGetRun(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	run := NewRun("run_1", "wf_1", workflow.RunStatusCompleted, time.Now())

	require.NoError(t, b.SaveRun(ctx, run))

	got, err := b.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.WorkflowID, got.WorkflowID)
	assert.Equal(t, run.Status, got.Status)
	assert.Equal(t, "queues", got.Inputs["topic"])
	assert.Equal(t, "final", got.Outputs["b"])
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.True(t, run.CompletedAt.Equal(got.CompletedAt))
	assert.Equal(t, int64(20), got.DurationMs())

	require.Len(t, got.StepResults, 2)
	assert.Equal(t, "a", got.StepResults[0].StepID)
	assert.Equal(t, "draft", got.StepResults[0].Output)
	assert.Equal(t, 1, got.StepResults[0].Attempts)
	assert.Equal(t, workflow.StepStatusSkipped, got.StepResults[1].Status)
	assert.Equal(t, int64(10), got.StepResults[0].DurationMs())

	assert.Error(t, b.SaveRun(ctx, &workflow.WorkflowRun{}))
}

func testSaveRunReplaces(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	run := NewRun("run_1", "wf_1", workflow.RunStatusRunning, time.Now())
	require.NoError(t, b.SaveRun(ctx, run))

	run.Status = workflow.RunStatusFailed
	run.Error = "step b failed"
	run.StepResults = run.StepResults[:1]
	require.NoError(t, b.SaveRun(ctx, run))

	got, err := b.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusFailed, got.Status)
	assert.Equal(t, "step b failed", got.Error)
	assert.Len(t, got.StepResults, 1)
}

func testGetRunNotFound(t *testing.T, b backend.Backend) {
	_, err := b.GetRun(context.Background(), "run_missing")
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func testListRuns(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	runs := []*workflow.WorkflowRun{
		NewRun("run_1", "wf_a", workflow.RunStatusCompleted, base),
		NewRun("run_2", "wf_a", workflow.RunStatusFailed, base.Add(time.Minute)),
		NewRun("run_3", "wf_b", workflow.RunStatusCompleted, base.Add(2*time.Minute)),
		NewRun("run_4", "wf_a", workflow.RunStatusCompleted, base.Add(3*time.Minute)),
	}
	for _, r := range runs {
		require.NoError(t, b.SaveRun(ctx, r))
	}

	ids := func(rs []*workflow.WorkflowRun) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	all, err := b.ListRuns(ctx, backend.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_4", "run_3", "run_2", "run_1"}, ids(all))

	completed, err := b.ListRuns(ctx, backend.RunFilter{Status: workflow.RunStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_4", "run_3", "run_1"}, ids(completed))

	wfA, err := b.ListRuns(ctx, backend.RunFilter{WorkflowID: "wf_a", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_4", "run_2"}, ids(wfA))

	paged, err := b.ListRuns(ctx, backend.RunFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"run_3", "run_2"}, ids(paged))

	beyond, err := b.ListRuns(ctx, backend.RunFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func testDeleteRun(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	require.NoError(t, b.SaveRun(ctx, NewRun("run_1", "wf_1", workflow.RunStatusCompleted, time.Now())))

	require.NoError(t, b.DeleteRun(ctx, "run_1"))
	_, err := b.GetRun(ctx, "run_1")
	assert.True(t, errors.IsNotFound(err))

	assert.NoError(t, b.DeleteRun(ctx, "run_1"))
}

func testWorkflows(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	w := workflow.NewWorkflow("beta",
		&workflow.Step{ID: "a", Action: "echo", InputTemplate: "{{inputs.x}}"},
		&workflow.Step{ID: "b", DependsOn: []string{"a"}, Condition: "steps.a != None", RetryCount: 2},
	)
	other := workflow.NewWorkflow("alpha")

	require.NoError(t, b.SaveWorkflow(ctx, w))
	require.NoError(t, b.SaveWorkflow(ctx, other))

	got, err := b.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Name)
	assert.Equal(t, workflow.WorkflowStatusActive, got.Status)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, []string{"a"}, got.Steps[1].DependsOn)
	assert.Equal(t, 2, got.Steps[1].RetryCount)
	assert.Equal(t, "steps.a != None", got.Steps[1].Condition)

	list, err := b.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)

	_, err = b.GetWorkflow(ctx, "wf_missing")
	assert.True(t, errors.IsNotFound(err))
}
