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

// Package backend provides storage for finished workflow runs and for
// workflow definitions.
//
// # Interface Hierarchy
//
//   - RunStore (core, required): SaveRun, GetRun
//   - RunLister (optional): ListRuns, DeleteRun
//   - WorkflowStore (optional): SaveWorkflow, GetWorkflow, ListWorkflows
//   - io.Closer (optional): Close
//
// The engine only needs SaveRun, so any RunStore can be passed to
// workflow.WithStore. Components that need more use type assertions:
//
//	if lister, ok := store.(backend.RunLister); ok {
//	    runs, err := lister.ListRuns(ctx, backend.RunFilter{Status: "failed"})
//	}
package backend

import (
	"context"
	"io"
	"sort"

	"github.com/tombee/stepflow/pkg/workflow"
)

// RunStore is the core interface for run storage. SaveRun inserts or
// replaces a run; GetRun returns a *errors.NotFoundError for unknown IDs.
type RunStore interface {
	SaveRun(ctx context.Context, run *workflow.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error)
}

// RunLister is an optional interface for listing and deleting runs.
type RunLister interface {
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*workflow.WorkflowRun, error)

	// DeleteRun removes a run. Deleting an unknown run is not an error.
	DeleteRun(ctx context.Context, id string) error
}

// WorkflowStore is an optional interface for workflow definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)
}

// Backend is the full storage interface.
type Backend interface {
	RunStore
	RunLister
	WorkflowStore
	io.Closer
}

// RunFilter contains filtering options for listing runs.
type RunFilter struct {
	Status     workflow.RunStatus
	WorkflowID string
	Limit      int
	Offset     int
}

// Match reports whether run passes the status and workflow filters.
func (f RunFilter) Match(run *workflow.WorkflowRun) bool {
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	if f.WorkflowID != "" && run.WorkflowID != f.WorkflowID {
		return false
	}
	return true
}

// Page applies Offset and Limit to runs already sorted and filtered.
func (f RunFilter) Page(runs []*workflow.WorkflowRun) []*workflow.WorkflowRun {
	if f.Offset > 0 {
		if f.Offset >= len(runs) {
			return []*workflow.WorkflowRun{}
		}
		runs = runs[f.Offset:]
	}
	if f.Limit > 0 && len(runs) > f.Limit {
		runs = runs[:f.Limit]
	}
	return runs
}

// SortNewestFirst orders runs by start time, newest first, breaking ties by
// ID so the order is stable.
func SortNewestFirst(runs []*workflow.WorkflowRun) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}
