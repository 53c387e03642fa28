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

// Package memory provides an in-memory backend implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ backend.RunStore      = (*Backend)(nil)
	_ backend.RunLister     = (*Backend)(nil)
	_ backend.WorkflowStore = (*Backend)(nil)
	_ backend.Backend       = (*Backend)(nil)
	_ workflow.RunStore     = (*Backend)(nil)
)

// Backend is an in-memory storage backend. Stored values are copies, so
// callers may keep mutating what they saved.
type Backend struct {
	mu        sync.RWMutex
	runs      map[string]*workflow.WorkflowRun
	workflows map[string]*workflow.Workflow
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		runs:      make(map[string]*workflow.WorkflowRun),
		workflows: make(map[string]*workflow.Workflow),
	}
}

// SaveRun inserts or replaces a run.
func (b *Backend) SaveRun(ctx context.Context, run *workflow.WorkflowRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.runs[run.ID] = copyRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, exists := b.runs[id]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	return copyRun(run), nil
}

// ListRuns lists runs with optional filtering, newest first.
func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*workflow.WorkflowRun, error) {
	b.mu.RLock()
	result := make([]*workflow.WorkflowRun, 0, len(b.runs))
	for _, run := range b.runs {
		if filter.Match(run) {
			result = append(result, copyRun(run))
		}
	}
	b.mu.RUnlock()

	backend.SortNewestFirst(result)
	return filter.Page(result), nil
}

// DeleteRun deletes a run.
func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.runs, id)
	return nil
}

// SaveWorkflow inserts or replaces a workflow definition.
func (b *Backend) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow id required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	c := *w
	c.Steps = append([]*workflow.Step(nil), w.Steps...)
	b.workflows[w.ID] = &c
	return nil
}

// GetWorkflow retrieves a workflow definition by ID.
func (b *Backend) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	w, exists := b.workflows[id]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	c := *w
	c.Steps = append([]*workflow.Step(nil), w.Steps...)
	return &c, nil
}

// ListWorkflows returns all workflow definitions ordered by name.
func (b *Backend) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	b.mu.RLock()
	result := make([]*workflow.Workflow, 0, len(b.workflows))
	for _, w := range b.workflows {
		c := *w
		result = append(result, &c)
	}
	b.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return nil
}

func copyRun(run *workflow.WorkflowRun) *workflow.WorkflowRun {
	c := *run
	c.Inputs = copyMap(run.Inputs)
	if run.Outputs != nil {
		c.Outputs = copyMap(run.Outputs)
	}
	c.StepResults = append([]workflow.StepResult(nil), run.StepResults...)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
