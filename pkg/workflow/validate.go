package workflow

import (
	"fmt"

	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow/expression"
)

// Validate checks the structural rules a workflow must satisfy before it can
// run. Unknown dependencies and cycles both surface as a
// *errors.CircularDependencyError from ExecutionOrder.
func (w *Workflow) Validate() error {
	if w == nil {
		return &errors.ValidationError{Field: "workflow", Message: "workflow is nil"}
	}

	seen := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s == nil {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d]", i),
				Message: "step is nil",
			}
		}
		if s.ID == "" {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].id", i),
				Message:    "step id is required",
				Suggestion: "give every step a unique id",
			}
		}
		if seen[s.ID] {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d].id", i),
				Message:    fmt.Sprintf("duplicate step id %q", s.ID),
				Suggestion: "step ids must be unique within a workflow",
			}
		}
		seen[s.ID] = true

		if s.AgentID != "" && s.Action != "" {
			return &errors.ValidationError{
				Field:      fmt.Sprintf("steps[%d]", i),
				Message:    fmt.Sprintf("step %q sets both agent_id and action", s.ID),
				Suggestion: "a step is dispatched either to an agent or to an action",
			}
		}
		if s.RetryCount < 0 {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].retry_count", i),
				Message: fmt.Sprintf("retry_count must not be negative, got %d", s.RetryCount),
			}
		}
		if s.TimeoutMs < 0 {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("steps[%d].timeout_ms", i),
				Message: fmt.Sprintf("timeout_ms must not be negative, got %d", s.TimeoutMs),
			}
		}
		for _, d := range s.DependsOn {
			if d == s.ID {
				return &errors.CircularDependencyError{Unresolved: []string{s.ID}}
			}
		}
	}

	_, err := w.ExecutionOrder()
	return err
}

// Lint reports problems that do not stop a run: conditions that do not
// compile (they evaluate as true at run time) and conditions that reference
// steps which are not among the step's transitive dependencies.
func (w *Workflow) Lint() []string {
	var warnings []string
	eval := expression.New()

	for _, s := range w.Steps {
		if s == nil || s.Condition == "" {
			continue
		}
		if err := eval.Compile(s.Condition); err != nil {
			warnings = append(warnings, fmt.Sprintf("step %q: condition does not compile and will be treated as true: %v", s.ID, err))
			continue
		}
		if err := expression.ValidateStepReferences(s.Condition, w.ancestors(s.ID)); err != nil {
			warnings = append(warnings, fmt.Sprintf("step %q: %v", s.ID, err))
		}
	}
	return warnings
}

// ancestors returns every step id reachable through depends_on from id.
func (w *Workflow) ancestors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := w.Step(queue[0])
		queue = queue[1:]
		if cur == nil {
			continue
		}
		for _, d := range cur.DependsOn {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
				queue = append(queue, d)
			}
		}
	}
	return out
}
