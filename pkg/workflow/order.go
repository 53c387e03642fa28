package workflow

import (
	"github.com/tombee/stepflow/pkg/errors"
)

// ExecutionOrder groups the workflow's steps into layers. Every dependency of
// a step lives in an earlier layer; steps within a layer are independent and
// may run concurrently. Steps keep their declaration order inside a layer.
//
// A dependency on an unknown step can never be satisfied, so it is reported
// the same way as a cycle: a *errors.CircularDependencyError naming every
// step that could not be placed.
func (w *Workflow) ExecutionOrder() ([][]string, error) {
	ids := make([]string, 0, len(w.Steps))
	deps := make(map[string]map[string]struct{}, len(w.Steps))
	for _, s := range w.Steps {
		if s == nil {
			continue
		}
		ids = append(ids, s.ID)
		set := make(map[string]struct{}, len(s.DependsOn))
		for _, d := range s.DependsOn {
			set[d] = struct{}{}
		}
		deps[s.ID] = set
	}

	placed := make(map[string]bool, len(ids))
	var groups [][]string

	for len(placed) < len(ids) {
		var ready []string
		for _, id := range ids {
			if placed[id] {
				continue
			}
			ok := true
			for d := range deps[id] {
				if !placed[d] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			var unresolved []string
			for _, id := range ids {
				if !placed[id] {
					unresolved = append(unresolved, id)
				}
			}
			return nil, &errors.CircularDependencyError{Unresolved: unresolved}
		}

		for _, id := range ready {
			placed[id] = true
		}
		groups = append(groups, ready)
	}

	if groups == nil {
		groups = [][]string{}
	}
	return groups, nil
}
