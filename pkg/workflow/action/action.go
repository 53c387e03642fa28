// Package action provides the handlers that run non-agent workflow steps.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/stepflow/pkg/errors"
)

// Request carries everything a handler may need about the step it runs.
type Request struct {
	// RunID is the workflow run the step belongs to
	RunID string

	// StepID identifies the step being executed
	StepID string

	// Action is the handler name the step asked for
	Action string

	// Input is the step's rendered input template
	Input string

	// Inputs are the run's inputs
	Inputs map[string]any

	// Metadata is the step's metadata map
	Metadata map[string]any
}

// Handler executes one action step and returns its output.
type Handler func(ctx context.Context, req Request) (any, error)

// Registry maps action names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// NewDefaultRegistry creates a registry holding the built-in actions:
// echo, jq, sleep and fail.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.handlers["echo"] = Echo
	r.handlers["jq"] = NewJQ().Handle
	r.handlers["sleep"] = Sleep
	r.handlers["fail"] = Fail
	return r
}

// Register adds a handler under name.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return &errors.ValidationError{Field: "name", Message: "action name cannot be empty"}
	}
	if h == nil {
		return fmt.Errorf("cannot register nil handler for action %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return &errors.DuplicateError{Resource: "action", ID: name}
	}
	r.handlers[name] = h
	return nil
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "action", ID: name}
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler named by req.Action.
func (r *Registry) Dispatch(ctx context.Context, req Request) (any, error) {
	h, err := r.Get(req.Action)
	if err != nil {
		return nil, err
	}
	return h(ctx, req)
}
