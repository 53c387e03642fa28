// Package tools provides the tool abstraction and a name-keyed registry.
//
// A Registry is owned by whoever constructs it (normally the agent Runner);
// there is no package-level registry.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/stepflow/pkg/errors"
)

// Registry maintains a collection of registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry pre-populated with the given tools.
// Duplicate names cause an error.
func NewRegistry(initial ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range initial {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}

	name := tool.Name()
	if name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "tool name cannot be empty",
			Suggestion: "give the tool a unique name",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return &errors.DuplicateError{Resource: "tool", ID: name}
	}

	r.tools[name] = tool
	return nil
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return &errors.NotFoundError{Resource: "tool", ID: name}
	}

	delete(r.tools, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "tool", ID: name}
	}
	return tool, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered tools ordered by name.
func (r *Registry) List() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// Descriptors returns function-calling descriptors for every tool, ordered by
// name.
func (r *Registry) Descriptors() []Descriptor {
	tools := r.List()
	out := make([]Descriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, Describe(t))
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Clear removes every tool.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]Tool)
}

// Execute runs a tool by name after checking its required inputs.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (any, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if err := validateInput(tool, input); err != nil {
		return nil, &errors.ValidationError{
			Field:      "input",
			Message:    fmt.Sprintf("input validation failed for tool %s: %v", name, err),
			Suggestion: "Check the tool parameters for required inputs",
		}
	}

	out, err := tool.Execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("tool execution failed for %s: %w", name, err)
	}
	return out, nil
}

// Filter creates a new registry containing only the named tools. Every name
// must be registered.
func (r *Registry) Filter(allowedNames []string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := &Registry{tools: make(map[string]Tool, len(allowedNames))}
	for _, name := range allowedNames {
		tool, exists := r.tools[name]
		if !exists {
			return nil, &errors.ValidationError{
				Field:      "tools",
				Message:    fmt.Sprintf("unknown tool: %s", name),
				Suggestion: fmt.Sprintf("register %s before assigning it to an agent", name),
			}
		}
		filtered.tools[name] = tool
	}
	return filtered, nil
}
