package tools

import (
	"context"
	"fmt"
)

// Tool is a named callable capability an agent may invoke.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// Parameters returns the JSON schema of the tool input
	Parameters() *ParameterSchema

	// Execute runs the tool with the given input and returns its result
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// ParameterSchema describes tool input using JSON Schema conventions.
type ParameterSchema struct {
	// Type is the JSON type, normally "object"
	Type string `json:"type"`

	// Properties defines nested properties (for type="object")
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required lists the required property names
	Required []string `json:"required,omitempty"`

	// Description provides human-readable context
	Description string `json:"description,omitempty"`
}

// Property defines a single property in a parameter schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Func is the signature of a function-backed tool.
type Func func(ctx context.Context, input map[string]any) (any, error)

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	name        string
	description string
	parameters  *ParameterSchema
	fn          Func
}

// NewFunc creates a Tool from fn. A nil schema is treated as an object with
// no declared properties.
func NewFunc(name, description string, parameters *ParameterSchema, fn Func) *FuncTool {
	if parameters == nil {
		parameters = &ParameterSchema{Type: "object", Properties: map[string]*Property{}}
	}
	return &FuncTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

func (t *FuncTool) Name() string                 { return t.name }
func (t *FuncTool) Description() string          { return t.description }
func (t *FuncTool) Parameters() *ParameterSchema { return t.parameters }

// Execute calls the wrapped function. A panic in the function is returned as
// an error.
func (t *FuncTool) Execute(ctx context.Context, input map[string]any) (result any, err error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %s has no function", t.name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.name, r)
		}
	}()
	return t.fn(ctx, input)
}

// Descriptor is the function-calling description of a tool sent to the model.
type Descriptor struct {
	Type     string             `json:"type"`
	Function DescriptorFunction `json:"function"`
}

// DescriptorFunction is the inner "function" object of a Descriptor.
type DescriptorFunction struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  *ParameterSchema `json:"parameters"`
}

// Describe builds the descriptor for a single tool.
func Describe(t Tool) Descriptor {
	return Descriptor{
		Type: "function",
		Function: DescriptorFunction{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// validateInput checks required fields only.
func validateInput(t Tool, input map[string]any) error {
	schema := t.Parameters()
	if schema == nil {
		return nil
	}
	for _, required := range schema.Required {
		if _, ok := input[required]; !ok {
			return fmt.Errorf("required input missing: %s", required)
		}
	}
	return nil
}
