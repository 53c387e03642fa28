package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	sferrors "github.com/tombee/stepflow/pkg/errors"
)

func echoTool(name string) Tool {
	return NewFunc(name, "echoes its input", &ParameterSchema{
		Type: "object",
		Properties: map[string]*Property{
			"text": {Type: "string", Description: "text to echo"},
		},
		Required: []string{"text"},
	}, func(ctx context.Context, input map[string]any) (any, error) {
		return input["text"], nil
	})
}

func TestRegistry_Register(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		name    string
		tool    Tool
		wantErr bool
	}{
		{name: "valid tool", tool: echoTool("echo"), wantErr: false},
		{name: "nil tool", tool: nil, wantErr: true},
		{name: "empty name", tool: NewFunc("", "", nil, nil), wantErr: true},
		{name: "duplicate", tool: echoTool("echo"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.tool)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var dup *sferrors.DuplicateError
	if err := r.Register(echoTool("echo")); !errors.As(err, &dup) {
		t.Errorf("Register() duplicate error = %T, want *DuplicateError", err)
	}
}

func TestNewRegistry_Duplicates(t *testing.T) {
	if _, err := NewRegistry(echoTool("a"), echoTool("a")); err == nil {
		t.Fatal("NewRegistry() with duplicate names should fail")
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r, _ := NewRegistry(echoTool("b"), echoTool("a"))

	if !r.Has("a") || r.Has("missing") {
		t.Errorf("Has() mismatch")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Names() = %v, want [a b]", got)
	}

	_, err := r.Get("missing")
	if !sferrors.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want NotFoundError", err)
	}

	if err := r.Unregister("a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := r.Unregister("a"); !sferrors.IsNotFound(err) {
		t.Errorf("second Unregister() error = %v, want NotFoundError", err)
	}

	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d", r.Len())
	}
}

func TestRegistry_Execute(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))

	out, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "hi" {
		t.Errorf("Execute() = %v, want hi", out)
	}

	_, err = r.Execute(context.Background(), "echo", map[string]any{})
	var ve *sferrors.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("Execute() missing input error = %v, want ValidationError", err)
	}
}

func TestFuncTool_Panic(t *testing.T) {
	tool := NewFunc("boom", "", nil, func(ctx context.Context, input map[string]any) (any, error) {
		panic("kaboom")
	})
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected panic to be converted to an error")
	}
}

func TestRegistry_Filter(t *testing.T) {
	r, _ := NewRegistry(echoTool("a"), echoTool("b"), echoTool("c"))

	filtered, err := r.Filter([]string{"a", "c"})
	if err != nil {
		t.Fatalf("Filter() error = %v", err)
	}
	if got := filtered.Names(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("Filter().Names() = %v", got)
	}

	if _, err := r.Filter([]string{"a", "zzz"}); err == nil {
		t.Error("Filter() with unknown tool should fail")
	}
}

func TestDescriptors_JSONShape(t *testing.T) {
	r, _ := NewRegistry(echoTool("echo"))

	raw, err := json.Marshal(r.Descriptors())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("len = %d, want 1", len(decoded))
	}
	if decoded[0]["type"] != "function" {
		t.Errorf("type = %v, want function", decoded[0]["type"])
	}
	fn := decoded[0]["function"].(map[string]any)
	if fn["name"] != "echo" {
		t.Errorf("function.name = %v", fn["name"])
	}
	params := fn["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Errorf("parameters.type = %v", params["type"])
	}
}
