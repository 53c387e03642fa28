package expression

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/stepflow/pkg/errors"
)

// maxNodes bounds the size of a compiled condition.
const maxNodes = 2000

// Evaluator evaluates condition expressions. Compiled programs are cached by
// source text. Safe for concurrent use.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates expression with the given inputs and step outputs.
// An empty expression is true. A non-boolean result is judged by its
// truthiness: nil, false, zero numbers, empty strings and empty
// collections are false.
//
//	ok, err := eval.Evaluate(`inputs.mode == "strict" and steps.lint != None`, inputs, outputs)
func (e *Evaluator) Evaluate(expression string, inputs, steps map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "condition",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax; reference values as inputs.NAME or steps.STEP_ID",
		}
	}

	result, err := expr.Run(program, env(inputs, steps))
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "condition",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced values exist when the step runs",
		}
	}

	return truthy(result), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}

// Compile checks that expression parses. It does not evaluate it.
func (e *Evaluator) Compile(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	opts := []expr.Option{
		expr.Env(env(nil, nil)),
		expr.AllowUndefinedVariables(),
		expr.MaxNodes(maxNodes),
	}
	opts = append(opts, functions()...)

	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// ClearCache clears the compiled program cache.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// env builds the evaluation environment. Nil maps become empty so lookups
// yield nil rather than failing.
func env(inputs, steps map[string]any) map[string]any {
	if inputs == nil {
		inputs = map[string]any{}
	}
	if steps == nil {
		steps = map[string]any{}
	}
	return map[string]any{
		"inputs": inputs,
		"steps":  steps,
		"True":   true,
		"False":  false,
		"None":   nil,
	}
}
