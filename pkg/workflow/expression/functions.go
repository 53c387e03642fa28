package expression

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
)

// functions returns the helper functions available to conditions. "contains"
// is an expr operator, so membership is exposed as has/includes.
func functions() []expr.Option {
	return []expr.Option{
		expr.Function("has", hasFunc),
		expr.Function("includes", hasFunc),
		expr.Function("length", lengthFunc),
	}
}

// hasFunc reports whether a slice holds an element, a map holds a key or a
// string holds a substring.
func hasFunc(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has requires exactly 2 arguments, got %d", len(args))
	}

	collection, target := args[0], args[1]
	if collection == nil {
		return false, nil
	}

	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), target) {
				return true, nil
			}
		}
		return false, nil

	case reflect.Map:
		key := reflect.ValueOf(target)
		if !key.IsValid() || !key.Type().AssignableTo(v.Type().Key()) {
			return false, nil
		}
		return v.MapIndex(key).IsValid(), nil

	case reflect.String:
		substr, ok := target.(string)
		if !ok || substr == "" {
			return false, nil
		}
		return strings.Contains(v.String(), substr), nil

	default:
		return false, nil
	}
}

// lengthFunc returns the length of a collection or string; nil is 0.
func lengthFunc(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length requires exactly 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return 0, nil
	}

	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len(), nil
	default:
		return nil, fmt.Errorf("length: unsupported type %T", args[0])
	}
}
