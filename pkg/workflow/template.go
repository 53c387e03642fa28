package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{inputs.KEY}} and {{steps.ID.output}} exactly,
// with no whitespace inside the braces. Step ids may themselves contain dots,
// so the id match is anchored on ".output}}".
var placeholderPattern = regexp.MustCompile(`\{\{(?:inputs\.([^{}\s]+?)|steps\.([^{}\s]+?)\.output)\}\}`)

// RenderTemplate substitutes input and step-output placeholders in tmpl.
// Placeholders whose key is absent are left untouched, as is any other
// {{...}} text. Substituted values are not expanded again.
//
//	RenderTemplate("Review {{steps.fetch.output}} for {{inputs.lang}}", inputs, outputs)
func RenderTemplate(tmpl string, inputs, stepOutputs map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if key := sub[1]; key != "" {
			if v, ok := inputs[key]; ok {
				return stringify(v)
			}
			return match
		}
		if v, ok := stepOutputs[sub[2]]; ok {
			return stringify(v)
		}
		return match
	})
}

// stringify returns the textual form used in rendered templates. Maps and
// slices render as JSON, nil as "" and bools as true or false.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any, []string, []map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
