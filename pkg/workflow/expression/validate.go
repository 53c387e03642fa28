package expression

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Matches steps.id and steps["id"] references. Step ids may contain
// letters, digits, underscore and hyphen.
var (
	dottedStepPattern  = regexp.MustCompile(`\bsteps\.([a-zA-Z_][a-zA-Z0-9_-]*)`)
	indexedStepPattern = regexp.MustCompile(`\bsteps\[\s*["']([^"']+)["']\s*\]`)
)

// StepReferences returns the sorted, unique step ids referenced by an
// expression.
func StepReferences(expression string) []string {
	set := make(map[string]struct{})
	for _, pattern := range []*regexp.Regexp{dottedStepPattern, indexedStepPattern} {
		for _, match := range pattern.FindAllStringSubmatch(expression, -1) {
			if len(match) > 1 {
				set[match[1]] = struct{}{}
			}
		}
	}

	refs := make([]string, 0, len(set))
	for id := range set {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs
}

// ValidateStepReferences reports step ids referenced by expression that are
// not in knownStepIDs.
//
//	err := ValidateStepReferences(`steps.check == "ok"`, []string{"check", "build"})
//	// nil
func ValidateStepReferences(expression string, knownStepIDs []string) error {
	refs := StepReferences(expression)
	if len(refs) == 0 {
		return nil
	}

	known := make(map[string]bool, len(knownStepIDs))
	for _, id := range knownStepIDs {
		known[id] = true
	}

	var unknown []string
	for _, id := range refs {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("expression references unknown step(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}
