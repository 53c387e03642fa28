// Package expression evaluates step conditions.
//
// Conditions are boolean expressions compiled with expr-lang/expr against a
// fixed environment of two namespaces:
//
//   - inputs: the run inputs, e.g. inputs.mode == "strict"
//   - steps: outputs of steps that already completed, keyed by step id,
//     e.g. steps.fetch != None && len(steps.fetch) > 0
//
// Comparisons, and/or/not (or &&, ||, !), membership with "in" and dotted or
// indexed lookups are available. True, False and None are predefined so
// conditions written as True or False behave as expected. The helpers
// has(collection, item), includes(collection, item) and length(x) are also
// available.
//
// expr programs cannot call host functions other than those registered here,
// so user-supplied conditions have no side effects.
package expression
