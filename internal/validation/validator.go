// Package validation checks workflow definitions before they are registered.
package validation

import "github.com/rendis/cascade/pkg/schema"

// Validator checks workflow definitions for correctness before use.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// ConditionChecker compiles a condition without evaluating it.
// Satisfied by *expressions.Compiler.
type ConditionChecker interface {
	Check(cond *schema.Condition) error
}
