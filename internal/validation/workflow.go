package validation

import "github.com/rendis/cascade/pkg/schema"

// WorkflowValidator runs the JSON Schema first and the semantic checks only
// on structurally valid documents.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	conditions ConditionChecker
}

// NewWorkflowValidator creates a WorkflowValidator.
// conditions may be nil to skip condition compilation.
func NewWorkflowValidator(conditions ConditionChecker) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		conditions: conditions,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{Errors: wv.jsonSchema.Issues(def)}
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.conditions))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

var _ Validator = (*WorkflowValidator)(nil)
