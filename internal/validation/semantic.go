package validation

import (
	"fmt"

	"github.com/rendis/cascade/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot express: unique step
// IDs, outcome and children references, and cancel condition compilation.
func validateSemantic(def *schema.WorkflowDefinition, conditions ConditionChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if stepIDs[s.ID] {
			result.AddStepError(s.ID, fmt.Sprintf("steps[%d].id", i), fmt.Sprintf("duplicate step id %q", s.ID))
		}
		stepIDs[s.ID] = true
	}

	for i := range def.Steps {
		validateStepSemantic(&def.Steps[i], fmt.Sprintf("steps[%d]", i), stepIDs, conditions, result)
	}
	return result
}

func validateStepSemantic(step *schema.StepDefinition, path string, stepIDs map[string]bool, conditions ConditionChecker, result *schema.ValidationResult) {
	for j, o := range step.Outcomes {
		if !stepIDs[o.Next] {
			result.AddStepError(step.ID, fmt.Sprintf("%s.outcomes[%d].next", path, j),
				fmt.Sprintf("references non-existent step %q", o.Next))
		}
	}

	for j, child := range step.Children {
		switch {
		case !stepIDs[child]:
			result.AddStepError(step.ID, fmt.Sprintf("%s.children[%d]", path, j),
				fmt.Sprintf("references non-existent step %q", child))
		case child == step.ID:
			result.AddStepError(step.ID, fmt.Sprintf("%s.children[%d]", path, j), "step cannot contain itself")
		}
	}

	if step.CancelCondition == nil {
		if step.ProceedOnCancel {
			result.AddStepWarning(step.ID, path+".proceed_on_cancel",
				"proceed_on_cancel has no effect without a cancel_condition")
		}
		return
	}

	if conditions != nil {
		if err := conditions.Check(step.CancelCondition); err != nil {
			result.AddStepError(step.ID, path+".cancel_condition", err.Error())
		}
	}
}
