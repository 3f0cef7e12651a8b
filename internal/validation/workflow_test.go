package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/expressions"
	"github.com/rendis/cascade/pkg/schema"
)

// mockChecker rejects the expressions it was told to reject.
type mockChecker struct {
	reject map[string]bool
	calls  int
}

func (m *mockChecker) Check(cond *schema.Condition) error {
	m.calls++
	if m.reject[cond.Expression] {
		return errors.New("bad expression")
	}
	return nil
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:      "order",
		Version: 1,
		Steps: []schema.StepDefinition{
			{ID: "fanout", Children: []string{"charge"}, Outcomes: []schema.StepOutcome{{Next: "done"}}},
			{ID: "charge", CancelCondition: &schema.Condition{Expression: `data.void`}, ProceedOnCancel: true},
			{ID: "done"},
		},
	}
}

func TestWorkflowValidator_FullValid(t *testing.T) {
	checker := &mockChecker{}
	wv, err := NewWorkflowValidator(checker)
	require.NoError(t, err)

	result := wv.Validate(validDefinition())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1, checker.calls)
}

func TestWorkflowValidator_NilDef(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	result := wv.Validate(nil)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "nil")
}

func TestWorkflowValidator_StructuralErrorsShortCircuit(t *testing.T) {
	checker := &mockChecker{}
	wv, err := NewWorkflowValidator(checker)
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{ID: "empty"}
	result := wv.Validate(def)
	assert.False(t, result.Valid())
	assert.Zero(t, checker.calls)
}

func TestWorkflowValidator_UnknownEngineRejectedBySchema(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := validDefinition()
	def.Steps[1].CancelCondition.Engine = "lua"
	result := wv.Validate(def)
	require.False(t, result.Valid())
	assert.Equal(t, "steps[1].cancel_condition.engine", result.Errors[0].Path)
	assert.Equal(t, def.Steps[1].ID, result.Errors[0].StepID)
}

func TestWorkflowValidator_BrokenReferences(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := validDefinition()
	def.Steps[0].Outcomes = []schema.StepOutcome{{Next: "ghost"}}
	def.Steps[0].Children = []string{"fanout", "missing"}

	result := wv.Validate(def)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "steps[0].outcomes[0].next", result.Errors[0].Path)
	assert.Equal(t, "steps[0].children[0]", result.Errors[1].Path)
	assert.Equal(t, "steps[0].children[1]", result.Errors[2].Path)
}

func TestWorkflowValidator_DuplicateStepID(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := validDefinition()
	def.Steps = append(def.Steps, schema.StepDefinition{ID: "done"})

	err = wv.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate step id "done"`)
	var ce *schema.CascadeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "done", ce.StepID)
}

func TestWorkflowValidator_ConditionCheckFails(t *testing.T) {
	wv, err := NewWorkflowValidator(&mockChecker{reject: map[string]bool{"data.void": true}})
	require.NoError(t, err)

	result := wv.Validate(validDefinition())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "steps[1].cancel_condition", result.Errors[0].Path)
	assert.Equal(t, validDefinition().Steps[1].ID, result.Errors[0].StepID)
}

func TestWorkflowValidator_ProceedWithoutConditionWarns(t *testing.T) {
	wv, err := NewWorkflowValidator(nil)
	require.NoError(t, err)

	def := validDefinition()
	def.Steps[2].ProceedOnCancel = true

	result := wv.Validate(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "steps[2].proceed_on_cancel", result.Warnings[0].Path)
}

func TestWorkflowValidator_WithRealCompiler(t *testing.T) {
	compiler, err := expressions.NewDefaultCompiler()
	require.NoError(t, err)
	wv, err := NewWorkflowValidator(compiler)
	require.NoError(t, err)

	def := validDefinition()
	def.Steps[1].CancelCondition = &schema.Condition{Engine: "jq", Expression: `.data | ]`}

	err = wv.ValidateDefinition(def)
	require.Error(t, err)
	cErr, ok := err.(*schema.CascadeError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, cErr.Code)
}

func TestLocator(t *testing.T) {
	assert.Equal(t, "/", locator(nil))
	assert.Equal(t, "id", locator([]string{"id"}))
	assert.Equal(t, "steps[2].outcomes[0].next", locator([]string{"steps", "2", "outcomes", "0", "next"}))
}

func TestJSONSchemaIssues_MissingSteps(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.Empty(t, v.Issues(validDefinition()))

	issues := v.Issues(&schema.WorkflowDefinition{ID: "x"})
	require.NotEmpty(t, issues)
	assert.Empty(t, issues[0].StepID)
	assert.Equal(t, schema.SeverityError, issues[0].Severity)
}
