package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationIssue_String(t *testing.T) {
	assert.Equal(t, "bad", ValidationIssue{Path: "/", Message: "bad"}.String())
	assert.Equal(t, "bad", ValidationIssue{Message: "bad"}.String())
	assert.Equal(t, "steps[0].id: bad", ValidationIssue{Path: "steps[0].id", Message: "bad"}.String())
}

func TestValidationResult_WarningsKeepItValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())

	r.AddStepWarning("ship", "steps[1].proceed_on_cancel", "no cancel condition")
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Equal(t, "ship", r.Warnings[0].StepID)
	assert.Nil(t, r.ToError())
}

func TestValidationResult_StepError(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepError("fanout", "steps[0].children[0]", "step cannot contain itself")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, ValidationIssue{
		Path:     "steps[0].children[0]",
		StepID:   "fanout",
		Code:     ErrCodeValidation,
		Message:  "step cannot contain itself",
		Severity: SeverityError,
	}, r.Errors[0])
}

func TestValidationResult_Merge(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "missing steps")

	other := &ValidationResult{}
	other.AddStepError("a", "steps[0].outcomes[0].next", "dangling")
	other.AddWarning("/", ErrCodeValidation, "unused")

	r.Merge(other)
	r.Merge(nil)
	assert.Len(t, r.Errors, 2)
	assert.Len(t, r.Warnings, 1)
}

func TestValidationResult_ToErrorSingle(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepError("charge", "steps[1].cancel_condition", "CEL compile error")
	r.AddWarning("/", ErrCodeValidation, "unused")

	err := r.ToError()
	var ce *CascadeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrCodeValidation, ce.Code)
	assert.Equal(t, "steps[1].cancel_condition: CEL compile error", ce.Message)
	assert.Equal(t, "charge", ce.StepID)
	assert.Equal(t, 1, ce.Details["error_count"])
	assert.Equal(t, 1, ce.Details["warning_count"])
}

func TestValidationResult_ToErrorTruncates(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "e1")
	r.AddError("/", ErrCodeValidation, "e2")
	r.AddError("/", ErrCodeValidation, "e3")
	r.AddError("/", ErrCodeValidation, "e4")

	err := r.ToError()
	var ce *CascadeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "4 validation errors: e1; e2; e3; ...", ce.Message)
	assert.Empty(t, ce.StepID)
	assert.Equal(t, 4, ce.Details["error_count"])
}

func TestHasCodeUnwraps(t *testing.T) {
	base := NewError(ErrCodeNotFound, "workflow missing")
	wrapped := NewError(ErrCodeStore, "load").WithCause(base)

	assert.True(t, HasCode(base, ErrCodeNotFound))
	assert.True(t, HasCode(wrapped, ErrCodeStore))
	assert.False(t, HasCode(wrapped, ErrCodeNotFound), "the outermost cascade error wins")
	assert.False(t, HasCode(errors.New("plain"), ErrCodeNotFound))
	assert.False(t, HasCode(nil, ErrCodeNotFound))
}
