package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity separates blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// maxIssuesInMessage caps how many issues ToError spells out.
const maxIssuesInMessage = 3

// ValidationIssue is one problem found in a definition document. Path is a
// document locator such as "steps[2].cancel_condition"; "/" is the root.
type ValidationIssue struct {
	Path     string             `json:"path"`
	StepID   string             `json:"step_id,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues of every validation stage.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no blocking issue was found.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// AddStepError records a blocking issue attributed to a step.
func (r *ValidationResult) AddStepError(stepID, path, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, StepID: stepID, Code: ErrCodeValidation, Message: message, Severity: SeverityError,
	})
}

// AddStepWarning records an advisory issue attributed to a step.
func (r *ValidationResult) AddStepWarning(stepID, path, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, StepID: stepID, Code: ErrCodeValidation, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid result. Otherwise the VALIDATION_ERROR
// message lists the first few issues and Details carries all of them.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	var msg string
	if len(r.Errors) == 1 {
		msg = r.Errors[0].String()
	} else {
		shown := r.Errors[:min(len(r.Errors), maxIssuesInMessage)]
		parts := make([]string, len(shown))
		for i, issue := range shown {
			parts[i] = issue.String()
		}
		msg = fmt.Sprintf("%d validation errors: %s", len(r.Errors), strings.Join(parts, "; "))
		if len(r.Errors) > maxIssuesInMessage {
			msg += "; ..."
		}
	}

	err := NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
	if step := r.Errors[0].StepID; step != "" {
		err = err.WithStep(step)
	}
	return err
}
