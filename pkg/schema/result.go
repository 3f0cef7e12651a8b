package schema

import "time"

// ExecutionResult is the outcome a step body reports for a pointer.
type ExecutionResult struct {
	Proceed      bool          `json:"proceed"`
	OutcomeValue any           `json:"outcome_value,omitempty"`
	BranchValues []any         `json:"branch_values,omitempty"`
	SleepFor     time.Duration `json:"sleep_for,omitempty"`
}

// Next proceeds to the step's successors.
func Next() ExecutionResult {
	return ExecutionResult{Proceed: true}
}

// Outcome proceeds along the outcome routes matching value.
func Outcome(value any) ExecutionResult {
	return ExecutionResult{Proceed: true, OutcomeValue: value}
}

// Branch starts the step's children once per value, inside the pointer's scope.
func Branch(values ...any) ExecutionResult {
	return ExecutionResult{BranchValues: values}
}

// Sleep parks the pointer until the duration elapses.
func Sleep(d time.Duration) ExecutionResult {
	return ExecutionResult{SleepFor: d}
}

// ExecutionError records a non-fatal failure observed during a processing cycle.
type ExecutionError struct {
	WorkflowID string    `json:"workflow_id"`
	PointerID  string    `json:"pointer_id,omitempty"`
	StepID     string    `json:"step_id,omitempty"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// PointerTransition records one pointer state change made during a cycle.
type PointerTransition struct {
	PointerID string        `json:"pointer_id,omitempty"`
	StepID    string        `json:"step_id,omitempty"`
	From      PointerStatus `json:"from,omitempty"`
	To        PointerStatus `json:"to,omitempty"`
	Event     string        `json:"event"`
	At        time.Time     `json:"at"`
}

// ExecutorResult accumulates side effects of one processing cycle.
// Collaborators append to it; the executor persists it after the cycle.
type ExecutorResult struct {
	Errors      []ExecutionError    `json:"errors,omitempty"`
	Transitions []PointerTransition `json:"transitions,omitempty"`
}

// AddError appends an execution error.
func (r *ExecutorResult) AddError(e ExecutionError) {
	r.Errors = append(r.Errors, e)
}

// Record appends a transition.
func (r *ExecutorResult) Record(t PointerTransition) {
	r.Transitions = append(r.Transitions, t)
}
