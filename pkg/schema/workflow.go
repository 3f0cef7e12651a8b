package schema

// WorkflowDefinition is the serializable workflow format, loaded from JSON or YAML.
type WorkflowDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Version     int              `json:"version" yaml:"version"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Metadata    map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Outcomes []StepOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	// Children are the step IDs started inside this step's scope when it branches.
	Children        []string   `json:"children,omitempty" yaml:"children,omitempty"`
	CancelCondition *Condition `json:"cancel_condition,omitempty" yaml:"cancel_condition,omitempty"`
	ProceedOnCancel bool       `json:"proceed_on_cancel,omitempty" yaml:"proceed_on_cancel,omitempty"`
}

// StepOutcome routes a completed step to its successor.
// A nil Value matches any outcome.
type StepOutcome struct {
	Next  string `json:"next" yaml:"next"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Condition is a boolean expression evaluated against workflow data.
type Condition struct {
	Engine     string `json:"engine,omitempty" yaml:"engine,omitempty"` // cel | expr | jq (default: cel)
	Expression string `json:"expression" yaml:"expression"`
}
