package schema

import "time"

// WorkflowInstance is one run of a workflow definition.
type WorkflowInstance struct {
	ID                string            `json:"id"`
	DefinitionID      string            `json:"definition_id"`
	Version           int               `json:"version"`
	Description       string            `json:"description,omitempty"`
	Reference         string            `json:"reference,omitempty"`
	Status            WorkflowStatus    `json:"status"`
	Data              map[string]any    `json:"data,omitempty"`
	ExecutionPointers PointerCollection `json:"execution_pointers"`
	NextExecution     *time.Time        `json:"next_execution,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	CompleteTime      *time.Time        `json:"complete_time,omitempty"`
}

// ExecutionPointer tracks one instantiation of a step within an instance.
type ExecutionPointer struct {
	ID            string        `json:"id"`
	StepID        string        `json:"step_id"`
	StepName      string        `json:"step_name,omitempty"`
	Active        bool          `json:"active"`
	Status        PointerStatus `json:"status"`
	SleepUntil    *time.Time    `json:"sleep_until,omitempty"`
	StartTime     *time.Time    `json:"start_time,omitempty"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	PredecessorID string        `json:"predecessor_id,omitempty"`
	ContextItem   any           `json:"context_item,omitempty"`
	Children      []string      `json:"children,omitempty"`
	Outcome       any           `json:"outcome,omitempty"`
	RetryCount    int           `json:"retry_count,omitempty"`
	// Scope is the ancestor stack, innermost first.
	Scope []string `json:"scope,omitempty"`
}

// InScope reports whether ancestorID appears in the pointer's scope stack.
func (p *ExecutionPointer) InScope(ancestorID string) bool {
	for _, id := range p.Scope {
		if id == ancestorID {
			return true
		}
	}
	return false
}

// PointerCollection is the ordered pointer set of an instance.
type PointerCollection []*ExecutionPointer

// Add appends a pointer.
func (c *PointerCollection) Add(p *ExecutionPointer) {
	*c = append(*c, p)
}

// FindByID returns the pointer with the given ID, or nil.
func (c PointerCollection) FindByID(id string) *ExecutionPointer {
	for _, p := range c {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindByStepID returns every pointer instantiating the given step, in collection order.
func (c PointerCollection) FindByStepID(stepID string) []*ExecutionPointer {
	var out []*ExecutionPointer
	for _, p := range c {
		if p.StepID == stepID {
			out = append(out, p)
		}
	}
	return out
}

// FindByScope returns every pointer whose scope stack lists id.
// Linear scan; for repeated queries build a scope.Index instead.
func (c PointerCollection) FindByScope(id string) []*ExecutionPointer {
	var out []*ExecutionPointer
	for _, p := range c {
		if p.InScope(id) {
			out = append(out, p)
		}
	}
	return out
}

// Live returns pointers whose status is not terminal.
func (c PointerCollection) Live() []*ExecutionPointer {
	var out []*ExecutionPointer
	for _, p := range c {
		if !p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out
}
