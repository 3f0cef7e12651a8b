// Package definition loads workflow definition documents, compiles their
// cancel conditions and keeps them in a versioned registry.
package definition

import (
	"github.com/rendis/cascade/internal/expressions"
	"github.com/rendis/cascade/pkg/schema"
)

// Step is a step definition with its cancel condition compiled.
type Step struct {
	schema.StepDefinition
	// CancelCondition is nil when the step is never auto-cancelled.
	CancelCondition expressions.Predicate
}

// Workflow is a loaded, runnable workflow definition.
type Workflow struct {
	ID          string
	Version     int
	Description string
	// Steps are kept in declaration order.
	Steps  []*Step
	Source *schema.WorkflowDefinition

	byID map[string]*Step
}

// NewWorkflow builds a Workflow from already compiled steps.
func NewWorkflow(id string, version int, steps ...*Step) *Workflow {
	w := &Workflow{ID: id, Version: version, Steps: steps}
	w.index()
	return w
}

func (w *Workflow) index() {
	w.byID = make(map[string]*Step, len(w.Steps))
	for _, s := range w.Steps {
		w.byID[s.ID] = s
	}
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *Step {
	if w.byID == nil {
		w.index()
	}
	return w.byID[id]
}

// First returns the entry step, or nil for an empty definition.
func (w *Workflow) First() *Step {
	if len(w.Steps) == 0 {
		return nil
	}
	return w.Steps[0]
}

// Cancellable returns the steps that declare a cancel condition, in declaration order.
func (w *Workflow) Cancellable() []*Step {
	var out []*Step
	for _, s := range w.Steps {
		if s.CancelCondition != nil {
			out = append(out, s)
		}
	}
	return out
}
