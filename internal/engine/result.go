package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/cascade/internal/cancellation"
	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/pkg/schema"
)

// ResultProcessor applies a step's ExecutionResult to its pointer: completing
// it and creating successors, fanning out children, or putting it to sleep.
type ResultProcessor struct {
	clock cancellation.Clock
	newID func() string
}

// NewResultProcessor creates a ResultProcessor. clock defaults to the system clock.
func NewResultProcessor(clock cancellation.Clock) *ResultProcessor {
	if clock == nil {
		clock = cancellation.SystemClock{}
	}
	return &ResultProcessor{clock: clock, newID: func() string { return uuid.New().String() }}
}

// ProcessExecutionResult mutates wf in place and records each change in acc.
func (r *ResultProcessor) ProcessExecutionResult(_ context.Context, wf *schema.WorkflowInstance, def *definition.Workflow,
	ptr *schema.ExecutionPointer, step *definition.Step, result schema.ExecutionResult, acc *schema.ExecutorResult) error {
	if step == nil || ptr.StepID != step.ID {
		return schema.NewErrorf(schema.ErrCodeExecution, "pointer %s does not belong to the given step", ptr.ID)
	}
	if acc == nil {
		acc = &schema.ExecutorResult{}
	}
	now := r.clock.UtcNow()

	if result.Proceed {
		r.complete(ptr, result.OutcomeValue, now, acc)
		for _, o := range step.Outcomes {
			if !outcomeMatches(o.Value, result.OutcomeValue) {
				continue
			}
			next := def.Step(o.Next)
			if next == nil {
				return schema.NewErrorf(schema.ErrCodeExecution, "outcome references unknown step %q", o.Next).WithStep(step.ID)
			}
			r.spawn(wf, next, ptr.ID, ptr.ContextItem, slices.Clone(ptr.Scope), now, acc)
		}
		return nil
	}

	if len(result.BranchValues) > 0 {
		if len(step.Children) == 0 {
			return schema.NewError(schema.ErrCodeExecution, "branch result on a step without children").WithStep(step.ID)
		}
		scope := append([]string{ptr.ID}, ptr.Scope...)
		for _, value := range result.BranchValues {
			for _, childID := range step.Children {
				child := def.Step(childID)
				if child == nil {
					return schema.NewErrorf(schema.ErrCodeExecution, "unknown child step %q", childID).WithStep(step.ID)
				}
				created := r.spawn(wf, child, ptr.ID, value, slices.Clone(scope), now, acc)
				ptr.Children = append(ptr.Children, created.ID)
			}
		}
		if ptr.Status != schema.PointerStatusRunning {
			r.move(ptr, schema.PointerStatusRunning, "", now, acc)
		}
		return nil
	}

	if result.SleepFor > 0 {
		until := now.Add(result.SleepFor)
		ptr.SleepUntil = &until
		r.move(ptr, schema.PointerStatusSleeping, schema.EventPointerSleeping, now, acc)
		return nil
	}

	return schema.NewError(schema.ErrCodeExecution, "empty execution result").WithStep(step.ID)
}

func (r *ResultProcessor) complete(ptr *schema.ExecutionPointer, outcome any, now time.Time, acc *schema.ExecutorResult) {
	ptr.Active = false
	ptr.EndTime = &now
	ptr.SleepUntil = nil
	ptr.Outcome = outcome
	r.move(ptr, schema.PointerStatusComplete, schema.EventPointerCompleted, now, acc)
}

func (r *ResultProcessor) spawn(wf *schema.WorkflowInstance, step *definition.Step, predecessor string, item any,
	scope []string, now time.Time, acc *schema.ExecutorResult) *schema.ExecutionPointer {
	ptr := &schema.ExecutionPointer{
		ID:            r.newID(),
		StepID:        step.ID,
		StepName:      step.Name,
		Active:        true,
		Status:        schema.PointerStatusPending,
		StartTime:     &now,
		PredecessorID: predecessor,
		ContextItem:   item,
		Scope:         scope,
	}
	wf.ExecutionPointers.Add(ptr)
	acc.Record(schema.PointerTransition{
		PointerID: ptr.ID,
		StepID:    ptr.StepID,
		To:        ptr.Status,
		Event:     schema.EventPointerCreated,
		At:        now,
	})
	return ptr
}

func (r *ResultProcessor) move(ptr *schema.ExecutionPointer, to schema.PointerStatus, event string, now time.Time, acc *schema.ExecutorResult) {
	from := ptr.Status
	ptr.Status = to
	if event == "" {
		return
	}
	acc.Record(schema.PointerTransition{
		PointerID: ptr.ID,
		StepID:    ptr.StepID,
		From:      from,
		To:        to,
		Event:     event,
		At:        now,
	})
}

// outcomeMatches compares an outcome route value with a reported outcome.
// A route without a value only matches a result without one.
func outcomeMatches(route, reported any) bool {
	if route == nil || reported == nil {
		return route == nil && reported == nil
	}
	return fmt.Sprint(route) == fmt.Sprint(reported)
}

var _ cancellation.ResultProcessor = (*ResultProcessor)(nil)
