package cancellation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/pkg/schema"
)

// shouldCancel invokes the step's cancel condition once. Any failure,
// including a panic inside the predicate, is logged, recorded in acc and
// treated as "do not cancel".
func (p *Processor) shouldCancel(ctx context.Context, wf *schema.WorkflowInstance, step *definition.Step, acc *schema.ExecutorResult) bool {
	fire, err := invoke(ctx, step, wf.Data)
	if err == nil {
		return fire
	}

	now := p.clock.UtcNow()
	logging.LogWith(logging.WithStepID(ctx, step.ID), p.logger).Error("cancel condition failed",
		slog.String("error", err.Error()),
	)
	acc.AddError(schema.ExecutionError{
		WorkflowID: wf.ID,
		StepID:     step.ID,
		Code:       schema.ErrCodePredicateFailed,
		Message:    err.Error(),
		Time:       now,
	})
	acc.Record(schema.PointerTransition{
		StepID: step.ID,
		Event:  schema.EventCancelConditionFailed,
		At:     now,
	})
	return false
}

func invoke(ctx context.Context, step *definition.Step, data map[string]any) (fire bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodePredicateFailed, "cancel condition panicked: %v", r).
				WithStep(step.ID)
		}
	}()
	fire, err = step.CancelCondition(ctx, data)
	if err != nil {
		return false, schema.NewError(schema.ErrCodePredicateFailed, fmt.Sprintf("evaluate cancel condition: %s", err.Error())).
			WithStep(step.ID).WithCause(err)
	}
	return fire, nil
}
