// Package cancellation terminates workflow branches whose step cancel
// condition fires.
package cancellation

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/scope"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// ResultProcessor applies a step outcome to a pointer, possibly creating new
// pointers in the instance.
type ResultProcessor interface {
	ProcessExecutionResult(ctx context.Context, wf *schema.WorkflowInstance, def *definition.Workflow,
		ptr *schema.ExecutionPointer, step *definition.Step, result schema.ExecutionResult, acc *schema.ExecutorResult) error
}

// CommandPurger is the slice of store.CommandStore the processor needs.
type CommandPurger interface {
	SupportsScheduledCommands() bool
	ProcessCommands(ctx context.Context, asOf time.Time, visit store.CommandVisitor) error
}

// Processor runs cancellation passes. It holds no per-pass state and may be
// shared; callers must serialize passes per workflow instance.
type Processor struct {
	results  ResultProcessor
	commands CommandPurger
	clock    Clock
	logger   *slog.Logger
}

// NewProcessor creates a Processor. commands may be nil when the persistence
// provider has no scheduled commands; clock defaults to SystemClock.
func NewProcessor(results ResultProcessor, commands CommandPurger, clock Clock, logger *slog.Logger) *Processor {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{results: results, commands: commands, clock: clock, logger: logger}
}

// pass is the state of one ProcessCancellations call.
type pass struct {
	wf     *schema.WorkflowInstance
	def    *definition.Workflow
	acc    *schema.ExecutorResult
	index  *scope.Index
	purged bool
}

// ProcessCancellations evaluates every cancel condition of def against wf.Data
// and cancels the matching live pointers together with their scope-closure.
// Steps are visited in declaration order. Only predicate failures are
// absorbed; collaborator errors abort the pass and leave earlier mutations in
// place.
func (p *Processor) ProcessCancellations(ctx context.Context, wf *schema.WorkflowInstance, def *definition.Workflow, acc *schema.ExecutorResult) error {
	if acc == nil {
		acc = &schema.ExecutorResult{}
	}
	ctx = logging.WithWorkflowID(ctx, wf.ID)
	ps := &pass{wf: wf, def: def, acc: acc, index: scope.Build(wf.ExecutionPointers)}

	for _, step := range def.Steps {
		if step.CancelCondition == nil {
			continue
		}
		if !p.shouldCancel(ctx, wf, step, acc) {
			continue
		}
		if err := p.cancelStep(ctx, ps, step); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) cancelStep(ctx context.Context, ps *pass, step *definition.Step) error {
	var targets []*schema.ExecutionPointer
	for _, ptr := range ps.wf.ExecutionPointers {
		if ptr.StepID == step.ID && !ptr.Status.Terminal() {
			targets = append(targets, ptr)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	if err := p.purgeOnce(ctx, ps); err != nil {
		return err
	}

	for _, ptr := range targets {
		// An earlier target of the same step may already have cancelled this one.
		if ptr.Status.Terminal() {
			continue
		}
		ptrCtx := logging.WithPointerID(logging.WithStepID(ctx, step.ID), ptr.ID)

		if step.ProceedOnCancel {
			if err := p.results.ProcessExecutionResult(ptrCtx, ps.wf, ps.def, ptr, step, schema.Next(), ps.acc); err != nil {
				return schema.NewErrorf(schema.ErrCodeCollaborator,
					"proceed on cancel for pointer %s: %s", ptr.ID, err.Error()).WithStep(step.ID).WithCause(err)
			}
			ps.acc.Record(schema.PointerTransition{
				PointerID: ptr.ID,
				StepID:    step.ID,
				Event:     schema.EventPointerProceeded,
				At:        p.clock.UtcNow(),
			})
		}

		p.markCancelled(ps, ptr)

		cascaded := 0
		for _, d := range ps.index.Descendants(ptr.ID) {
			if d.Status.Terminal() {
				continue
			}
			p.markCancelled(ps, d)
			cascaded++
		}

		logging.LogWith(ptrCtx, p.logger).Info("pointer cancelled",
			slog.Int("descendants", cascaded),
			slog.Bool("proceeded", step.ProceedOnCancel),
		)
	}
	return nil
}

// markCancelled is the terminal write shared by targets and descendants.
func (p *Processor) markCancelled(ps *pass, ptr *schema.ExecutionPointer) {
	now := p.clock.UtcNow()
	from := ptr.Status
	ptr.EndTime = &now
	ptr.Active = false
	ptr.Status = schema.PointerStatusCancelled
	ps.acc.Record(schema.PointerTransition{
		PointerID: ptr.ID,
		StepID:    ptr.StepID,
		From:      from,
		To:        schema.PointerStatusCancelled,
		Event:     schema.EventPointerCancelled,
		At:        now,
	})
}

// purgeOnce drops pending ProcessWorkflow commands for the instance, at most
// once per pass. Commands for other instances or of other kinds are kept.
func (p *Processor) purgeOnce(ctx context.Context, ps *pass) error {
	if ps.purged {
		return nil
	}
	ps.purged = true
	if p.commands == nil || !p.commands.SupportsScheduledCommands() {
		return nil
	}

	dropped := 0
	err := p.commands.ProcessCommands(ctx, store.FarFuture, func(_ context.Context, cmd *schema.ScheduledCommand) error {
		if cmd.CommandName == schema.CommandProcessWorkflow && cmd.Data == ps.wf.ID {
			dropped++
			return nil
		}
		return store.ErrKeepCommand
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCollaborator, "purge scheduled commands: %s", err.Error()).WithCause(err)
	}

	ps.acc.Record(schema.PointerTransition{Event: schema.EventCommandsPurged, At: p.clock.UtcNow()})
	logging.LogWith(ctx, p.logger).Debug("scheduled commands purged", slog.Int("dropped", dropped))
	return nil
}
