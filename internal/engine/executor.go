// Package engine hosts the processing cycle around the cancellation pass:
// starting instances, applying step results, persisting snapshots and
// scheduling the next cycle.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/cascade/internal/cancellation"
	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/internal/streaming"
	"github.com/rendis/cascade/pkg/schema"
)

// Executor drives workflow instances through processing cycles.
type Executor interface {
	// Start creates an instance of the given definition (version 0 = latest)
	// with a pending pointer on its first step.
	Start(ctx context.Context, definitionID string, version int, data map[string]any) (*schema.WorkflowInstance, error)

	// Process runs one cycle: wakes due sleepers, runs the cancellation pass,
	// completes the instance when nothing is live, persists and reschedules.
	Process(ctx context.Context, workflowID string) (*CycleResult, error)

	// Report applies a step result to a pointer and then runs a cycle.
	Report(ctx context.Context, workflowID, pointerID string, result schema.ExecutionResult) (*CycleResult, error)

	// MergeData shallow-merges patch into the instance data and runs a cycle.
	MergeData(ctx context.Context, workflowID string, patch map[string]any) (*CycleResult, error)

	Suspend(ctx context.Context, workflowID string) error
	Resume(ctx context.Context, workflowID string) error
	Terminate(ctx context.Context, workflowID string) error

	// Status returns the current state of an instance.
	Status(ctx context.Context, workflowID string) (*WorkflowStatus, error)
}

// DefinitionSource resolves the definition an instance runs against.
type DefinitionSource interface {
	Get(ctx context.Context, id string, version int) (*definition.Workflow, error)
}

// CycleResult summarizes one processing cycle.
type CycleResult struct {
	WorkflowID    string                     `json:"workflow_id"`
	Status        schema.WorkflowStatus      `json:"status"`
	Transitions   []schema.PointerTransition `json:"transitions,omitempty"`
	Errors        []schema.ExecutionError    `json:"errors,omitempty"`
	NextExecution *time.Time                 `json:"next_execution,omitempty"`
}

// WorkflowStatus is a snapshot of an instance for querying.
type WorkflowStatus struct {
	WorkflowID    string                   `json:"workflow_id"`
	DefinitionID  string                   `json:"definition_id"`
	Version       int                      `json:"version"`
	Status        schema.WorkflowStatus    `json:"status"`
	Data          map[string]any           `json:"data,omitempty"`
	Pointers      schema.PointerCollection `json:"pointers"`
	NextExecution *time.Time               `json:"next_execution,omitempty"`
	CompleteTime  *time.Time               `json:"complete_time,omitempty"`
	Events        []*store.Event           `json:"events,omitempty"`
}

// ExecutorConfig holds optional collaborators for the executor.
type ExecutorConfig struct {
	Clock  cancellation.Clock
	Logger *slog.Logger
	// Hub receives every event after it is appended to the store.
	Hub streaming.EventHub
}

type executorImpl struct {
	store   store.Store
	events  store.EventAppender
	defs    DefinitionSource
	fsm     *WorkflowFSM
	results *ResultProcessor
	cancels *cancellation.Processor
	clock   cancellation.Clock
	logger  *slog.Logger

	// mu guards running.
	mu      sync.Mutex
	running map[string]struct{}
}

// NewExecutor creates an Executor persisting to s and resolving definitions from defs.
func NewExecutor(s store.Store, defs DefinitionSource, cfg ExecutorConfig) Executor {
	if cfg.Clock == nil {
		cfg.Clock = cancellation.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	results := NewResultProcessor(cfg.Clock)
	events := streaming.NewAppender(s, cfg.Hub)
	return &executorImpl{
		store:   s,
		events:  events,
		defs:    defs,
		fsm:     NewWorkflowFSM(events),
		results: results,
		cancels: cancellation.NewProcessor(results, s, cfg.Clock, cfg.Logger),
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		running: make(map[string]struct{}),
	}
}

// acquire marks an instance busy. Only one cycle per instance may run at a time.
func (e *executorImpl) acquire(workflowID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[workflowID]; busy {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is already being processed", workflowID)
	}
	e.running[workflowID] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.running, workflowID)
		e.mu.Unlock()
	}, nil
}

func (e *executorImpl) Start(ctx context.Context, definitionID string, version int, data map[string]any) (*schema.WorkflowInstance, error) {
	def, err := e.defs.Get(ctx, definitionID, version)
	if err != nil {
		return nil, err
	}
	first := def.First()
	if first == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "definition %s has no steps", def.ID)
	}

	now := e.clock.UtcNow()
	if data == nil {
		data = make(map[string]any)
	}
	wf := &schema.WorkflowInstance{
		ID:            uuid.New().String(),
		DefinitionID:  def.ID,
		Version:       def.Version,
		Description:   def.Description,
		Status:        schema.WorkflowStatusRunnable,
		Data:          data,
		CreatedAt:     now,
		NextExecution: &now,
	}
	ptr := &schema.ExecutionPointer{
		ID:        uuid.New().String(),
		StepID:    first.ID,
		StepName:  first.Name,
		Active:    true,
		Status:    schema.PointerStatusPending,
		StartTime: &now,
	}
	wf.ExecutionPointers.Add(ptr)

	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create workflow: %s", err.Error()).WithCause(err)
	}

	ctx = logging.WithWorkflowID(ctx, wf.ID)
	if err := e.events.AppendEvent(ctx, &store.Event{WorkflowID: wf.ID, Type: schema.EventWorkflowStarted, Timestamp: now}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "emit workflow event: %s", err.Error()).WithCause(err)
	}
	e.appendTransitions(ctx, wf.ID, []schema.PointerTransition{{
		PointerID: ptr.ID, StepID: ptr.StepID, To: ptr.Status, Event: schema.EventPointerCreated, At: now,
	}})
	e.schedule(ctx, wf.ID, now)

	logging.LogWith(ctx, e.logger).Info("workflow started",
		slog.String("definition_id", def.ID),
		slog.Int("version", def.Version),
	)
	return wf, nil
}

func (e *executorImpl) Process(ctx context.Context, workflowID string) (*CycleResult, error) {
	return e.withInstance(ctx, workflowID, nil)
}

func (e *executorImpl) Report(ctx context.Context, workflowID, pointerID string, result schema.ExecutionResult) (*CycleResult, error) {
	return e.withInstance(ctx, workflowID, func(ctx context.Context, wf *schema.WorkflowInstance, def *definition.Workflow, acc *schema.ExecutorResult) error {
		ptr := wf.ExecutionPointers.FindByID(pointerID)
		if ptr == nil {
			return schema.NewErrorf(schema.ErrCodeNotFound, "pointer %q not found", pointerID)
		}
		if ptr.Status.Terminal() {
			return schema.NewErrorf(schema.ErrCodeConflict, "pointer %s is already %s", ptr.ID, ptr.Status)
		}
		return e.results.ProcessExecutionResult(logging.WithPointerID(ctx, ptr.ID), wf, def, ptr, def.Step(ptr.StepID), result, acc)
	})
}

func (e *executorImpl) MergeData(ctx context.Context, workflowID string, patch map[string]any) (*CycleResult, error) {
	return e.withInstance(ctx, workflowID, func(_ context.Context, wf *schema.WorkflowInstance, _ *definition.Workflow, _ *schema.ExecutorResult) error {
		if wf.Data == nil {
			wf.Data = make(map[string]any, len(patch))
		}
		maps.Copy(wf.Data, patch)
		return nil
	})
}

type mutation func(ctx context.Context, wf *schema.WorkflowInstance, def *definition.Workflow, acc *schema.ExecutorResult) error

// withInstance loads an instance, applies mutate, runs a cycle and persists.
// On any error the in-memory snapshot is discarded, so partial pointer and
// data mutations of a failed cycle never reach the store. The command purge
// is not transactional with the snapshot, so a failed cycle that purged
// re-schedules the wake-up the stored snapshot still expects.
func (e *executorImpl) withInstance(ctx context.Context, workflowID string, mutate mutation) (*CycleResult, error) {
	release, err := e.acquire(workflowID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = logging.WithWorkflowID(ctx, workflowID)
	wf, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != schema.WorkflowStatusRunnable {
		if mutate != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "workflow %s is %s", wf.ID, wf.Status)
		}
		return &CycleResult{WorkflowID: wf.ID, Status: wf.Status, NextExecution: wf.NextExecution}, nil
	}

	def, err := e.defs.Get(ctx, wf.DefinitionID, wf.Version)
	if err != nil {
		return nil, err
	}

	storedWake := wf.NextExecution
	acc := &schema.ExecutorResult{}
	if mutate != nil {
		if err := mutate(ctx, wf, def, acc); err != nil {
			return nil, err
		}
	}
	if err := e.cycle(ctx, wf, def, acc); err != nil {
		logging.LogWith(ctx, e.logger).Error("processing cycle failed", slog.String("error", err.Error()))
		e.restoreWake(ctx, wf.ID, storedWake, acc)
		return nil, err
	}
	if err := e.persist(ctx, wf, acc); err != nil {
		e.restoreWake(ctx, wf.ID, storedWake, acc)
		return nil, err
	}

	return &CycleResult{
		WorkflowID:    wf.ID,
		Status:        wf.Status,
		Transitions:   acc.Transitions,
		Errors:        acc.Errors,
		NextExecution: wf.NextExecution,
	}, nil
}

func (e *executorImpl) cycle(ctx context.Context, wf *schema.WorkflowInstance, def *definition.Workflow, acc *schema.ExecutorResult) error {
	now := e.clock.UtcNow()
	for _, ptr := range wf.ExecutionPointers {
		if ptr.Status == schema.PointerStatusSleeping && ptr.SleepUntil != nil && !ptr.SleepUntil.After(now) {
			ptr.SleepUntil = nil
			ptr.Status = schema.PointerStatusPending
			acc.Record(schema.PointerTransition{
				PointerID: ptr.ID, StepID: ptr.StepID,
				From: schema.PointerStatusSleeping, To: schema.PointerStatusPending,
				Event: schema.EventPointerWoken, At: now,
			})
		}
	}

	if err := e.cancels.ProcessCancellations(ctx, wf, def, acc); err != nil {
		return err
	}

	wf.NextExecution = nextWake(wf.ExecutionPointers)
	if len(wf.ExecutionPointers.Live()) == 0 {
		if err := e.fsm.Transition(ctx, wf.ID, wf.Status, schema.WorkflowStatusComplete); err != nil {
			return err
		}
		done := e.clock.UtcNow()
		wf.Status = schema.WorkflowStatusComplete
		wf.CompleteTime = &done
		wf.NextExecution = nil
		logging.LogWith(ctx, e.logger).Info("workflow complete")
	}
	return nil
}

func (e *executorImpl) persist(ctx context.Context, wf *schema.WorkflowInstance, acc *schema.ExecutorResult) error {
	if err := e.store.UpdateWorkflow(ctx, wf); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update workflow: %s", err.Error()).WithCause(err)
	}
	e.appendTransitions(ctx, wf.ID, acc.Transitions)
	if wf.NextExecution != nil {
		e.schedule(ctx, wf.ID, *wf.NextExecution)
	}
	return nil
}

// appendTransitions mirrors transitions into the event log. The snapshot is
// already persisted, so failures are logged rather than returned.
func (e *executorImpl) appendTransitions(ctx context.Context, workflowID string, transitions []schema.PointerTransition) {
	for _, tr := range transitions {
		payload, err := json.Marshal(tr)
		if err != nil {
			continue
		}
		event := &store.Event{
			WorkflowID: workflowID,
			StepID:     tr.StepID,
			PointerID:  tr.PointerID,
			Type:       tr.Event,
			Payload:    payload,
			Timestamp:  tr.At,
		}
		if err := e.events.AppendEvent(ctx, event); err != nil {
			logging.LogWith(ctx, e.logger).Warn("append event failed",
				slog.String("event_type", tr.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// restoreWake schedules the stored wake-up again when a failed cycle had
// already purged the instance's commands.
func (e *executorImpl) restoreWake(ctx context.Context, workflowID string, wake *time.Time, acc *schema.ExecutorResult) {
	if wake == nil {
		return
	}
	purged := slices.ContainsFunc(acc.Transitions, func(tr schema.PointerTransition) bool {
		return tr.Event == schema.EventCommandsPurged
	})
	if purged {
		e.schedule(ctx, workflowID, *wake)
	}
}

func (e *executorImpl) schedule(ctx context.Context, workflowID string, at time.Time) {
	if !e.store.SupportsScheduledCommands() {
		return
	}
	cmd := &schema.ScheduledCommand{CommandName: schema.CommandProcessWorkflow, Data: workflowID, ExecuteTime: at}
	if err := e.store.ScheduleCommand(ctx, cmd); err != nil {
		logging.LogWith(ctx, e.logger).Warn("schedule command failed", slog.String("error", err.Error()))
	}
}

func (e *executorImpl) Suspend(ctx context.Context, workflowID string) error {
	return e.transition(ctx, workflowID, schema.WorkflowStatusSuspended)
}

// Resume makes a suspended instance runnable and schedules an immediate cycle.
func (e *executorImpl) Resume(ctx context.Context, workflowID string) error {
	if err := e.transition(ctx, workflowID, schema.WorkflowStatusRunnable); err != nil {
		return err
	}
	e.schedule(logging.WithWorkflowID(ctx, workflowID), workflowID, e.clock.UtcNow())
	return nil
}

func (e *executorImpl) Terminate(ctx context.Context, workflowID string) error {
	return e.transition(ctx, workflowID, schema.WorkflowStatusTerminated)
}

func (e *executorImpl) transition(ctx context.Context, workflowID string, to schema.WorkflowStatus) error {
	release, err := e.acquire(workflowID)
	if err != nil {
		return err
	}
	defer release()

	ctx = logging.WithWorkflowID(ctx, workflowID)
	wf, err := e.load(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := e.fsm.Transition(ctx, wf.ID, wf.Status, to); err != nil {
		return err
	}
	wf.Status = to
	if to == schema.WorkflowStatusTerminated {
		now := e.clock.UtcNow()
		wf.CompleteTime = &now
		wf.NextExecution = nil
	}
	if err := e.store.UpdateWorkflow(ctx, wf); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update workflow status: %s", err.Error()).WithCause(err)
	}
	logging.LogWith(ctx, e.logger).Info("workflow status changed", slog.String("status", string(to)))
	return nil
}

func (e *executorImpl) Status(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	wf, err := e.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.GetEvents(ctx, workflowID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
	}
	return &WorkflowStatus{
		WorkflowID:    wf.ID,
		DefinitionID:  wf.DefinitionID,
		Version:       wf.Version,
		Status:        wf.Status,
		Data:          wf.Data,
		Pointers:      wf.ExecutionPointers,
		NextExecution: wf.NextExecution,
		CompleteTime:  wf.CompleteTime,
		Events:        events,
	}, nil
}

func (e *executorImpl) load(ctx context.Context, workflowID string) (*schema.WorkflowInstance, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load workflow: %s", err.Error()).WithCause(err)
	}
	return wf, nil
}

// nextWake returns the earliest wake-up time among sleeping live pointers.
func nextWake(pointers schema.PointerCollection) *time.Time {
	var next *time.Time
	for _, p := range pointers {
		if p.Status != schema.PointerStatusSleeping || p.SleepUntil == nil {
			continue
		}
		if next == nil || p.SleepUntil.Before(*next) {
			t := *p.SleepUntil
			next = &t
		}
	}
	return next
}
