package engine

import (
	"context"
	"encoding/json"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

type workflowEdge struct {
	from, to schema.WorkflowStatus
}

// workflowTransitions lists every allowed lifecycle change with the event it
// emits. complete and terminated have no outgoing edges.
var workflowTransitions = map[workflowEdge]string{
	{schema.WorkflowStatusRunnable, schema.WorkflowStatusSuspended}:   schema.EventWorkflowSuspended,
	{schema.WorkflowStatusSuspended, schema.WorkflowStatusRunnable}:   schema.EventWorkflowResumed,
	{schema.WorkflowStatusRunnable, schema.WorkflowStatusComplete}:    schema.EventWorkflowCompleted,
	{schema.WorkflowStatusRunnable, schema.WorkflowStatusTerminated}:  schema.EventWorkflowTerminated,
	{schema.WorkflowStatusSuspended, schema.WorkflowStatusTerminated}: schema.EventWorkflowTerminated,
}

// IsValidWorkflowTransition reports whether from -> to is allowed.
func IsValidWorkflowTransition(from, to schema.WorkflowStatus) bool {
	_, ok := workflowTransitions[workflowEdge{from, to}]
	return ok
}

// WorkflowFSM validates workflow lifecycle transitions and records them in
// the event log. Persisting the new status is the caller's job.
type WorkflowFSM struct {
	events store.EventAppender
}

func NewWorkflowFSM(events store.EventAppender) *WorkflowFSM {
	return &WorkflowFSM{events: events}
}

// Transition fails with INVALID_TRANSITION for an edge not in the table and
// with STORE_ERROR when the event cannot be appended.
func (f *WorkflowFSM) Transition(ctx context.Context, workflowID string, from, to schema.WorkflowStatus) error {
	eventType, ok := workflowTransitions[workflowEdge{from, to}]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": workflowID, "from": string(from), "to": string(to)})
	}

	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	event := &store.Event{WorkflowID: workflowID, Type: eventType, Payload: payload}
	if err := f.events.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit %s: %s", eventType, err.Error()).WithCause(err)
	}
	return nil
}
