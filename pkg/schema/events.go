package schema

// Event type constants for the event log.
const (
	EventWorkflowStarted    = "workflow_started"
	EventWorkflowCompleted  = "workflow_completed"
	EventWorkflowSuspended  = "workflow_suspended"
	EventWorkflowResumed    = "workflow_resumed"
	EventWorkflowTerminated = "workflow_terminated"

	EventPointerCreated   = "pointer_created"
	EventPointerCompleted = "pointer_completed"
	EventPointerSleeping  = "pointer_sleeping"
	EventPointerWoken     = "pointer_woken"
	EventPointerProceeded = "pointer_proceeded"
	EventPointerCancelled = "pointer_cancelled"

	EventCancelConditionFailed = "cancel_condition_failed"
	EventCommandsPurged        = "commands_purged"
)

// WorkflowStatus represents the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowStatusRunnable   WorkflowStatus = "runnable"
	WorkflowStatusSuspended  WorkflowStatus = "suspended"
	WorkflowStatusComplete   WorkflowStatus = "complete"
	WorkflowStatusTerminated WorkflowStatus = "terminated"
)

// PointerStatus represents the lifecycle state of an execution pointer.
type PointerStatus string

const (
	PointerStatusLegacy             PointerStatus = "legacy"
	PointerStatusPending            PointerStatus = "pending"
	PointerStatusRunning            PointerStatus = "running"
	PointerStatusComplete           PointerStatus = "complete"
	PointerStatusSleeping           PointerStatus = "sleeping"
	PointerStatusWaitingForEvent    PointerStatus = "waiting_for_event"
	PointerStatusFailed             PointerStatus = "failed"
	PointerStatusCompensated        PointerStatus = "compensated"
	PointerStatusCancelled          PointerStatus = "cancelled"
	PointerStatusPendingPredecessor PointerStatus = "pending_predecessor"
)

// Terminal reports whether the pointer can no longer be cancelled or advanced.
// Only complete and cancelled are sinks; failed and compensated pointers
// belong to the error-handling path and may still be torn down.
func (s PointerStatus) Terminal() bool {
	return s == PointerStatusComplete || s == PointerStatusCancelled
}
