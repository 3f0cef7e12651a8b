package store

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

// ErrKeepCommand, returned by a CommandVisitor, leaves the visited command
// scheduled without reporting a failure.
var ErrKeepCommand = errors.New("keep scheduled command")

// FarFuture is the horizon used to visit every pending command regardless of
// its execute time.
var FarFuture = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// CommandVisitor handles one due scheduled command. Returning nil consumes the
// command; any error leaves it scheduled.
type CommandVisitor func(ctx context.Context, cmd *schema.ScheduledCommand) error

// CommandStore is the scheduled-command capability of a persistence provider.
type CommandStore interface {
	// SupportsScheduledCommands reports whether the provider persists commands.
	SupportsScheduledCommands() bool
	ScheduleCommand(ctx context.Context, cmd *schema.ScheduledCommand) error
	// ProcessCommands visits every command with ExecuteTime <= asOf in
	// execute-time order. Each command is claimed before it is visited, so
	// concurrent callers never see the same command twice.
	ProcessCommands(ctx context.Context, asOf time.Time, visit CommandVisitor) error
	ListCommands(ctx context.Context, filter CommandFilter) ([]*schema.ScheduledCommand, error)
}

// EventAppender appends to the event log.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow instances
	CreateWorkflow(ctx context.Context, wf *schema.WorkflowInstance) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowInstance, error)
	UpdateWorkflow(ctx context.Context, wf *schema.WorkflowInstance) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowInstance, error)

	// Definition documents
	StoreDefinition(ctx context.Context, doc *DefinitionDocument) error
	GetDefinition(ctx context.Context, id string, version int) (*DefinitionDocument, error)
	ListDefinitions(ctx context.Context) ([]*DefinitionDocument, error)

	// Event log (append-only)
	EventAppender
	GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error)

	CommandStore

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
