package store

import (
	"encoding/json"
	"time"
)

// Event is an immutable entry in the event log.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	StepID     string          `json:"step_id,omitempty"`
	PointerID  string          `json:"pointer_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// DefinitionDocument is a stored workflow definition source.
type DefinitionDocument struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Format    string    `json:"format"` // json | yaml
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowFilter specifies criteria for listing workflow instances.
type WorkflowFilter struct {
	Status       string `json:"status,omitempty"`
	DefinitionID string `json:"definition_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

// CommandFilter specifies criteria for listing scheduled commands.
type CommandFilter struct {
	CommandName string `json:"command_name,omitempty"`
	Data        string `json:"data,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}
