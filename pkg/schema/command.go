package schema

import "time"

// Scheduled command names.
const (
	CommandProcessWorkflow = "ProcessWorkflow"
	CommandProcessEvent    = "ProcessEvent"
)

// ScheduledCommand is a persisted, time-triggered instruction to resume work.
// For CommandProcessWorkflow, Data holds the workflow instance ID.
type ScheduledCommand struct {
	ID          string    `json:"id"`
	CommandName string    `json:"command_name"`
	Data        string    `json:"data"`
	ExecuteTime time.Time `json:"execute_time"`
}
