package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

// EventLog is the append side of the libsql event table. Sequences are
// assigned per workflow inside the insert transaction so they stay dense.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{db: s.DB()}
}

func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return withTx(ctx, el.db, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`, event.WorkflowID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (workflow_id, step_id, pointer_id, event_type, payload, timestamp, sequence)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			event.WorkflowID, nullStr(event.StepID), nullStr(event.PointerID), event.Type,
			nullRaw(event.Payload), event.Timestamp, next,
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", event.Type, err)
		}
		event.Sequence = next
		if id, err := res.LastInsertId(); err == nil {
			event.ID = id
		}
		return nil
	})
}

// Events returns the events of a workflow with sequence > since.
func (el *EventLog) Events(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	rows, err := el.db.QueryContext(ctx,
		`SELECT id, workflow_id, step_id, pointer_id, event_type, payload, timestamp, sequence
		 FROM events WHERE workflow_id = ? AND sequence > ? ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, pointerID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &stepID, &pointerID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StepID, e.PointerID, e.Payload = stepID.String, pointerID.String, rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ReplayPointers folds the whole stored stream of a workflow.
func (el *EventLog) ReplayPointers(ctx context.Context, workflowID string) (map[string]*PointerState, error) {
	events, err := el.Events(ctx, workflowID, 0)
	if err != nil {
		return nil, err
	}
	return FoldPointers(workflowID, events)
}

// PointerState is the last status of a pointer as told by the event stream.
type PointerState struct {
	PointerID string               `json:"pointer_id"`
	StepID    string               `json:"step_id"`
	Status    schema.PointerStatus `json:"status"`
	Events    int                  `json:"events"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// statusAfter maps pointer event types to the status they leave behind.
var statusAfter = map[string]schema.PointerStatus{
	schema.EventPointerCreated:   schema.PointerStatusPending,
	schema.EventPointerSleeping:  schema.PointerStatusSleeping,
	schema.EventPointerWoken:     schema.PointerStatusPending,
	schema.EventPointerCompleted: schema.PointerStatusComplete,
	schema.EventPointerProceeded: schema.PointerStatusComplete,
	schema.EventPointerCancelled: schema.PointerStatusCancelled,
}

// FoldPointers reduces a full, sequence-ordered event stream to per-pointer
// state. A transition payload's To status overrides the event type. A
// stream that does not count 1, 2, 3... is a STORE_ERROR.
func FoldPointers(workflowID string, events []*Event) (map[string]*PointerState, error) {
	states := make(map[string]*PointerState)
	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"event stream of %s is not contiguous: expected sequence %d, got %d", workflowID, want, e.Sequence)
		}
		if e.PointerID == "" {
			continue
		}

		ps := states[e.PointerID]
		if ps == nil {
			ps = &PointerState{PointerID: e.PointerID, StepID: e.StepID, Status: schema.PointerStatusPending}
			states[e.PointerID] = ps
		}
		ps.Events++
		ps.UpdatedAt = e.Timestamp
		if status, ok := statusAfter[e.Type]; ok {
			ps.Status = status
		}

		var tr schema.PointerTransition
		if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &tr) == nil && tr.To != "" {
			ps.Status = tr.To
		}
	}
	return states, nil
}
