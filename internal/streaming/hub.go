// Package streaming fans persisted workflow events out to live subscribers.
package streaming

import (
	"context"

	"github.com/rendis/cascade/internal/store"
)

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for workflow events.
type EventHub interface {
	Publish(ctx context.Context, event store.Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan store.Event, func(), error)
}

// Appender decorates an event appender so every successfully appended event
// is also published to a hub.
type Appender struct {
	next store.EventAppender
	hub  EventHub
}

// NewAppender wraps next. A nil hub makes the wrapper a pass-through.
func NewAppender(next store.EventAppender, hub EventHub) *Appender {
	return &Appender{next: next, hub: hub}
}

// AppendEvent persists the event, then publishes it. Publishing never fails
// the append: the event is already durable.
func (a *Appender) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := a.next.AppendEvent(ctx, event); err != nil {
		return err
	}
	if a.hub != nil {
		_ = a.hub.Publish(ctx, *event)
	}
	return nil
}
