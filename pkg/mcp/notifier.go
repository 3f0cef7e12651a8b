package mcp

import (
	"context"

	"github.com/rendis/cascade/internal/store"
)

// notificationMethod is the MCP method used for workflow event pushes.
const notificationMethod = "notifications/message"

// forwardEvents pushes hub events to clients until ctx is done or the
// subscription channel closes. Delivery is best-effort.
func forwardEvents(ctx context.Context, events <-chan store.Event, send func(method string, params map[string]any)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			send(notificationMethod, eventParams(ev))
		}
	}
}

func eventParams(ev store.Event) map[string]any {
	data := map[string]any{
		"workflow_id": ev.WorkflowID,
		"event_type":  ev.Type,
		"sequence":    ev.Sequence,
		"timestamp":   ev.Timestamp,
	}
	if ev.StepID != "" {
		data["step_id"] = ev.StepID
	}
	if ev.PointerID != "" {
		data["pointer_id"] = ev.PointerID
	}
	return map[string]any{
		"level":  "info",
		"logger": "cascade",
		"data":   data,
	}
}
