package diagram

import "github.com/rendis/cascade/pkg/schema"

// statusStyle is how one class of pointer status is drawn by every renderer.
type statusStyle struct {
	class  string
	tag    string // ASCII marker
	fill   string
	stroke string
	font   string
	dashed bool
}

// palette is ordered; Mermaid classDefs are emitted in this order.
var palette = []statusStyle{
	{class: "complete", tag: "[OK]", fill: "#2d6a2d", stroke: "#1a4a1a", font: "#ffffff"},
	{class: "cancelled", tag: "[CANCEL]", fill: "#4a4a4a", stroke: "#333333", font: "#aaaaaa", dashed: true},
	{class: "failed", tag: "[FAIL]", fill: "#8b1a1a", stroke: "#5c0e0e", font: "#ffffff"},
	{class: "running", tag: "[RUN]", fill: "#1a5276", stroke: "#0e3a52", font: "#ffffff"},
	{class: "sleeping", tag: "[WAIT]", fill: "#b7791a", stroke: "#8a5c14", font: "#ffffff"},
	{class: "pending", tag: "[PEND]", fill: "#6b6b6b", stroke: "#4a4a4a", font: "#ffffff"},
}

// classOf folds the pointer statuses onto the palette classes.
var classOf = map[schema.PointerStatus]string{
	schema.PointerStatusComplete:           "complete",
	schema.PointerStatusCancelled:          "cancelled",
	schema.PointerStatusFailed:             "failed",
	schema.PointerStatusCompensated:        "failed",
	schema.PointerStatusRunning:            "running",
	schema.PointerStatusSleeping:           "sleeping",
	schema.PointerStatusWaitingForEvent:    "sleeping",
	schema.PointerStatusPending:            "pending",
	schema.PointerStatusPendingPredecessor: "pending",
}

// cancellableColor outlines steps that carry a cancel condition.
const cancellableColor = "#8b1a1a"

// statusClass maps a pointer status to its palette class, or "" for
// statuses drawn unstyled (legacy).
func statusClass(status string) string {
	return classOf[schema.PointerStatus(status)]
}

// styleFor returns the palette entry for a pointer status.
func styleFor(status string) (statusStyle, bool) {
	cls := statusClass(status)
	for _, s := range palette {
		if s.class == cls {
			return s, true
		}
	}
	return statusStyle{}, false
}
