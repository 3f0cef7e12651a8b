// Package diagram renders workflow definitions, optionally overlaid with the
// pointer state of a running instance, as Mermaid, ASCII or PNG.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindStep   NodeKind = "step"
	NodeKindFanOut NodeKind = "fan_out"
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

// EdgeKind distinguishes outcome routing from child branches.
type EdgeKind string

const (
	EdgeOutcome EdgeKind = "outcome"
	EdgeBranch  EdgeKind = "branch"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Groups []Group
	Levels [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID              string
	Label           string
	Kind            NodeKind
	Cancellable     bool
	ProceedOnCancel bool
	Status          *StatusOverlay
}

// Group clusters the child steps a fan-out step branches into.
type Group struct {
	ParentID string
	Members  []string
}

// StatusOverlay summarizes the pointers of one step.
type StatusOverlay struct {
	// Status is the most relevant pointer status: any live status wins over
	// cancelled, which wins over complete.
	Status string
	Total  int
	Live   int
	Counts map[string]int
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
	Kind  EdgeKind
}

const (
	startID = "__start__"
	endID   = "__end__"
)
