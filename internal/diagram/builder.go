package diagram

import (
	"fmt"

	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/pkg/schema"
)

// statusRank orders pointer statuses for the overlay; lower wins.
var statusRank = map[schema.PointerStatus]int{
	schema.PointerStatusRunning:            0,
	schema.PointerStatusSleeping:           1,
	schema.PointerStatusWaitingForEvent:    2,
	schema.PointerStatusPending:            3,
	schema.PointerStatusPendingPredecessor: 4,
	schema.PointerStatusFailed:             5,
	schema.PointerStatusCompensated:        6,
	schema.PointerStatusLegacy:             7,
	schema.PointerStatusCancelled:          8,
	schema.PointerStatusComplete:           9,
}

// Build constructs a DiagramModel from a loaded workflow and, optionally, the
// pointers of one of its instances.
func Build(wf *definition.Workflow, pointers schema.PointerCollection) (*DiagramModel, error) {
	if wf == nil || len(wf.Steps) == 0 {
		return nil, fmt.Errorf("diagram: workflow has no steps")
	}

	overlays := overlay(pointers)
	childOf := make(map[string]bool)
	for _, st := range wf.Steps {
		for _, c := range st.Children {
			childOf[c] = true
		}
	}

	nodes := make([]*Node, 0, len(wf.Steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	var edges []Edge
	var groups []Group

	edges = append(edges, Edge{From: startID, To: wf.First().ID, Kind: EdgeOutcome})
	for _, st := range wf.Steps {
		node := &Node{
			ID:              st.ID,
			Label:           nodeLabel(st),
			Kind:            NodeKindStep,
			Cancellable:     st.CancelCondition != nil,
			ProceedOnCancel: st.ProceedOnCancel,
			Status:          overlays[st.ID],
		}
		if len(st.Children) > 0 {
			node.Kind = NodeKindFanOut
			groups = append(groups, Group{ParentID: st.ID, Members: append([]string(nil), st.Children...)})
			for _, c := range st.Children {
				edges = append(edges, Edge{From: st.ID, To: c, Label: "branch", Kind: EdgeBranch})
			}
		}
		for _, o := range st.Outcomes {
			label := ""
			if o.Value != nil {
				label = fmt.Sprint(o.Value)
			}
			edges = append(edges, Edge{From: st.ID, To: o.Next, Label: label, Kind: EdgeOutcome})
		}
		if len(st.Outcomes) == 0 && !childOf[st.ID] {
			edges = append(edges, Edge{From: st.ID, To: endID, Kind: EdgeOutcome})
		}
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	title := wf.ID
	if wf.Description != "" {
		title = wf.Description
	}
	return &DiagramModel{
		Title:  fmt.Sprintf("%s v%d", title, wf.Version),
		Nodes:  nodes,
		Edges:  edges,
		Groups: groups,
		Levels: buildLevels(nodes, edges),
	}, nil
}

func nodeLabel(st *definition.Step) string {
	label := st.ID
	if st.Name != "" && st.Name != st.ID {
		label = st.Name
	}
	return label
}

// overlay summarizes pointers per step.
func overlay(pointers schema.PointerCollection) map[string]*StatusOverlay {
	out := make(map[string]*StatusOverlay)
	best := make(map[string]int)
	for _, p := range pointers {
		ov, ok := out[p.StepID]
		if !ok {
			ov = &StatusOverlay{Counts: make(map[string]int)}
			out[p.StepID] = ov
			best[p.StepID] = len(statusRank) + 1
		}
		ov.Total++
		ov.Counts[string(p.Status)]++
		if !p.Status.Terminal() {
			ov.Live++
		}
		rank, known := statusRank[p.Status]
		if !known {
			rank = len(statusRank)
		}
		if rank < best[p.StepID] {
			best[p.StepID] = rank
			ov.Status = string(p.Status)
		}
	}
	return out
}

// buildLevels assigns every node the depth of its first BFS visit from the
// start node. Unreachable steps share a level before the end node.
func buildLevels(nodes []*Node, edges []Edge) [][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.To == endID {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
	}

	depth := map[string]int{startID: 0}
	queue := []string{startID}
	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[id] + 1
			if depth[next] > maxDepth {
				maxDepth = depth[next]
			}
			queue = append(queue, next)
		}
	}

	levels := make([][]string, maxDepth+1)
	var orphans []string
	for _, n := range nodes {
		if n.ID == endID {
			continue
		}
		d, ok := depth[n.ID]
		if !ok {
			orphans = append(orphans, n.ID)
			continue
		}
		levels[d] = append(levels[d], n.ID)
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return append(levels, []string{endID})
}
