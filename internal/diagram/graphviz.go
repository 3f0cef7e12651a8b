package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	// Group members are created inside their cluster so graphviz draws the box.
	parents := make(map[string]*cgraph.Graph)
	for _, g := range model.Groups {
		sub, subErr := graph.CreateSubGraphByName("cluster_" + g.ParentID)
		if subErr != nil {
			return nil, fmt.Errorf("diagram: create cluster %s: %w", g.ParentID, subErr)
		}
		sub.SetLabel(g.ParentID + " branches")
		sub.SetStyle(cgraph.DashedGraphStyle)
		for _, m := range g.Members {
			if _, taken := parents[m]; !taken {
				parents[m] = sub
			}
		}
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		owner := graph
		if sub, ok := parents[node.ID]; ok {
			owner = sub
		}
		gvNode, nErr := owner.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(displayLabel(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV == nil || toGV == nil {
			continue
		}
		e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
		if eErr != nil {
			return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, eErr)
		}
		if edge.Label != "" {
			e.SetLabel(edge.Label)
		}
		if edge.Kind == EdgeBranch {
			e.SetStyle(cgraph.DashedEdgeStyle)
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	switch node.Kind {
	case NodeKindFanOut:
		gvNode.SetShape(cgraph.Box3DShape)
	case NodeKindStart, NodeKindEnd:
		gvNode.SetShape(cgraph.CircleShape)
		gvNode.SetWidth(0.5)
		gvNode.SetHeight(0.5)
	default:
		gvNode.SetShape(cgraph.BoxShape)
	}
	if node.Cancellable {
		gvNode.SetPenWidth(2)
		gvNode.SetColor(cancellableColor)
	}
	if node.Status == nil {
		return
	}
	if st, ok := styleFor(node.Status.Status); ok {
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor(st.fill)
		gvNode.SetFontColor(st.font)
	}
}
