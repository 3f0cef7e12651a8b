package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, g := range model.Groups {
		fmt.Fprintf(&b, "    subgraph %s[\"%s branches\"]\n", mermaidSafeID(g.ParentID+"_branches"), g.ParentID)
		for _, m := range g.Members {
			fmt.Fprintf(&b, "        %s\n", mermaidSafeID(m))
		}
		b.WriteString("    end\n")
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Kind == EdgeBranch {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	for _, st := range palette {
		fmt.Fprintf(&b, "    classDef %s fill:%s,stroke:%s,color:%s", st.class, st.fill, st.stroke, st.font)
		if st.dashed {
			b.WriteString(",stroke-dasharray:5 5")
		}
		b.WriteString("\n")
	}

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := statusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := displayLabel(node)

	switch node.Kind {
	case NodeKindFanOut:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// displayLabel decorates a node label with its cancellation markers and
// pointer count.
func displayLabel(node *Node) string {
	label := node.Label
	switch {
	case node.Cancellable && node.ProceedOnCancel:
		label += " [cancel+proceed]"
	case node.Cancellable:
		label += " [cancel]"
	}
	if node.Status != nil && node.Status.Total > 1 {
		label += fmt.Sprintf(" x%d", node.Status.Total)
	}
	return label
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
