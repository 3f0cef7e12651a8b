package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// RenderASCII renders a DiagramModel as rows of boxes, one row per level.
func RenderASCII(model *DiagramModel) string {
	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	var out strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&out, "=== %s ===\n\n", model.Title)
	}

	rows := make([][]asciiBox, 0, len(model.Levels))
	for _, level := range model.Levels {
		var row []asciiBox
		for _, id := range level {
			if n := byID[id]; n != nil {
				row = append(row, makeBox(n))
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	for i, row := range rows {
		if i > 0 {
			out.WriteString("       │\n       ▼\n")
		}
		writeRow(&out, row)
	}

	if len(model.Groups) > 0 {
		out.WriteString("\n--- branches ---\n")
		for _, g := range model.Groups {
			fmt.Fprintf(&out, "  %s ─→ %s\n", g.ParentID, strings.Join(g.Members, ", "))
		}
	}
	return out.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	contentLines := []string{displayLabel(node)}
	if node.Status != nil {
		if st, ok := styleFor(node.Status.Status); ok {
			contentLines = append(contentLines, st.tag)
		}
		if node.Status.Total > 1 {
			contentLines = append(contentLines, countsLine(node.Status.Counts))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len([]rune(content)))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// countsLine renders per-status counts in a stable order, e.g. "cancelled:2 complete:1".
func countsLine(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

// writeRow prints boxes side by side, padding shorter boxes with blanks.
func writeRow(out *strings.Builder, row []asciiBox) {
	height := 0
	for _, box := range row {
		height = max(height, len(box.lines))
	}
	for line := range height {
		cells := make([]string, len(row))
		for i, box := range row {
			cells[i] = strings.Repeat(" ", box.width)
			if line < len(box.lines) {
				cells[i] = box.lines[line]
			}
		}
		out.WriteString(strings.Join(cells, "  "))
		out.WriteByte('\n')
	}
}
