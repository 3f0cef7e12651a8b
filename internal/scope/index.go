// Package scope derives the scope-containment relation of a workflow
// instance's execution pointers.
package scope

import (
	"slices"

	"github.com/rendis/cascade/pkg/schema"
)

// Index answers "which pointers live inside the branch rooted at P" for one
// processing pass. It is built once from a snapshot of the pointer set and is
// not updated when pointers are added or mutated afterwards.
type Index struct {
	pointers []*schema.ExecutionPointer
	order    map[string]int
	// members maps a pointer ID to the pointers that list it in their scope stack.
	members map[string][]int
}

// Build indexes the given pointers. Pointers listing themselves in their own
// scope are ignored for that entry.
func Build(pointers schema.PointerCollection) *Index {
	idx := &Index{
		pointers: make([]*schema.ExecutionPointer, len(pointers)),
		order:    make(map[string]int, len(pointers)),
		members:  make(map[string][]int),
	}
	copy(idx.pointers, pointers)

	for i, p := range idx.pointers {
		if _, dup := idx.order[p.ID]; !dup {
			idx.order[p.ID] = i
		}
		seen := make(map[string]struct{}, len(p.Scope))
		for _, ancestor := range p.Scope {
			if ancestor == p.ID {
				continue
			}
			if _, ok := seen[ancestor]; ok {
				continue
			}
			seen[ancestor] = struct{}{}
			idx.members[ancestor] = append(idx.members[ancestor], i)
		}
	}
	return idx
}

// Descendants returns the scope-closure of id, excluding id itself, in
// pointer-collection order. The closure is transitive: a pointer nested in a
// descendant of id is included even if its own scope stack omits id.
func (idx *Index) Descendants(id string) []*schema.ExecutionPointer {
	visited := map[string]struct{}{id: {}}
	var found []int
	queue := []string{id}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, i := range idx.members[current] {
			p := idx.pointers[i]
			if _, ok := visited[p.ID]; ok {
				continue
			}
			visited[p.ID] = struct{}{}
			found = append(found, i)
			queue = append(queue, p.ID)
		}
	}

	slices.Sort(found)
	out := make([]*schema.ExecutionPointer, 0, len(found))
	for _, i := range found {
		out = append(out, idx.pointers[i])
	}
	return out
}

// Contains reports whether pointerID is inside the scope-closure of ancestorID.
func (idx *Index) Contains(ancestorID, pointerID string) bool {
	if ancestorID == pointerID {
		return false
	}
	for _, p := range idx.Descendants(ancestorID) {
		if p.ID == pointerID {
			return true
		}
	}
	return false
}

// Len returns the number of indexed pointers.
func (idx *Index) Len() int { return len(idx.pointers) }
