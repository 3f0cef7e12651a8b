package definition

import (
	"sort"
	"sync"

	"github.com/rendis/cascade/pkg/schema"
)

// Registry holds loaded workflows keyed by ID and version.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]map[int]*Workflow
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]map[int]*Workflow)}
}

// Register adds or replaces a workflow version.
func (r *Registry) Register(wf *Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.workflows[wf.ID]
	if !ok {
		versions = make(map[int]*Workflow)
		r.workflows[wf.ID] = versions
	}
	versions[wf.Version] = wf
}

// Get returns the requested version; version 0 selects the latest.
func (r *Registry) Get(id string, version int) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.workflows[id]
	if !ok || len(versions) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition %q not registered", id)
	}
	if version == 0 {
		latest := -1
		for v := range versions {
			if v > latest {
				latest = v
			}
		}
		return versions[latest], nil
	}
	wf, ok := versions[version]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"workflow definition %q version %d not registered", id, version)
	}
	return wf, nil
}

// List returns every registered workflow ordered by ID then version.
func (r *Registry) List() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Workflow
	for _, versions := range r.workflows {
		for _, wf := range versions {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out
}
