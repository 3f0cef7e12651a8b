package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/cascade/pkg/schema"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store. Instances are deep-copied on the way in
// and out, so callers never share snapshots with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]*schema.WorkflowInstance
	order       []string
	definitions map[string]map[int]*DefinitionDocument
	events      map[string][]*Event
	commands    map[string]*schema.ScheduledCommand
	nextEventID int64
	noCommands  bool
}

// NewMemoryStore creates an empty MemoryStore with scheduled-command support.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]*schema.WorkflowInstance),
		definitions: make(map[string]map[int]*DefinitionDocument),
		events:      make(map[string][]*Event),
		commands:    make(map[string]*schema.ScheduledCommand),
	}
}

// DisableScheduledCommands makes SupportsScheduledCommands report false.
func (s *MemoryStore) DisableScheduledCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noCommands = true
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// --- Workflows ---

func (s *MemoryStore) CreateWorkflow(_ context.Context, wf *schema.WorkflowInstance) error {
	cp, err := cloneInstance(wf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already exists", wf.ID)
	}
	s.workflows[wf.ID] = cp
	s.order = append(s.order, wf.ID)
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.WorkflowInstance, error) {
	s.mu.RLock()
	wf, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return cloneInstance(wf)
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, wf *schema.WorkflowInstance) error {
	cp, err := cloneInstance(wf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return storeNotFound("workflow", wf.ID)
	}
	s.workflows[wf.ID] = cp
	return nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.WorkflowInstance
	skipped := 0
	// Newest first, like the SQL store.
	for i := len(s.order) - 1; i >= 0; i-- {
		wf := s.workflows[s.order[i]]
		if filter.Status != "" && string(wf.Status) != filter.Status {
			continue
		}
		if filter.DefinitionID != "" && wf.DefinitionID != filter.DefinitionID {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp, err := cloneInstance(wf)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Definitions ---

func (s *MemoryStore) StoreDefinition(_ context.Context, doc *DefinitionDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.definitions[doc.ID]
	if !ok {
		versions = make(map[int]*DefinitionDocument)
		s.definitions[doc.ID] = versions
	}
	cp := *doc
	cp.CreatedAt = timeOrNow(doc.CreatedAt)
	versions[doc.Version] = &cp
	return nil
}

func (s *MemoryStore) GetDefinition(_ context.Context, id string, version int) (*DefinitionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.definitions[id]
	if version == 0 {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	doc, ok := versions[version]
	if !ok {
		return nil, storeNotFound("definition", fmt.Sprintf("%s:%d", id, version))
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDefinitions(context.Context) ([]*DefinitionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DefinitionDocument
	for _, versions := range s.definitions {
		for _, doc := range versions {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// --- Events ---

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.nextEventID++
	event.ID = s.nextEventID
	event.Sequence = int64(len(s.events[event.WorkflowID]) + 1)
	cp := *event
	s.events[event.WorkflowID] = append(s.events[event.WorkflowID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, workflowID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[workflowID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Scheduled commands ---

func (s *MemoryStore) SupportsScheduledCommands() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.noCommands
}

func (s *MemoryStore) ScheduleCommand(_ context.Context, cmd *schema.ScheduledCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commands {
		if c.CommandName == cmd.CommandName && c.Data == cmd.Data && c.ExecuteTime.Equal(cmd.ExecuteTime) {
			return nil
		}
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	cp := *cmd
	s.commands[cmd.ID] = &cp
	return nil
}

// ProcessCommands follows the same claim-then-visit contract as LibSQLStore.
func (s *MemoryStore) ProcessCommands(ctx context.Context, asOf time.Time, visit CommandVisitor) error {
	var errs []error
	for _, cmd := range s.due(asOf) {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if !s.claim(cmd.ID) {
			continue
		}
		verr := visit(ctx, cmd)
		if verr == nil {
			continue
		}
		if err := s.ScheduleCommand(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
		if !errors.Is(verr, ErrKeepCommand) {
			errs = append(errs, fmt.Errorf("command %s (%s): %w", cmd.ID, cmd.CommandName, verr))
		}
	}
	return errors.Join(errs...)
}

func (s *MemoryStore) due(asOf time.Time) []*schema.ScheduledCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.ScheduledCommand
	for _, c := range s.commands {
		if !c.ExecuteTime.After(asOf) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortCommands(out)
	return out
}

func (s *MemoryStore) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[id]; !ok {
		return false
	}
	delete(s.commands, id)
	return true
}

func (s *MemoryStore) ListCommands(_ context.Context, filter CommandFilter) ([]*schema.ScheduledCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.ScheduledCommand
	for _, c := range s.commands {
		if filter.CommandName != "" && c.CommandName != filter.CommandName {
			continue
		}
		if filter.Data != "" && c.Data != filter.Data {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortCommands(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortCommands(cmds []*schema.ScheduledCommand) {
	sort.Slice(cmds, func(i, j int) bool {
		if !cmds[i].ExecuteTime.Equal(cmds[j].ExecuteTime) {
			return cmds[i].ExecuteTime.Before(cmds[j].ExecuteTime)
		}
		return cmds[i].ID < cmds[j].ID
	})
}

func cloneInstance(wf *schema.WorkflowInstance) (*schema.WorkflowInstance, error) {
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	var cp schema.WorkflowInstance
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &cp, nil
}
