package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

func TestWorkflowFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewWorkflowFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "wf-1", schema.WorkflowStatusRunnable, schema.WorkflowStatusSuspended))
	require.NoError(t, fsm.Transition(ctx, "wf-1", schema.WorkflowStatusSuspended, schema.WorkflowStatusRunnable))
	require.NoError(t, fsm.Transition(ctx, "wf-1", schema.WorkflowStatusRunnable, schema.WorkflowStatusComplete))

	events := app.Events()
	require.Len(t, events, 3)
	assert.Equal(t, schema.EventWorkflowSuspended, events[0].Type)
	assert.Equal(t, schema.EventWorkflowResumed, events[1].Type)
	assert.Equal(t, schema.EventWorkflowCompleted, events[2].Type)
	assert.Equal(t, "wf-1", events[2].WorkflowID)
}

func TestWorkflowFSM_InvalidTransition(t *testing.T) {
	app := &mockAppender{}
	fsm := NewWorkflowFSM(app)

	err := fsm.Transition(context.Background(), "wf-1", schema.WorkflowStatusSuspended, schema.WorkflowStatusComplete)
	require.Error(t, err)

	var cErr *schema.CascadeError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeInvalidTransition, cErr.Code)
	assert.Contains(t, cErr.Message, "suspended")
	assert.Contains(t, cErr.Message, "complete")
	assert.Empty(t, app.Events())
}

func TestWorkflowFSM_TerminalStatesRejectTransitions(t *testing.T) {
	fsm := NewWorkflowFSM(&mockAppender{})
	for _, terminal := range []schema.WorkflowStatus{
		schema.WorkflowStatusComplete,
		schema.WorkflowStatusTerminated,
	} {
		err := fsm.Transition(context.Background(), "wf-1", terminal, schema.WorkflowStatusRunnable)
		require.Error(t, err, "should not transition from terminal state %s", terminal)
	}
}

func TestWorkflowFSM_TerminateFromLiveStates(t *testing.T) {
	app := &mockAppender{}
	fsm := NewWorkflowFSM(app)

	for _, from := range []schema.WorkflowStatus{schema.WorkflowStatusRunnable, schema.WorkflowStatusSuspended} {
		require.NoError(t, fsm.Transition(context.Background(), "wf-"+string(from), from, schema.WorkflowStatusTerminated))
	}
	assert.Len(t, app.Events(), 2)
}

func TestWorkflowFSM_EventEmitFailure(t *testing.T) {
	fsm := NewWorkflowFSM(&failAppender{})
	err := fsm.Transition(context.Background(), "wf-1", schema.WorkflowStatusRunnable, schema.WorkflowStatusComplete)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

func TestWorkflowFSM_EventPayload(t *testing.T) {
	app := &mockAppender{}
	fsm := NewWorkflowFSM(app)
	require.NoError(t, fsm.Transition(context.Background(), "wf-1", schema.WorkflowStatusSuspended, schema.WorkflowStatusTerminated))

	events := app.Events()
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventWorkflowTerminated, events[0].Type)
	assert.JSONEq(t, `{"from":"suspended","to":"terminated"}`, string(events[0].Payload))
}

func TestIsValidWorkflowTransition(t *testing.T) {
	all := []schema.WorkflowStatus{
		schema.WorkflowStatusRunnable,
		schema.WorkflowStatusSuspended,
		schema.WorkflowStatusComplete,
		schema.WorkflowStatusTerminated,
	}
	var allowed int
	for _, from := range all {
		for _, to := range all {
			if IsValidWorkflowTransition(from, to) {
				allowed++
				assert.NotEqual(t, from, to, "self transition %s", from)
			}
		}
		assert.False(t, IsValidWorkflowTransition(schema.WorkflowStatusComplete, from))
		assert.False(t, IsValidWorkflowTransition(schema.WorkflowStatusTerminated, from))
	}
	assert.Equal(t, 5, allowed)
}
