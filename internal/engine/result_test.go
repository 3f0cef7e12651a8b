package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/cancellation"
	"github.com/rendis/cascade/internal/definition"
	"github.com/rendis/cascade/pkg/schema"
)

var resultNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResultProcessor() *ResultProcessor {
	r := NewResultProcessor(cancellation.ClockFunc(func() time.Time { return resultNow }))
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
	return r
}

func routedDefinition() *definition.Workflow {
	return definition.NewWorkflow("routes", 1,
		&definition.Step{StepDefinition: schema.StepDefinition{
			ID: "decide",
			Outcomes: []schema.StepOutcome{
				{Next: "always"},
				{Next: "yes", Value: "yes"},
				{Next: "two", Value: 2},
			},
		}},
		&definition.Step{StepDefinition: schema.StepDefinition{ID: "always"}},
		&definition.Step{StepDefinition: schema.StepDefinition{ID: "yes", Name: "Yes branch"}},
		&definition.Step{StepDefinition: schema.StepDefinition{ID: "two"}},
		&definition.Step{StepDefinition: schema.StepDefinition{ID: "loop", Children: []string{"body"}}},
		&definition.Step{StepDefinition: schema.StepDefinition{ID: "body"}},
	)
}

func TestResultProcessor_ProceedFollowsMatchingOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		result schema.ExecutionResult
		want   []string
	}{
		{"next", schema.Next(), []string{"always"}},
		{"string outcome", schema.Outcome("yes"), []string{"yes"}},
		{"numeric outcome from float", schema.Outcome(2.0), []string{"two"}},
		{"numeric outcome", schema.Outcome(2), []string{"two"}},
		{"unmatched", schema.Outcome("no"), []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := routedDefinition()
			ptr := &schema.ExecutionPointer{ID: "p", StepID: "decide", Active: true, Status: schema.PointerStatusRunning, Scope: []string{"outer"}}
			wf := &schema.WorkflowInstance{ID: "wf", ExecutionPointers: schema.PointerCollection{ptr}}
			acc := &schema.ExecutorResult{}

			require.NoError(t, newTestResultProcessor().ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("decide"), tc.result, acc))

			assert.Equal(t, schema.PointerStatusComplete, ptr.Status)
			assert.False(t, ptr.Active)
			assert.Equal(t, resultNow, *ptr.EndTime)

			got := []string{}
			for _, p := range wf.ExecutionPointers[1:] {
				got = append(got, p.StepID)
				assert.Equal(t, []string{"outer"}, p.Scope)
				assert.Equal(t, "p", p.PredecessorID)
				assert.Equal(t, schema.PointerStatusPending, p.Status)
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, schema.EventPointerCompleted, acc.Transitions[0].Event)
		})
	}
}

func TestResultProcessor_SuccessorScopeIsCopied(t *testing.T) {
	def := routedDefinition()
	ptr := &schema.ExecutionPointer{ID: "p", StepID: "decide", Status: schema.PointerStatusRunning, Scope: []string{"outer"}}
	wf := &schema.WorkflowInstance{ExecutionPointers: schema.PointerCollection{ptr}}

	require.NoError(t, newTestResultProcessor().ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("decide"), schema.Next(), nil))
	wf.ExecutionPointers[1].Scope[0] = "changed"
	assert.Equal(t, []string{"outer"}, ptr.Scope)
}

func TestResultProcessor_BranchCreatesChildrenInScope(t *testing.T) {
	def := routedDefinition()
	ptr := &schema.ExecutionPointer{ID: "p", StepID: "loop", Active: true, Status: schema.PointerStatusPending, Scope: []string{"outer"}}
	wf := &schema.WorkflowInstance{ExecutionPointers: schema.PointerCollection{ptr}}
	acc := &schema.ExecutorResult{}

	require.NoError(t, newTestResultProcessor().ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("loop"), schema.Branch(1, 2, 3), acc))

	require.Len(t, wf.ExecutionPointers, 4)
	assert.Equal(t, []string{"new-1", "new-2", "new-3"}, ptr.Children)
	assert.Equal(t, schema.PointerStatusRunning, ptr.Status)
	assert.True(t, ptr.Active)
	for i, child := range wf.ExecutionPointers[1:] {
		assert.Equal(t, "body", child.StepID)
		assert.Equal(t, []string{"p", "outer"}, child.Scope)
		assert.Equal(t, i+1, child.ContextItem)
	}
	assert.Len(t, acc.Transitions, 3)
}

func TestResultProcessor_BranchWithoutChildren(t *testing.T) {
	def := routedDefinition()
	ptr := &schema.ExecutionPointer{ID: "p", StepID: "always"}
	wf := &schema.WorkflowInstance{ExecutionPointers: schema.PointerCollection{ptr}}

	err := newTestResultProcessor().ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("always"), schema.Branch(1), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}

func TestResultProcessor_Sleep(t *testing.T) {
	def := routedDefinition()
	ptr := &schema.ExecutionPointer{ID: "p", StepID: "always", Active: true, Status: schema.PointerStatusRunning}
	wf := &schema.WorkflowInstance{ExecutionPointers: schema.PointerCollection{ptr}}
	acc := &schema.ExecutorResult{}

	require.NoError(t, newTestResultProcessor().ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("always"), schema.Sleep(time.Minute), acc))
	assert.Equal(t, schema.PointerStatusSleeping, ptr.Status)
	assert.Equal(t, resultNow.Add(time.Minute), *ptr.SleepUntil)
	require.Len(t, acc.Transitions, 1)
	assert.Equal(t, schema.EventPointerSleeping, acc.Transitions[0].Event)
}

func TestResultProcessor_Rejects(t *testing.T) {
	def := routedDefinition()
	ptr := &schema.ExecutionPointer{ID: "p", StepID: "always"}
	wf := &schema.WorkflowInstance{ExecutionPointers: schema.PointerCollection{ptr}}
	r := newTestResultProcessor()

	err := r.ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("yes"), schema.Next(), nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))

	err = r.ProcessExecutionResult(context.Background(), wf, def, ptr, def.Step("always"), schema.ExecutionResult{}, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}
