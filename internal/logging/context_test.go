package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullContext() context.Context {
	ctx := WithWorkflowID(context.Background(), "wf-1")
	ctx = WithStepID(ctx, "fanout")
	return WithPointerID(ctx, "ptr-7")
}

func TestCorrelationRoundTrip(t *testing.T) {
	bare := context.Background()
	assert.Empty(t, WorkflowID(bare))
	assert.Empty(t, Attrs(bare))

	ctx := fullContext()
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "fanout", StepID(ctx))
	assert.Equal(t, "ptr-7", PointerID(ctx))
}

func TestDerivedContextLeavesParentAlone(t *testing.T) {
	parent := WithWorkflowID(context.Background(), "wf-1")
	child := WithPointerID(parent, "ptr-1")
	sibling := WithPointerID(parent, "ptr-2")

	assert.Empty(t, PointerID(parent))
	assert.Equal(t, "ptr-1", PointerID(child))
	assert.Equal(t, "ptr-2", PointerID(sibling))
	assert.Equal(t, "wf-1", WorkflowID(sibling))
}

func TestAttrsOrderAndOmission(t *testing.T) {
	assert.Equal(t, []slog.Attr{
		slog.String("workflow_id", "wf-1"),
		slog.String("step_id", "fanout"),
		slog.String("pointer_id", "ptr-7"),
	}, Attrs(fullContext()))

	ctx := WithPointerID(context.Background(), "ptr-only")
	assert.Equal(t, []slog.Attr{slog.String("pointer_id", "ptr-only")}, Attrs(ctx))
}

func TestLogWith(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		present []string
		absent  []string
	}{
		{"all ids", fullContext(), []string{"workflow_id=wf-1", "step_id=fanout", "pointer_id=ptr-7"}, nil},
		{"workflow only", WithWorkflowID(context.Background(), "wf-2"), []string{"workflow_id=wf-2"}, []string{"step_id", "pointer_id"}},
		{"none", context.Background(), nil, []string{"workflow_id", "step_id", "pointer_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			LogWith(tt.ctx, logger).Info("cancelled")

			out := buf.String()
			assert.Contains(t, out, "cancelled")
			for _, s := range tt.present {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "cancellation")}))

	logger.InfoContext(fullContext(), "pointer cancelled")
	out := buf.String()
	assert.Contains(t, out, `"workflow_id":"wf-1"`)
	assert.Contains(t, out, `"step_id":"fanout"`)
	assert.Contains(t, out, `"pointer_id":"ptr-7"`)
	assert.Contains(t, out, `"component":"cancellation"`)

	buf.Reset()
	logger.InfoContext(context.Background(), "bare")
	assert.NotContains(t, buf.String(), "workflow_id")
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)).WithGroup("engine"))

	logger.InfoContext(WithWorkflowID(context.Background(), "wf-grp"), "grouped", "key", "val")
	assert.Contains(t, buf.String(), `"engine":{`)
	assert.Contains(t, buf.String(), "wf-grp")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerInjectsCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	ctx := WithPointerID(WithWorkflowID(context.Background(), "wf-9"), "ptr-9")
	logger.DebugContext(ctx, "hidden")
	logger.InfoContext(ctx, "shown")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "workflow_id=wf-9")
	assert.Contains(t, output, "pointer_id=ptr-9")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}
