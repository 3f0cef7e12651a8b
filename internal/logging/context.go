// Package logging carries workflow correlation IDs through context.Context
// and into log/slog records.
package logging

import (
	"context"
	"log/slog"
)

// correlation is stored as one context value and copied on every change, so
// a derived context never mutates its parent's IDs.
type correlation struct {
	workflowID string
	stepID     string
	pointerID  string
}

type correlationKey struct{}

func fromContext(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func with(ctx context.Context, set func(*correlation)) context.Context {
	c := fromContext(ctx)
	set(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// WithWorkflowID scopes log records to a workflow instance.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.workflowID = id })
}

// WithStepID scopes log records to a definition step.
func WithStepID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.stepID = id })
}

// WithPointerID scopes log records to an execution pointer.
func WithPointerID(ctx context.Context, id string) context.Context {
	return with(ctx, func(c *correlation) { c.pointerID = id })
}

func WorkflowID(ctx context.Context) string { return fromContext(ctx).workflowID }
func StepID(ctx context.Context) string     { return fromContext(ctx).stepID }
func PointerID(ctx context.Context) string  { return fromContext(ctx).pointerID }

// Attrs returns the non-empty correlation IDs of ctx as slog attributes.
func Attrs(ctx context.Context) []slog.Attr {
	c := fromContext(ctx)
	attrs := make([]slog.Attr, 0, 3)
	for _, kv := range [...]struct{ key, val string }{
		{"workflow_id", c.workflowID},
		{"step_id", c.stepID},
		{"pointer_id", c.pointerID},
	} {
		if kv.val != "" {
			attrs = append(attrs, slog.String(kv.key, kv.val))
		}
	}
	return attrs
}

// LogWith binds the correlation IDs of ctx to logger. Use it where the
// logger's handler is not a CorrelationHandler or the call site has no ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := Attrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the correlation IDs of the record's context to
// every record, so logger.InfoContext(ctx, ...) needs no explicit IDs.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(Attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
