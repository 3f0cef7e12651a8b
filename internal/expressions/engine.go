// Package expressions evaluates cancel conditions against workflow data.
package expressions

import (
	"context"
	"sync"

	"github.com/rendis/cascade/pkg/schema"
)

// DataVar is the variable name under which workflow data is exposed to every engine.
const DataVar = "data"

// Engine evaluates expressions against workflow data.
// Three implementations: CEL (default), Expr, GoJQ.
type Engine interface {
	Name() string
	// Compile parses and caches the expression without evaluating it.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// activation wraps instance data into the environment seen by expressions.
func activation(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{DataVar: data}
}

// programCache memoizes compiled programs by source text. Safe for
// concurrent use; a failed compile is not cached.
type programCache[P any] struct {
	label   string
	compile func(expression string) (P, error)

	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any](label string, compile func(string) (P, error)) *programCache[P] {
	return &programCache[P]{label: label, compile: compile, progs: make(map[string]P)}
}

func (c *programCache[P]) get(expression string) (P, error) {
	var zero P
	if expression == "" {
		return zero, schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", c.label)
	}

	c.mu.RLock()
	prg, ok := c.progs[expression]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.progs[expression]; ok {
		return prg, nil
	}
	prg, err := c.compile(expression)
	if err != nil {
		return zero, compileError(c.label, expression, err)
	}
	c.progs[expression] = prg
	return prg, nil
}

func compileError(label, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %s", label, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(label, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s evaluation failed for %q: %s", label, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
