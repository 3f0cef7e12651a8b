package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/cascade/pkg/schema"
)

// DefaultEngine is used when a condition names no engine.
const DefaultEngine = "cel"

// Predicate is a compiled cancel condition over workflow data.
type Predicate func(ctx context.Context, data map[string]any) (bool, error)

// Compiler turns declarative conditions into Predicates.
type Compiler struct {
	engines map[string]Engine
}

// NewCompiler registers the given engines by name.
func NewCompiler(engines ...Engine) *Compiler {
	c := &Compiler{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		c.engines[e.Name()] = e
	}
	return c
}

// NewDefaultCompiler creates a Compiler with the CEL, Expr and GoJQ engines.
func NewDefaultCompiler() (*Compiler, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewCompiler(celEngine, NewExprEngine(), NewGoJQEngine()), nil
}

// Engines returns the registered engine names.
func (c *Compiler) Engines() []string {
	names := make([]string, 0, len(c.engines))
	for name := range c.engines {
		names = append(names, name)
	}
	return names
}

// Check validates the condition without building a Predicate.
func (c *Compiler) Check(cond *schema.Condition) error {
	_, err := c.Compile(cond)
	return err
}

// Compile resolves the engine, precompiles the expression and returns a
// Predicate. A nil condition compiles to a nil Predicate.
func (c *Compiler) Compile(cond *schema.Condition) (Predicate, error) {
	if cond == nil {
		return nil, nil
	}
	name := strings.ToLower(cond.Engine)
	if name == "" {
		name = DefaultEngine
	}
	engine, ok := c.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition engine %q", cond.Engine)
	}
	if err := engine.Compile(cond.Expression); err != nil {
		return nil, err
	}

	expression := cond.Expression
	return func(ctx context.Context, data map[string]any) (bool, error) {
		out, err := engine.Evaluate(ctx, expression, data)
		if err != nil {
			return false, err
		}
		b, ok := out.(bool)
		if !ok {
			return false, schema.NewErrorf(schema.ErrCodePredicateFailed,
				"condition %q returned %s, want bool", expression, typeName(out)).
				WithDetails(map[string]any{"expression": expression, "engine": name})
		}
		return b, nil
	}, nil
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
