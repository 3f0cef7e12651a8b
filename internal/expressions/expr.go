package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates expr-lang conditions such as
// `data.order?.status == "void"` or `any(data.items, .refunded)`.
// Undefined variables evaluate to nil instead of failing compilation.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache("expr", func(expression string) (*vm.Program, error) {
		return expr.Compile(expression,
			expr.Env(map[string]any{DataVar: map[string]any{}}),
			expr.AllowUndefinedVariables(),
		)
	})}
}

func (e *ExprEngine) Name() string { return "expr" }

func (e *ExprEngine) Compile(expression string) error {
	_, err := e.cache.get(expression)
	return err
}

// Evaluate runs the program. expr has no cancellation hook, so ctx is only
// checked before the run.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.cache.get(expression)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, activation(data))
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
