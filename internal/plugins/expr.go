package plugins

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"serialspec/internal/fetch"
	"serialspec/internal/spec"
)

// Expression outputs the value of an expr-lang expression evaluated over
// the record. Related records loaded by Spec are reachable by key, e.g.
// `upper(school.lea.name + ": " + school.name)`. The request principal is
// available as `principal`.
type Expression struct {
	Source string
	Spec   spec.Spec
	prog   *vm.Program
}

// Expr compiles source into a plugin that loads nested before evaluating.
func Expr(source string, nested spec.Spec) (*Expression, error) {
	prog, err := expr.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: compile expression %q: %w", spec.ErrConfig, source, err)
	}
	return &Expression{Source: source, Spec: nested, prog: prog}, nil
}

// MustExpr is Expr for declarations known at init time.
func MustExpr(source string, nested spec.Spec) *Expression {
	e, err := Expr(source, nested)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expression) NestedSpec(b spec.Binding) spec.Spec { return e.Spec }

func (e *Expression) ModifyFetch(b spec.Binding, p *fetch.Plan) (*fetch.Plan, error) {
	return p, nil
}

func (e *Expression) Value(b spec.Binding, rec map[string]any) (any, error) {
	env := make(map[string]any, len(rec)+2)
	for k, v := range rec {
		env[k] = v
	}
	env["principal"] = b.Principal
	env["key"] = b.Key

	result, err := expr.Run(e.prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", b.Key, err)
	}
	return result, nil
}
