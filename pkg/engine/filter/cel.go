package filter

import (
	"fmt"

	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
	"github.com/google/cel-go/cel"
)

type celFilter struct {
	expr string
	prg  cel.Program
}

func compileCEL(expr string) (*celFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL filter must evaluate to bool, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return &celFilter{expr: expr, prg: prg}, nil
}

func (f *celFilter) Language() Language { return CEL }
func (f *celFilter) String() string     { return f.expr }

// Select evaluates the program per event. Evaluation errors (a missing key, a type
// mismatch) deselect that event only and are summarized in an *EvalError.
func (f *celFilter) Select(payloads []tree.Value) ([]int, error) {
	var (
		selected []int
		evalErr  *EvalError
	)
	for i, p := range payloads {
		out, _, err := f.prg.Eval(map[string]any{"event": p.Plain()})
		if err != nil {
			if evalErr == nil {
				evalErr = &EvalError{Err: err}
			}
			evalErr.Count++
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			selected = append(selected, i)
		}
	}
	if evalErr != nil {
		return selected, evalErr
	}
	return selected, nil
}
