// Package filter compiles the optional structured filter attached to a rule.
package filter

import (
	"fmt"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
)

// Language is the expression language of a filter.
type Language string

const (
	// JMESPath filters run once over the list of event payloads and must select events.
	JMESPath Language = "jmespath"
	// CEL filters run per event against the variable `event` and must yield a bool.
	CEL Language = "cel"
)

// EvalError reports events a filter could not evaluate. Those events are deselected;
// the returned indices are still valid.
type EvalError struct {
	Count int
	Err   error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%d event(s) could not be evaluated: %v", e.Count, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Filter selects events from a batch of normalized payloads.
type Filter interface {
	// Select returns the indices of the selected payloads in ascending order. A non-nil
	// *EvalError accompanies a usable selection; any other error means the filter failed.
	Select(payloads []tree.Value) ([]int, error)
	Language() Language
	String() string
}

// Compile builds a filter. Malformed expressions are failure.Configuration errors.
func Compile(lang Language, expr string) (Filter, error) {
	var (
		f   Filter
		err error
	)
	switch lang {
	case JMESPath:
		f, err = compileJMESPath(expr)
	case CEL:
		f, err = compileCEL(expr)
	default:
		err = fmt.Errorf("unknown filter language %q", lang)
	}
	if err != nil {
		return nil, failure.New(failure.Configuration, "compile filter", err)
	}
	return f, nil
}
