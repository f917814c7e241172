package filter

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
	"github.com/jmespath/go-jmespath"
)

type jmesFilter struct {
	expr string
	jp   *jmespath.JMESPath
}

func compileJMESPath(expr string) (*jmesFilter, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression %q: %w", expr, err)
	}
	return &jmesFilter{expr: expr, jp: jp}, nil
}

func (f *jmesFilter) Language() Language { return JMESPath }
func (f *jmesFilter) String() string     { return f.expr }

// Select runs the expression over the whole batch. The result must be a list of the
// input objects themselves (for example `[?eventName=='DeleteTrail']`); projections that
// build new values cannot be traced back to events and are rejected. A null or empty
// result selects nothing.
func (f *jmesFilter) Select(payloads []tree.Value) ([]int, error) {
	docs := make([]any, len(payloads))
	index := make(map[uintptr]int, len(payloads))
	for i, p := range payloads {
		doc := floatNumbers(p.Plain())
		docs[i] = doc
		if m, ok := doc.(map[string]any); ok {
			index[reflect.ValueOf(m).Pointer()] = i
		}
	}

	result, err := f.jp.Search(docs)
	if err != nil {
		return nil, fmt.Errorf("JMESPath search %q: %w", f.expr, err)
	}
	if result == nil {
		return nil, nil
	}
	items, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("JMESPath filter %q must select events, got %T", f.expr, result)
	}

	seen := make(map[int]bool, len(items))
	var selected []int
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("JMESPath filter %q must select events, got element %T", f.expr, item)
		}
		i, ok := index[reflect.ValueOf(m).Pointer()]
		if !ok {
			return nil, fmt.Errorf("JMESPath filter %q projected new objects instead of selecting events", f.expr)
		}
		if !seen[i] {
			seen[i] = true
			selected = append(selected, i)
		}
	}
	slices.Sort(selected)
	return selected, nil
}

// floatNumbers converts integers to float64, the only numeric type go-jmespath compares.
func floatNumbers(x any) any {
	switch t := x.(type) {
	case int64:
		return float64(t)
	case []any:
		for i, item := range t {
			t[i] = floatNumbers(item)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = floatNumbers(item)
		}
		return t
	}
	return x
}
