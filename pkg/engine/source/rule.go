package source

import (
	"errors"
	"fmt"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/filter"
	"github.com/DrSkyle/cloudtail/pkg/engine/matcher"
)

// DefaultRuleName names rules that do not set one.
const DefaultRuleName = "Unknown Rule"

// Rule is a detection rule as configured.
type Rule struct {
	Name           string
	AttributeKey   string
	AttributeValue string
	JMESFilter     string
	CELFilter      string
}

// CompiledRule is a validated rule ready to run.
type CompiledRule struct {
	Rule
	// Pattern is nil when the rule only has a structured filter.
	Pattern *matcher.Pattern
	// Filter is nil when the rule has none.
	Filter filter.Filter
	// Warnings are problems that do not stop the rule, such as a regex that matches nothing.
	Warnings []string
}

// HasAttribute reports whether the rule matches on an attribute.
func (r CompiledRule) HasAttribute() bool {
	return r.AttributeKey != "" && r.AttributeValue != ""
}

// WatermarkAttribute returns the attribute pair progress is tracked under. Filter-only
// rules are tracked under their filter expression.
func (r CompiledRule) WatermarkAttribute() (key, value string) {
	if r.HasAttribute() {
		return r.AttributeKey, r.AttributeValue
	}
	return "@" + string(r.Filter.Language()), r.Filter.String()
}

// Compile validates r. Errors are failure.Configuration; the rule must be skipped.
func Compile(r Rule, m *matcher.Matcher) (CompiledRule, error) {
	if r.Name == "" {
		r.Name = DefaultRuleName
	}
	op := "compile rule " + r.Name

	if r.JMESFilter != "" && r.CELFilter != "" {
		return CompiledRule{}, failure.New(failure.Configuration, op, errors.New("jmes_filter and cel_filter are mutually exclusive"))
	}
	hasAttr := r.AttributeKey != "" && r.AttributeValue != ""
	if !hasAttr && r.JMESFilter == "" && r.CELFilter == "" {
		return CompiledRule{}, failure.New(failure.Configuration, op,
			errors.New("either AttributeKey/AttributeValue or a structured filter must be defined"))
	}

	cr := CompiledRule{Rule: r}
	var err error
	switch {
	case r.JMESFilter != "":
		cr.Filter, err = filter.Compile(filter.JMESPath, r.JMESFilter)
	case r.CELFilter != "":
		cr.Filter, err = filter.Compile(filter.CEL, r.CELFilter)
	}
	if err != nil {
		return CompiledRule{}, fmt.Errorf("%s: %w", op, err)
	}

	if hasAttr {
		if m == nil {
			cr.Pattern = matcher.Compile(r.AttributeValue)
		} else {
			cr.Pattern = m.Pattern(r.AttributeValue)
		}
		if perr := cr.Pattern.Err(); perr != nil {
			cr.Warnings = append(cr.Warnings, fmt.Sprintf("pattern %q: %v; it matches nothing", r.AttributeValue, perr))
		}
	}
	return cr, nil
}
