// Package matcher decides whether an attribute value satisfies a rule pattern.
//
// Patterns are classified once:
//
//	exact  no '*' and no regex metacharacter       value == pattern
//	glob   contains '*'                             full match, '*' is the only wildcard
//	regex  metacharacters but no '*'                match anchored at position 0 (prefix)
//
// Glob matches the whole value while regex only anchors the start. Both behaviours are
// relied upon by existing rule files.
package matcher

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Kind is the matching strategy chosen for a pattern.
type Kind int

const (
	Exact Kind = iota
	Glob
	Regex
)

func (k Kind) String() string {
	switch k {
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	}
	return "exact"
}

const regexMeta = `.^$+?{}[]|()`

// Pattern is a compiled rule pattern. Compile never fails: an uncompilable regex yields a
// Pattern that matches nothing and reports the problem through Err.
type Pattern struct {
	raw  string
	kind Kind
	re   *regexp.Regexp
	err  error
}

// Classify returns the strategy a pattern will be matched with.
func Classify(pattern string) Kind {
	if strings.Contains(pattern, "*") {
		return Glob
	}
	if strings.ContainsAny(pattern, regexMeta) {
		return Regex
	}
	return Exact
}

// IsFuzzy reports whether pattern needs client-side matching rather than string equality.
func IsFuzzy(pattern string) bool {
	return Classify(pattern) != Exact
}

// Compile classifies and prepares pattern.
func Compile(pattern string) *Pattern {
	p := &Pattern{raw: pattern, kind: Classify(pattern)}
	switch p.kind {
	case Glob:
		parts := strings.Split(pattern, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		p.re = regexp.MustCompile(`^(?s:` + strings.Join(parts, `.*`) + `)$`)
	case Regex:
		// Validate the bare pattern first so anchoring cannot turn an unbalanced
		// expression into a valid one.
		if _, err := regexp.Compile(pattern); err != nil {
			p.err = err
			return p
		}
		p.re, p.err = regexp.Compile(`^(?:` + pattern + `)`)
	}
	return p
}

func (p *Pattern) String() string { return p.raw }
func (p *Pattern) Kind() Kind     { return p.kind }

// Err is non-nil when the pattern is an invalid regular expression.
func (p *Pattern) Err() error { return p.err }

// Match tests value against the pattern.
func (p *Pattern) Match(value string) bool {
	switch p.kind {
	case Exact:
		return value == p.raw
	case Glob:
		return p.re.MatchString(value)
	}
	if p.err != nil {
		return false
	}
	return p.re.MatchString(value)
}

// Matcher caches compiled patterns. Each invalid pattern is reported once, when first compiled.
// It is safe for concurrent use.
type Matcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	patterns map[string]*Pattern
}

// New returns a Matcher that reports invalid patterns to logger, or to slog.Default() when nil.
func New(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger:   logger,
		patterns: make(map[string]*Pattern),
	}
}

// Pattern returns the cached compiled form of pattern, warning the first time an
// invalid one is seen.
func (m *Matcher) Pattern(pattern string) *Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.patterns[pattern]; ok {
		return p
	}
	p := Compile(pattern)
	m.patterns[pattern] = p
	if p.err != nil {
		logger := m.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("Invalid regex pattern, it will match nothing", "pattern", pattern, "error", p.err)
	}
	return p
}

// Matches tests value against pattern.
func (m *Matcher) Matches(value, pattern string) bool {
	return m.Pattern(pattern).Match(value)
}

var defaultMatcher = New(nil)

// Matches tests value against pattern using a process-wide pattern cache.
func Matches(value, pattern string) bool {
	return defaultMatcher.Matches(value, pattern)
}
