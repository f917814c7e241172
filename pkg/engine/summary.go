package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
)

// Skip is work that never became a unit: an account whose identity could not be
// resolved, a rule that failed to compile, or a source without a connector.
type Skip struct {
	Provider normalize.Provider
	Account  string
	Rule     string
	Err      error
}

func (s Skip) String() string {
	target := string(s.Provider)
	if s.Account != "" {
		target += " account " + s.Account
	}
	if s.Rule != "" {
		target += " rule " + s.Rule
	}
	return fmt.Sprintf("%s: %v", target, s.Err)
}

// Summary aggregates one run.
type Summary struct {
	// Units are in submission order.
	Units    []source.Outcome
	Skips    []Skip
	Warnings []string

	Recorded  int
	Skipped   int
	Fatal     int
	NewEvents int
	Matched   int
	Degraded  int
	// FailedEvents counts events whose rows were rolled back individually.
	FailedEvents int
	Duration     time.Duration

	mu     sync.Mutex
	warned map[string]bool
}

// Partial reports whether anything was skipped or aborted.
func (s *Summary) Partial() bool {
	return len(s.Skips) > 0 || s.Skipped > 0 || s.Fatal > 0
}

func (s *Summary) plan(p normalize.Provider, scope, rule string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Units = append(s.Units, source.Outcome{Provider: p, Scope: scope, Rule: rule})
	return len(s.Units) - 1
}

func (s *Summary) set(i int, out source.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Units[i] = out
}

func (s *Summary) skip(sk Skip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skips = append(s.Skips, sk)
}

// warn records a warning once per run.
func (s *Summary) warn(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := fmt.Sprintf(format, args...)
	if s.warned[w] {
		return
	}
	if s.warned == nil {
		s.warned = make(map[string]bool)
	}
	s.warned[w] = true
	s.Warnings = append(s.Warnings, w)
}

func (s *Summary) tally() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recorded, s.Skipped, s.Fatal = 0, 0, 0
	s.NewEvents, s.Matched, s.Degraded, s.FailedEvents = 0, 0, 0, 0
	for _, u := range s.Units {
		switch u.Status {
		case source.Recorded:
			s.Recorded++
		case source.Fatal:
			s.Fatal++
		default:
			s.Skipped++
		}
		s.NewEvents += u.Result.Inserted
		s.Matched += u.Matched
		s.Degraded += u.Degraded
		s.FailedEvents += u.Result.Failed
	}
}
