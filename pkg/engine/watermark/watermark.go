// Package watermark computes the next time window to poll for a rule.
package watermark

import (
	"context"
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultBackfill  = 89 * 24 * time.Hour
	DefaultSafetyLag = 30 * time.Minute
	DefaultMaxWindow = 30 * 24 * time.Hour
	MinWindow        = time.Minute
)

// Clock supplies the current time. Components never read the system clock directly.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock, in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Key identifies a watermark: one rule attribute polled within one account scope.
type Key struct {
	Provider       string
	Scope          string
	AttributeKey   string
	AttributeValue string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s %s=%s", k.Provider, k.Scope, k.AttributeKey, k.AttributeValue)
}

// History is the read side of persisted execution history.
type History interface {
	// LatestSuccessfulEnd returns the window end of the most recent successful execution for key.
	LatestSuccessfulEnd(ctx context.Context, key Key) (end time.Time, found bool, err error)
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + " -> " + w.End.Format(time.RFC3339)
}

// Policy bounds windows.
type Policy struct {
	// Backfill is how far back the first poll of a rule reaches.
	Backfill time.Duration
	// SafetyLag keeps windows clear of events the provider has not delivered yet.
	SafetyLag time.Duration
	// MaxWindow caps a single poll.
	MaxWindow time.Duration
}

// DefaultPolicy returns the standard bounds.
func DefaultPolicy() Policy {
	return Policy{
		Backfill:  DefaultBackfill,
		SafetyLag: DefaultSafetyLag,
		MaxWindow: DefaultMaxWindow,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Backfill <= 0 {
		p.Backfill = d.Backfill
	}
	if p.SafetyLag <= 0 {
		p.SafetyLag = d.SafetyLag
	}
	if p.MaxWindow <= 0 {
		p.MaxWindow = d.MaxWindow
	}
	return p
}

// Tracker computes windows from execution history. It performs no writes.
type Tracker struct {
	history History
	clock   Clock
	policy  Policy
}

// NewTracker returns a Tracker. A nil clock means SystemClock; zero or negative policy
// fields take their defaults.
func NewTracker(history History, clock Clock, policy Policy) *Tracker {
	if clock == nil {
		clock = SystemClock
	}
	return &Tracker{history: history, clock: clock, policy: policy.withDefaults()}
}

// Next returns the window to query for key.
func (t *Tracker) Next(ctx context.Context, key Key) (Window, error) {
	now := t.clock.Now()

	start, found, err := t.history.LatestSuccessfulEnd(ctx, key)
	if err != nil {
		return Window{}, fmt.Errorf("read watermark for %s: %w", key, err)
	}
	if !found {
		start = now.Add(-t.policy.Backfill)
	}
	return Compute(start, now, t.policy), nil
}

// Compute applies the policy caps to a window starting at start.
func Compute(start, now time.Time, p Policy) Window {
	p = p.withDefaults()

	end := start.Add(p.MaxWindow)
	if lagged := now.Add(-p.SafetyLag); lagged.Before(end) {
		end = lagged
	}
	if !end.After(start) {
		end = start.Add(MinWindow)
	}
	return Window{Start: start, End: end}
}
