package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
	"github.com/DrSkyle/cloudtail/pkg/engine/filter"
	"github.com/DrSkyle/cloudtail/pkg/engine/matcher"
	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
	"github.com/DrSkyle/cloudtail/pkg/store"
)

// Status is the terminal state of a unit.
type Status int

const (
	// Skipped units wrote nothing; the rule (or account) is skipped and the run continues.
	Skipped Status = iota
	// Recorded units committed their execution record and events.
	Recorded
	// Fatal units wrote nothing and abort the remaining rules of the account.
	Fatal
)

func (s Status) String() string {
	switch s {
	case Recorded:
		return "recorded"
	case Fatal:
		return "fatal"
	}
	return "skipped"
}

// Outcome reports what happened to one (account, rule) unit.
type Outcome struct {
	Status   Status
	Provider normalize.Provider
	Scope    string
	Rule     string
	Window   watermark.Window
	// ServerSide is true when the attribute was enforced by the provider.
	ServerSide bool
	Fetched    int
	Matched    int
	// Degraded counts events normalized with a warning.
	Degraded int
	Result   store.CommitResult
	// Err is the reason for Skipped and Fatal outcomes.
	Err      error
	Duration time.Duration
}

// Committer persists a unit. *store.Store implements it.
type Committer interface {
	Commit(ctx context.Context, u store.Unit) (store.CommitResult, error)
}

// Adapter runs the per-unit state machine. It is safe for concurrent use.
type Adapter struct {
	tracker   *watermark.Tracker
	committer Committer
	clock     watermark.Clock
	newID     normalize.IDFunc
	logger    *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock sets the clock used for execution timestamps.
func WithClock(c watermark.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithIDFunc sets the generator for execution ids and missing event ids.
func WithIDFunc(f normalize.IDFunc) Option {
	return func(a *Adapter) { a.newID = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter returns an Adapter that reads windows from tracker and writes to committer.
func NewAdapter(tracker *watermark.Tracker, committer Committer, opts ...Option) *Adapter {
	a := &Adapter{
		tracker:   tracker,
		committer: committer,
		clock:     watermark.SystemClock,
		newID:     normalize.NewUUID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes rule against sess. Identity has already been resolved by the Connector.
func (a *Adapter) Run(ctx context.Context, sess Session, rule CompiledRule) (out Outcome) {
	acct := sess.Account()
	out = Outcome{Provider: sess.Provider(), Scope: acct.ID, Rule: rule.Name}
	began := a.clock.Now()
	defer func() { out.Duration = a.clock.Now().Sub(began) }()

	log := a.logger.With("provider", out.Provider, "account", acct.ID, "rule", rule.Name)

	// Window.
	attrKey, attrValue := rule.WatermarkAttribute()
	w, err := a.tracker.Next(ctx, watermark.Key{
		Provider:       string(out.Provider),
		Scope:          acct.ID,
		AttributeKey:   attrKey,
		AttributeValue: attrValue,
	})
	if err != nil {
		return out.fail(Fatal, err)
	}
	out.Window = w

	q := Query{Window: w}
	if rule.HasAttribute() && rule.Pattern.Kind() == matcher.Exact && sess.SupportsLookup(rule.AttributeKey) {
		q.Lookup = &Lookup{Key: rule.AttributeKey, Value: rule.AttributeValue}
		out.ServerSide = true
	}
	log.Debug("Polling window", "window", w.String(), "server_side", out.ServerSide)

	// Fetch and normalize.
	execStart := a.clock.Now()
	var events []normalize.Event
	for raw, err := range sess.ListEvents(ctx, q) {
		if err != nil {
			return a.fetchFailed(ctx, out, err, log)
		}
		ev, warn := normalize.Normalize(raw, acct, a.newID)
		if warn != nil {
			out.Degraded++
			log.Warn("Event degraded during normalization", "event_id", ev.SourceID, "error", warn)
		}
		events = append(events, ev)
	}
	out.Fetched = len(events)

	// Filter, then match.
	if rule.Filter != nil {
		payloads := make([]tree.Value, len(events))
		for i, ev := range events {
			payloads[i] = ev.Payload
		}
		idx, err := rule.Filter.Select(payloads)
		var evalErr *filter.EvalError
		if errors.As(err, &evalErr) {
			log.Debug("Structured filter deselected events it could not evaluate",
				"filter", rule.Filter.String(), "deselected", evalErr.Count, "error", evalErr.Err)
		} else if err != nil {
			log.Warn("Structured filter failed, skipping rule", "filter", rule.Filter.String(), "error", err)
			return out.fail(Skipped, failure.New(failure.Configuration, "apply filter", err))
		}
		selected := make([]normalize.Event, 0, len(idx))
		for _, i := range idx {
			selected = append(selected, events[i])
		}
		events = selected
	}
	if rule.HasAttribute() && !out.ServerSide {
		matched := events[:0]
		for _, ev := range events {
			if rule.Pattern.Match(normalize.ResolvePath(ev.Payload, rule.AttributeKey)) {
				matched = append(matched, ev)
			}
		}
		events = matched
	}
	out.Matched = len(events)

	if err := ctx.Err(); err != nil {
		return out.fail(Fatal, err)
	}

	// Persist.
	exec := store.Execution{
		ID:             a.newID(),
		Provider:       out.Provider,
		Scope:          acct.ID,
		RuleName:       rule.Name,
		AttributeKey:   attrKey,
		AttributeValue: attrValue,
		WindowStart:    w.Start,
		WindowEnd:      w.End,
		ExecStart:      execStart,
		ExecEnd:        a.clock.Now(),
		ResultCount:    len(events),
		Succeeded:      true,
	}
	for i := range events {
		events[i].ExecutionID = exec.ID
	}
	res, err := a.committer.Commit(ctx, store.Unit{Execution: exec, Events: events})
	if err != nil {
		return out.fail(Fatal, fmt.Errorf("persist unit: %w", err))
	}
	out.Result = res
	out.Status = Recorded

	if res.Inserted > 0 {
		log.Info("Events recorded", "new", res.Inserted, "matched", out.Matched, "execution_id", res.ExecutionID)
	} else {
		log.Info("No new events for window", "matched", out.Matched, "window", w.String())
	}
	return out
}

func (a *Adapter) fetchFailed(ctx context.Context, out Outcome, err error, log *slog.Logger) Outcome {
	switch {
	case failure.Is(err, failure.Permission):
		log.Warn("Missing permission, skipping rule for this account", "error", err)
		return out.fail(Skipped, err)
	case ctx.Err() != nil:
		return out.fail(Fatal, ctx.Err())
	}
	if _, typed := failure.KindOf(err); !typed {
		err = failure.New(failure.TransientFetch, "list events", err)
	}
	log.Error("Fetch failed, aborting account", "error", err)
	return out.fail(Fatal, err)
}

func (o Outcome) fail(s Status, err error) Outcome {
	o.Status = s
	o.Err = err
	return o
}

// Cancelled reports whether the unit stopped because its context ended.
func (o Outcome) Cancelled() bool {
	return errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded)
}
