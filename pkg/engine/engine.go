// Package engine runs the ingestion units of a data sources file on a throttling-aware
// worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/DrSkyle/cloudtail/internal/swarm"
	"github.com/DrSkyle/cloudtail/pkg/config"
	"github.com/DrSkyle/cloudtail/pkg/engine/matcher"
	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
	"github.com/DrSkyle/cloudtail/pkg/logging"
	"github.com/DrSkyle/cloudtail/pkg/telemetry"
	"github.com/DrSkyle/cloudtail/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPartialResult is returned in strict mode when any unit or account was skipped or
// aborted.
var ErrPartialResult = errors.New("ingestion completed with partial results")

// Store is what the engine needs from persistence. *store.Store implements it.
type Store interface {
	source.Committer
	watermark.History
	Migrate(ctx context.Context) error
}

// Config holds engine settings.
type Config struct {
	// Concurrency is the starting and maximum number of units in flight. 1 runs units in
	// configuration order.
	Concurrency int
	Policy      watermark.Policy

	// StrictMode turns a partial run into ErrPartialResult.
	StrictMode bool

	OtelEndpoint  string
	SkipTelemetry bool

	Logger *slog.Logger
}

// Engine is the runtime core.
type Engine struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	config     Config
	store      Store
	connectors map[normalize.Provider]source.Connector
	matcher    *matcher.Matcher
	clock      watermark.Clock
	newID      normalize.IDFunc
	metrics    *telemetry.Metrics
	observers  []func(source.Outcome)
	shutdown   func(context.Context) error

	adapter *source.Adapter
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New builds an Engine on st. Connectors are registered with WithConnector.
func New(ctx context.Context, st Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: nil store")
	}
	logger, err := logging.New("json", "info", os.Stdout)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		Logger:     logger,
		Tracer:     otel.Tracer(version.AppName + "/engine"),
		config:     Config{Concurrency: 1},
		store:      st,
		connectors: make(map[normalize.Provider]source.Connector),
		clock:      watermark.SystemClock,
		newID:      normalize.NewUUID,
	}

	for _, opt := range opts {
		opt(e)
	}

	slog.SetDefault(e.Logger)

	if !e.config.SkipTelemetry {
		tel, err := telemetry.Init(ctx, telemetry.Options{
			Endpoint: e.config.OtelEndpoint,
			Attributes: []attribute.KeyValue{
				attribute.Int("cloudtail.concurrency", e.config.Concurrency),
				attribute.Bool("cloudtail.strict", e.config.StrictMode),
			},
		})
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdown = tel.Shutdown
		}
	}
	if e.metrics, err = telemetry.NewMetrics(version.AppName + "/engine"); err != nil {
		e.Logger.Warn("Metrics unavailable", "error", err)
	}

	e.matcher = matcher.New(e.Logger)
	tracker := watermark.NewTracker(st, e.clock, e.config.Policy)
	e.adapter = source.NewAdapter(tracker, st,
		source.WithClock(e.clock),
		source.WithIDFunc(e.newID),
		source.WithLogger(e.Logger),
	)
	return e, nil
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.Logger = l
		}
	}
}

// WithConcurrency sets the worker pool limit.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.config.Concurrency = n
		}
	}
}

// WithConfig sets raw config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = e.config.Concurrency
		}
		e.config = cfg
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// WithConnector registers the identity resolver for its provider.
func WithConnector(c source.Connector) Option {
	return func(e *Engine) {
		e.connectors[c.Provider()] = c
	}
}

// WithClock sets the clock used for windows and execution timestamps.
func WithClock(c watermark.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDFunc sets the id generator for executions and events without a provider id.
func WithIDFunc(f normalize.IDFunc) Option {
	return func(e *Engine) { e.newID = f }
}

// WithObserver is called after every unit, from worker goroutines.
func WithObserver(f func(source.Outcome)) Option {
	return func(e *Engine) { e.observers = append(e.observers, f) }
}

// Close flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

// Run polls every (data source, account, rule) unit once. The returned Summary is
// complete even when err is non-nil.
func (e *Engine) Run(ctx context.Context, srcs *config.Sources) (sum *Summary, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Run")
	defer span.End()

	began := e.clock.Now()
	sum = &Summary{}
	defer func() { sum.Duration = e.clock.Now().Sub(began) }()

	// Crash safety.
	defer e.recoverPanic(ctx, &err)

	if err := config.Validate(srcs); err != nil {
		return sum, fmt.Errorf("invalid data sources: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if err := e.store.Migrate(ctx); err != nil {
		return sum, fmt.Errorf("prepare store: %w", err)
	}

	pool := swarm.NewEngine(swarm.Options{
		Workers:    e.config.Concurrency,
		IsThrottle: e.isThrottle,
	})
	e.Logger.Info("Starting ingestion", "version", version.Current, "concurrency", e.config.Concurrency, "data_sources", len(srcs.DataSources))

	var cancels []context.CancelCauseFunc
	defer func() {
		for _, cancel := range cancels {
			cancel(nil)
		}
	}()

	for _, ds := range srcs.DataSources {
		if ctx.Err() != nil {
			break
		}
		p, _ := ds.Provider()
		refs := ds.AccountRefs()
		if len(refs) == 0 {
			e.Logger.Warn("No subscription_ids defined, skipping source", "source", ds.Source)
			sum.warn("No subscription_ids defined for %q, skipping source", ds.Source)
			continue
		}
		conn, ok := e.connectors[p]
		if !ok {
			sum.skip(Skip{Provider: p, Err: fmt.Errorf("no connector registered for %q", ds.Source)})
			continue
		}
		rules := e.compileRules(p, ds, sum)
		if len(rules) == 0 {
			sum.warn("No runnable lookup attributes for %q, skipping source", ds.Source)
			continue
		}

		for _, ref := range refs {
			if ctx.Err() != nil {
				break
			}
			sess, err := conn.Connect(ctx, ref)
			if err != nil {
				e.Logger.Error("Identity resolution failed, skipping account", "provider", p, "account", ref.String(), "error", err)
				sum.skip(Skip{Provider: p, Account: ref.String(), Err: err})
				continue
			}
			if ref.ID == "" {
				sum.warn("No account_profile_pairs defined, using default credentials (account %s)", sess.Account().ID)
			}

			actx, cancel := context.WithCancelCause(ctx)
			cancels = append(cancels, cancel)
			for _, rule := range rules {
				idx := sum.plan(p, sess.Account().ID, rule.Name)
				submitErr := pool.Submit(actx, func(tctx context.Context) error {
					out := e.runUnit(tctx, ctx, sess, rule, cancel)
					sum.set(idx, out)
					e.notify(out)
					if out.Status == source.Fatal {
						return out.Err
					}
					return nil
				})
				if submitErr != nil {
					out := aborted(p, sess.Account().ID, rule.Name, actx, submitErr)
					sum.set(idx, out)
					e.notify(out)
				}
			}
		}
	}
	pool.Wait()

	sum.tally()
	stats := pool.GetStats()
	span.SetAttributes(
		attribute.Int("units.recorded", sum.Recorded),
		attribute.Int("units.skipped", sum.Skipped),
		attribute.Int("units.fatal", sum.Fatal),
		attribute.Int("events.new", sum.NewEvents),
		attribute.Int64("pool.throttled", stats.Throttled),
	)
	e.Logger.Info("Ingestion finished",
		"recorded", sum.Recorded, "skipped", sum.Skipped, "fatal", sum.Fatal,
		"new_events", sum.NewEvents, "degraded", sum.Degraded, "throttled", stats.Throttled)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return sum, err
	}
	if sum.Partial() {
		span.SetAttributes(attribute.Bool("run.partial", true))
		if e.config.StrictMode {
			e.Logger.Error("Strict mode: failing due to partial results")
			span.SetStatus(codes.Error, ErrPartialResult.Error())
			return sum, ErrPartialResult
		}
		e.Logger.Warn("Ingestion finished with skipped or aborted units (StrictMode=false)")
	}
	return sum, nil
}

// compileRules compiles a source's rules once for all its accounts.
func (e *Engine) compileRules(p normalize.Provider, ds config.DataSource, sum *Summary) []source.CompiledRule {
	var rules []source.CompiledRule
	for _, r := range ds.SourceRules() {
		cr, err := source.Compile(r, e.matcher)
		if err != nil {
			e.Logger.Warn("Invalid rule, skipping", "provider", p, "rule", r.Name, "error", err)
			sum.skip(Skip{Provider: p, Rule: ruleName(r), Err: err})
			continue
		}
		// The matcher already logged these when it first compiled the pattern.
		for _, w := range cr.Warnings {
			sum.warn("%s", w)
		}
		rules = append(rules, cr)
	}
	return rules
}

// runUnit runs one adapter unit under its own span. A Fatal outcome aborts the rest of
// the account through abort.
func (e *Engine) runUnit(ctx, runCtx context.Context, sess source.Session, rule source.CompiledRule, abort context.CancelCauseFunc) (out source.Outcome) {
	acct := sess.Account()
	if ctx.Err() != nil {
		return aborted(sess.Provider(), acct.ID, rule.Name, ctx, ctx.Err())
	}

	ctx, span := e.Tracer.Start(ctx, "Unit", trace.WithAttributes(
		attribute.String("provider", string(sess.Provider())),
		attribute.String("account", acct.ID),
		attribute.String("rule", rule.Name),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err := fmt.Errorf("panic in unit: %v", r)
			span.RecordError(err, trace.WithStackTrace(true))
			span.SetAttributes(attribute.String("crash.stack", string(stack)))
			e.Logger.Error("CRITICAL FAILURE", "rule", rule.Name, "account", acct.ID, "error", r, "stack", string(stack))
			out = source.Outcome{Status: source.Fatal, Provider: sess.Provider(), Scope: acct.ID, Rule: rule.Name, Err: err}
		}
		if out.Status == source.Fatal {
			span.SetStatus(codes.Error, out.Err.Error())
			if runCtx.Err() == nil {
				abort(out.Err)
			}
		}
		e.metrics.RecordUnit(ctx, string(out.Provider), out.Status.String(), out.Result.Inserted)
	}()

	out = e.adapter.Run(ctx, sess, rule)
	// A sibling's failure cancelled this unit; report it as aborted, not as a failure.
	if out.Status == source.Fatal && out.Cancelled() && runCtx.Err() == nil && context.Cause(ctx) != nil {
		return aborted(out.Provider, out.Scope, out.Rule, ctx, out.Err)
	}
	span.SetAttributes(
		attribute.String("outcome", out.Status.String()),
		attribute.Int("events.matched", out.Matched),
		attribute.Int("events.new", out.Result.Inserted),
	)
	if out.Status == source.Skipped && out.Err != nil {
		span.RecordError(out.Err)
	}
	return out
}

// aborted is the outcome of a unit that never ran because its account was aborted or
// the run was cancelled.
func aborted(p normalize.Provider, scope, rule string, ctx context.Context, err error) source.Outcome {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = fmt.Errorf("account aborted: %w", cause)
	}
	return source.Outcome{Status: source.Skipped, Provider: p, Scope: scope, Rule: rule, Err: err}
}

func (e *Engine) notify(out source.Outcome) {
	for _, f := range e.observers {
		f(out)
	}
}

type throttleClassifier interface {
	IsThrottle(err error) bool
}

func (e *Engine) isThrottle(err error) bool {
	for _, c := range e.connectors {
		if tc, ok := c.(throttleClassifier); ok && tc.IsThrottle(err) {
			return true
		}
	}
	return false
}

// recoverPanic handles failures.
func (e *Engine) recoverPanic(ctx context.Context, err *error) {
	if r := recover(); r != nil {
		_, span := e.Tracer.Start(ctx, "CriticalPanic")

		stack := debug.Stack()
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
		*err = fmt.Errorf("engine panic: %v", r)
	}
}

func ruleName(r source.Rule) string {
	if r.Name == "" {
		return source.DefaultRuleName
	}
	return r.Name
}
