// Package apex is the Orchestration Facade (spec §4.11): the root
// entry point wiring the Expression Evaluator, Configuration Loader,
// Lookup Dataset Provider, Enrichment Engine, Rule Group Executor, and
// Rule Chain Executor behind three operations (evaluate-facts,
// run-scenario, run-chain). Construction follows the teacher's
// functional-options engine constructor (engine.NewChainEngine(def,
// opts...)), adapted to build from an already-loaded Registry rather
// than a single rule-chain definition blob.
package apex

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apex-rules/apex/chain"
	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/corelog"
	"github.com/apex-rules/apex/enrichment"
	"github.com/apex-rules/apex/evaluator"
	"github.com/apex-rules/apex/lookup"
	"github.com/apex-rules/apex/model"
	"github.com/apex-rules/apex/monitor"
	"github.com/apex-rules/apex/recovery"
	"github.com/apex-rules/apex/rulegroup"
)

// DataTypeField is the default fact field scenario dispatch inspects,
// per spec §6.3 ("an optional data-type field, configurable name").
const DataTypeField = "type"

// Engine is the facade spec §4.11 describes.
type Engine struct {
	registry  *model.Registry
	clock     apexclock.Clock
	eval      *evaluator.Evaluator
	provider  *lookup.Provider
	recoverer *recovery.Recoverer
	monitor   *monitor.Monitor
	logger    corelog.Logger

	enrich *enrichment.Engine
	groups *rulegroup.Executor
	chains *chain.Executor

	dataTypeField    string
	defaultRuleSet   []string // group or rule ids evaluated by evaluate-facts
	defaultDeadline  time.Duration
	recoveryStrategy recovery.Strategy
	metricsRegistry  prometheus.Registerer
	pendingAdapters  []namedAdapter
	pendingSinks     []namedSink
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the default wall clock, for deterministic tests.
func WithClock(clk apexclock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithRecoveryStrategy selects the Error Recovery strategy (spec §4.9).
// Defaults to CONTINUE_WITH_DEFAULT.
func WithRecoveryStrategy(strategy recovery.Strategy) Option {
	return func(e *Engine) { e.recoveryStrategy = strategy }
}

// WithDataSourceAdapter registers a DataSourceAdapter under name for
// data-source-backed lookups (spec §4.5/§6.2).
func WithDataSourceAdapter(name string, adapter model.DataSourceAdapter) Option {
	return func(e *Engine) { e.pendingAdapters = append(e.pendingAdapters, namedAdapter{name, adapter}) }
}

// WithDataTypeField overrides which fact field scenario dispatch reads
// (spec §6.3: "configurable name").
func WithDataTypeField(field string) Option {
	return func(e *Engine) { e.dataTypeField = field }
}

// WithDefaultRuleSet names the rule/group ids evaluate-facts runs
// against (spec §4.11: "against a configured default rule set").
func WithDefaultRuleSet(ids ...string) Option {
	return func(e *Engine) { e.defaultRuleSet = ids }
}

// WithDefaultDeadline bounds every entry point call that does not
// already carry a context deadline (spec §5: "every entry point accepts
// a deadline").
func WithDefaultDeadline(d time.Duration) Option {
	return func(e *Engine) { e.defaultDeadline = d }
}

// WithLogger overrides the default stderr-backed Logger.
func WithLogger(l corelog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetricsRegistry registers the Performance Monitor's prometheus
// collectors against reg instead of a private registry.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metricsRegistry = reg }
}

// WithAuditSink registers an AuditSink under name on the Enrichment
// Engine, for audit enrichments applied by run-scenario (spec §6.4).
func WithAuditSink(name string, sink model.AuditSink) Option {
	return func(e *Engine) { e.pendingSinks = append(e.pendingSinks, namedSink{name, sink}) }
}

type namedAdapter struct {
	name    string
	adapter model.DataSourceAdapter
}

type namedSink struct {
	name string
	sink model.AuditSink
}

// NewEngine builds an Engine over reg, applying opts. The evaluator,
// lookup provider, enrichment engine, rule-group executor, and chain
// executor are all constructed here so callers get one ready-to-use
// facade (spec §4.11).
func NewEngine(reg *model.Registry, opts ...Option) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("apex: NewEngine requires a non-nil registry")
	}

	e := &Engine{
		registry:         reg,
		clock:            apexclock.Real{},
		dataTypeField:    DataTypeField,
		logger:           corelog.Default(),
		recoveryStrategy: recovery.ContinueWithDefault,
		metricsRegistry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.eval = evaluator.New(e.clock)
	e.provider = lookup.NewProvider(e.clock)
	for _, na := range e.pendingAdapters {
		e.provider.RegisterAdapter(na.name, na.adapter)
	}
	e.recoverer = recovery.New(e.recoveryStrategy, e.eval)
	e.enrich = enrichment.New(e.eval, e.provider, e.recoverer, e.logger)
	for _, ns := range e.pendingSinks {
		e.enrich.RegisterSink(ns.name, ns.sink)
	}
	e.groups = rulegroup.New(e.eval, e.recoverer, reg)
	e.chains = chain.New(e.eval, e.groups)
	e.monitor = monitor.New(e.clock, e.metricsRegistry)

	return e, nil
}

// Monitor exposes the Performance Monitor for callers that want a
// Snapshot between evaluation calls.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// deadlineFor returns ctx unmodified if it already carries a deadline,
// otherwise applies the engine's default (spec §5).
func (e *Engine) deadlineFor(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || e.defaultDeadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.defaultDeadline)
}
