// Package monitor implements the Performance Monitor (spec §4.10):
// per-rule latency/outcome counters, engine-level throughput and cache
// hit/miss ratios, and an immutable snapshot API. Per-rule counters and
// latency histograms and the concurrent-evaluation gauge are registered
// with prometheus/client_golang exactly as the teacher's
// engine/metrics.go registers its HTTP vectors, so those numbers are
// also scrapeable; throughput and cache hit/miss totals are computed
// only in Snapshot and have no prometheus collector. The
// percentile set a Snapshot needs (p95 of individual rule latencies) is
// not queryable back out of a prometheus.Histogram, so it is tracked
// separately in a bounded per-rule sample window.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

// maxSamples bounds the per-rule latency window used for percentile
// computation, so long-running processes don't grow this unboundedly.
const maxSamples = 512

type ruleStats struct {
	count        int64
	triggered    int64
	failed       int64
	totalNanos   int64
	minNanos     int64
	maxNanos     int64
	lastErrKind  model.ExpressionErrorKind
	samples      []int64 // ring buffer of recent durations, nanoseconds
	samplesNext  int
}

// Monitor tracks evaluation performance. Safe for concurrent use.
type Monitor struct {
	clock apexclock.Clock

	mu    sync.Mutex
	rules map[string]*ruleStats

	windowStart time.Time
	windowCount int64
	concurrent  int64

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	concurrentGauge prometheus.Gauge
}

// New builds a Monitor bound to clk and registers its prometheus
// collectors against reg (pass prometheus.DefaultRegisterer in
// production; a fresh prometheus.NewRegistry() in tests to avoid
// cross-test collisions).
func New(clk apexclock.Clock, reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		clock: clk,
		rules: make(map[string]*ruleStats),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apex",
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Total rule evaluations, by rule id and outcome.",
		}, []string{"rule_id", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apex",
			Subsystem: "rules",
			Name:      "evaluation_duration_seconds",
			Help:      "Rule evaluation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule_id"}),
		concurrentGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apex",
			Subsystem: "engine",
			Name:      "concurrent_evaluations",
			Help:      "Evaluations currently in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.requestDuration, m.concurrentGauge)
	}
	m.windowStart = clk.Now()
	return m
}

// BeginEvaluation marks one evaluation as started, for the concurrent-
// evaluation gauge; the returned func must be called when it completes.
func (m *Monitor) BeginEvaluation() func() {
	m.mu.Lock()
	m.concurrent++
	m.concurrentGauge.Set(float64(m.concurrent))
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.concurrent--
		m.concurrentGauge.Set(float64(m.concurrent))
		m.mu.Unlock()
	}
}

// RecordRule records one rule's outcome and latency.
func (m *Monitor) RecordRule(ruleID string, result model.RuleResult) {
	outcome := "untriggered"
	if result.Error != nil {
		outcome = "error"
	} else if result.Triggered {
		outcome = "triggered"
	}
	m.requestsTotal.WithLabelValues(ruleID, outcome).Inc()
	m.requestDuration.WithLabelValues(ruleID).Observe(result.Duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowCount++
	s := m.rules[ruleID]
	if s == nil {
		s = &ruleStats{minNanos: -1}
		m.rules[ruleID] = s
	}
	nanos := result.Duration.Nanoseconds()
	s.count++
	s.totalNanos += nanos
	if s.minNanos < 0 || nanos < s.minNanos {
		s.minNanos = nanos
	}
	if nanos > s.maxNanos {
		s.maxNanos = nanos
	}
	if result.Error != nil {
		s.failed++
		if exprErr, ok := result.Error.(*model.ExpressionError); ok {
			s.lastErrKind = exprErr.Kind
		}
	} else if result.Triggered {
		s.triggered++
	}
	if len(s.samples) < maxSamples {
		s.samples = append(s.samples, nanos)
	} else {
		s.samples[s.samplesNext] = nanos
		s.samplesNext = (s.samplesNext + 1) % maxSamples
	}
}

// RuleSnapshot is the immutable per-rule view spec §4.10 requires.
type RuleSnapshot struct {
	RuleID       string
	Count        int64
	Triggered    int64
	Failed       int64
	MinDuration  time.Duration
	MaxDuration  time.Duration
	MeanDuration time.Duration
	P95Duration  time.Duration
	LastErrKind  model.ExpressionErrorKind
}

// EngineSnapshot is the immutable engine-level view spec §4.10 requires.
type EngineSnapshot struct {
	ThroughputPerSecond float64
	ConcurrentEvals     int64
	Rules               []RuleSnapshot
	CacheHits           int64
	CacheMisses         int64
}

// CacheStatter is satisfied by lookup.Provider; kept narrow here so
// monitor does not import lookup (avoiding an import cycle risk as the
// two packages grow).
type CacheStatter interface {
	CacheStats(spec *model.LookupSpec) (hits, misses int64)
}

// Snapshot returns an immutable view of current engine performance.
// specs, if non-nil, are asked for cache hit/miss totals via cacher.
func (m *Monitor) Snapshot(cacher CacheStatter, specs []*model.LookupSpec) EngineSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := m.clock.Now().Sub(m.windowStart).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(m.windowCount) / elapsed
	}

	ids := make([]string, 0, len(m.rules))
	for id := range m.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := EngineSnapshot{ThroughputPerSecond: throughput, ConcurrentEvals: m.concurrent}
	for _, id := range ids {
		s := m.rules[id]
		mean := time.Duration(0)
		if s.count > 0 {
			mean = time.Duration(s.totalNanos / s.count)
		}
		out.Rules = append(out.Rules, RuleSnapshot{
			RuleID:       id,
			Count:        s.count,
			Triggered:    s.triggered,
			Failed:       s.failed,
			MinDuration:  time.Duration(maxInt64(s.minNanos, 0)),
			MaxDuration:  time.Duration(s.maxNanos),
			MeanDuration: mean,
			P95Duration:  time.Duration(percentile(s.samples, 0.95)),
			LastErrKind:  s.lastErrKind,
		})
	}

	if cacher != nil {
		for _, spec := range specs {
			hits, misses := cacher.CacheStats(spec)
			out.CacheHits += hits
			out.CacheMisses += misses
		}
	}
	return out
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// percentile computes the p-th percentile (0..1) over samples using
// nearest-rank interpolation. samples is copied before sorting so the
// caller's ring buffer ordering is undisturbed.
func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
