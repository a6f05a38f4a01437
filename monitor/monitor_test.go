package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	apexclock "github.com/apex-rules/apex/clock"
	"github.com/apex-rules/apex/model"
)

func TestRecordRuleAggregatesCountsAndDuration(t *testing.T) {
	clk := apexclock.NewFixed(time.Unix(0, 0))
	m := New(clk, prometheus.NewRegistry())

	m.RecordRule("r1", model.RuleResult{RuleID: "r1", Triggered: true, Duration: 10 * time.Millisecond})
	m.RecordRule("r1", model.RuleResult{RuleID: "r1", Triggered: false, Duration: 20 * time.Millisecond})
	m.RecordRule("r1", model.RuleResult{RuleID: "r1", Error: &model.ExpressionError{Kind: model.NullDereference}, Duration: 5 * time.Millisecond})

	snap := m.Snapshot(nil, nil)
	assert.Len(t, snap.Rules, 1)
	rs := snap.Rules[0]
	assert.Equal(t, "r1", rs.RuleID)
	assert.Equal(t, int64(3), rs.Count)
	assert.Equal(t, int64(1), rs.Triggered)
	assert.Equal(t, int64(1), rs.Failed)
	assert.Equal(t, 5*time.Millisecond, rs.MinDuration)
	assert.Equal(t, 20*time.Millisecond, rs.MaxDuration)
	assert.Equal(t, model.NullDereference, rs.LastErrKind)
}

func TestSnapshotComputesThroughput(t *testing.T) {
	clk := apexclock.NewAdvancing(time.Unix(0, 0))
	m := New(clk, prometheus.NewRegistry())
	m.RecordRule("r1", model.RuleResult{RuleID: "r1", Triggered: true, Duration: time.Millisecond})

	clk.Advance(2 * time.Second)

	snap := m.Snapshot(nil, nil)
	assert.InDelta(t, 0.5, snap.ThroughputPerSecond, 0.01)
}

func TestBeginEvaluationTracksConcurrency(t *testing.T) {
	clk := apexclock.NewFixed(time.Unix(0, 0))
	m := New(clk, prometheus.NewRegistry())

	done1 := m.BeginEvaluation()
	done2 := m.BeginEvaluation()
	snap := m.Snapshot(nil, nil)
	assert.Equal(t, int64(2), snap.ConcurrentEvals)

	done1()
	done2()
	snap = m.Snapshot(nil, nil)
	assert.Equal(t, int64(0), snap.ConcurrentEvals)
}

type fakeCacheStatter struct {
	hits, misses int64
}

func (f fakeCacheStatter) CacheStats(spec *model.LookupSpec) (int64, int64) {
	return f.hits, f.misses
}

func TestSnapshotAggregatesCacheStats(t *testing.T) {
	clk := apexclock.NewFixed(time.Unix(0, 0))
	m := New(clk, prometheus.NewRegistry())

	spec := &model.LookupSpec{DatasetKind: model.DatasetInline}
	snap := m.Snapshot(fakeCacheStatter{hits: 4, misses: 1}, []*model.LookupSpec{spec})
	assert.Equal(t, int64(4), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
}

func TestPercentileNearestRank(t *testing.T) {
	samples := []int64{10, 20, 30, 40, 50}
	assert.Equal(t, int64(50), percentile(samples, 0.95))
	assert.Equal(t, int64(10), percentile(samples, 0))
}

func TestPercentileEmptySamplesReturnsZero(t *testing.T) {
	assert.Equal(t, int64(0), percentile(nil, 0.95))
}
