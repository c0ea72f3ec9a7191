package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-systems/vigil/internal/registry"
	"github.com/vigil-systems/vigil/internal/rules"
)

func mustExpr(t *testing.T, s string) *rules.Expr {
	t.Helper()
	e, err := rules.ParseExpr(s)
	require.NoError(t, err)
	return e
}

func TestBucketQuantile_WorkedExample(t *testing.T) {
	// Bounds [0.1 0.5 1 2 5] with cumulative counts [10 40 70 90 100]:
	// rank(0.5) = 50, crossed in the 0.5-1 bucket, fraction (50-40)/30.
	buckets := []registry.BucketCount{
		{UpperBound: 0.1, Count: 10},
		{UpperBound: 0.5, Count: 40},
		{UpperBound: 1, Count: 70},
		{UpperBound: 2, Count: 90},
		{UpperBound: 5, Count: 100},
	}

	v := bucketQuantile(0.5, buckets, 100)
	assert.InDelta(t, 0.5+(1.0/3.0)*0.5, v, 1e-9)
	assert.Greater(t, v, 0.5)
	assert.Less(t, v, 1.0)
}

func TestBucketQuantile_Edges(t *testing.T) {
	buckets := []registry.BucketCount{
		{UpperBound: 1, Count: 5},
		{UpperBound: 2, Count: 10},
	}

	// Rank falls in the first bucket: interpolate from lower bound 0.
	assert.InDelta(t, 0.4, bucketQuantile(0.2, buckets, 10), 1e-9)

	// All mass above the highest bound collapses to the highest bound.
	overflow := []registry.BucketCount{{UpperBound: 1, Count: 0}, {UpperBound: 2, Count: 0}}
	assert.Equal(t, 2.0, bucketQuantile(0.9, overflow, 50))
}

func TestEvalExpr_ValueGauge(t *testing.T) {
	reg := registry.New()
	f, err := reg.Register("queue_depth", registry.KindGauge, "queue")
	require.NoError(t, err)
	g1, _ := f.Gauge("a")
	g2, _ := f.Gauge("b")
	g1.Set(600)
	g2.Set(500)

	idx := indexSnapshot(reg.Snapshot())
	hist := newHistory(2)
	now := time.Now()

	res := evalExpr(mustExpr(t, `value(queue_depth) >= 1000`), idx, hist, now)
	require.NoError(t, res.err)
	assert.True(t, res.condTrue, "matched instances are summed")
	assert.Equal(t, 1100.0, res.value)

	res = evalExpr(mustExpr(t, `value(queue_depth{queue="b"}) >= 1000`), idx, hist, now)
	require.NoError(t, res.err)
	assert.False(t, res.condTrue)
	assert.Equal(t, 500.0, res.value)
}

func TestEvalExpr_NoMatchIsConditionFalse(t *testing.T) {
	idx := indexSnapshot(nil)
	res := evalExpr(mustExpr(t, `value(never_registered) > 0`), idx, newHistory(2), time.Now())
	assert.NoError(t, res.err)
	assert.False(t, res.condTrue)
}

func TestEvalExpr_KindMismatch(t *testing.T) {
	reg := registry.New()
	hf, err := reg.RegisterHistogram("latency_seconds", []float64{1, 2})
	require.NoError(t, err)
	h, _ := hf.Histogram()
	h.Observe(1.5)

	gf, err := reg.Register("load", registry.KindGauge)
	require.NoError(t, err)
	g, _ := gf.Gauge()
	g.Set(1)

	idx := indexSnapshot(reg.Snapshot())
	hist := newHistory(2)
	now := time.Now()

	res := evalExpr(mustExpr(t, `value(latency_seconds) > 1`), idx, hist, now)
	assert.ErrorIs(t, res.err, rules.ErrInvalidExpression)

	res = evalExpr(mustExpr(t, `quantile(load, 0.5) > 1`), idx, hist, now)
	assert.ErrorIs(t, res.err, rules.ErrInvalidExpression)

	res = evalExpr(mustExpr(t, `rate(load, 1m) > 1`), idx, hist, now)
	assert.ErrorIs(t, res.err, rules.ErrInvalidExpression)
}

func TestEvalExpr_RateUsesHistory(t *testing.T) {
	reg := registry.New()
	f, err := reg.Register("requests_total", registry.KindCounter)
	require.NoError(t, err)
	c, _ := f.Counter()
	_ = c.Add(120)

	idx := indexSnapshot(reg.Snapshot())
	hist := newHistory(4)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hist.observe("requests_total", base, 0)
	hist.observe("requests_total", base.Add(time.Minute), 120)

	res := evalExpr(mustExpr(t, `rate(requests_total, 1m) > 1`), idx, hist, base.Add(time.Minute))
	require.NoError(t, res.err)
	assert.True(t, res.condTrue)
	assert.InDelta(t, 2.0, res.value, 1e-9)
}

func TestEvalExpr_RateInsufficientHistoryIsFalse(t *testing.T) {
	reg := registry.New()
	f, err := reg.Register("requests_total", registry.KindCounter)
	require.NoError(t, err)
	c, _ := f.Counter()
	c.Inc()

	idx := indexSnapshot(reg.Snapshot())
	res := evalExpr(mustExpr(t, `rate(requests_total, 5m) > 0`), idx, newHistory(4), time.Now())
	assert.NoError(t, res.err, "insufficient history is not an evaluation failure")
	assert.False(t, res.condTrue)
}

func TestEvalExpr_QuantileMergesInstances(t *testing.T) {
	reg := registry.New()
	f, err := reg.RegisterHistogram("latency_seconds", []float64{0.1, 0.5, 1, 2, 5}, "handler")
	require.NoError(t, err)

	// Split the worked-example distribution across two instances.
	h1, _ := f.Histogram("a")
	h2, _ := f.Histogram("b")
	fill := func(h *registry.Histogram, upTo01, upTo05, upTo1, upTo2, upTo5 int) {
		for i := 0; i < upTo01; i++ {
			h.Observe(0.05)
		}
		for i := 0; i < upTo05; i++ {
			h.Observe(0.3)
		}
		for i := 0; i < upTo1; i++ {
			h.Observe(0.7)
		}
		for i := 0; i < upTo2; i++ {
			h.Observe(1.5)
		}
		for i := 0; i < upTo5; i++ {
			h.Observe(3)
		}
	}
	fill(h1, 10, 20, 10, 10, 5)
	fill(h2, 0, 10, 20, 10, 5)
	// Combined cumulative counts: [10 40 70 90 100].

	idx := indexSnapshot(reg.Snapshot())
	res := evalExpr(mustExpr(t, `quantile(latency_seconds, 0.5) > 0.6`), idx, newHistory(2), time.Now())
	require.NoError(t, res.err)
	assert.InDelta(t, 0.6667, res.value, 1e-3)
	assert.True(t, res.condTrue)
}
