package engine

import (
	"fmt"
	"time"

	"github.com/vigil-systems/vigil/internal/registry"
	"github.com/vigil-systems/vigil/internal/rules"
)

// snapshotIndex gives expression evaluation O(1) access to a snapshot's
// samples by metric name.
type snapshotIndex struct {
	byName map[string][]registry.Sample
}

func indexSnapshot(samples []registry.Sample) *snapshotIndex {
	idx := &snapshotIndex{byName: make(map[string][]registry.Sample)}
	for _, s := range samples {
		idx.byName[s.Name] = append(idx.byName[s.Name], s)
	}
	return idx
}

// matching returns the snapshot samples selected by sel, in snapshot order.
func (idx *snapshotIndex) matching(sel rules.Selector) []registry.Sample {
	var out []registry.Sample
	for _, s := range idx.byName[sel.Metric] {
		if sel.Matches(s.Labels) {
			out = append(out, s)
		}
	}
	return out
}

// evalResult is the outcome of evaluating one rule's expression.
type evalResult struct {
	condTrue bool
	value    float64
	err      error
}

// evalExpr evaluates a threshold expression against the indexed snapshot and
// the rolling counter history. A selector matching nothing evaluates as
// condition-false with no error, as does ErrInsufficientHistory for rate().
func evalExpr(expr *rules.Expr, idx *snapshotIndex, hist *history, now time.Time) evalResult {
	matched := idx.matching(expr.Selector)

	switch expr.Fn {
	case rules.FuncRate:
		if len(matched) > 0 && matched[0].Kind != registry.KindCounter {
			return evalResult{err: fmt.Errorf("%w: rate() target %q is a %s, not a counter",
				rules.ErrInvalidExpression, expr.Selector.Metric, matched[0].Kind)}
		}
		v, err := hist.rate(expr.Selector.Key(), now, expr.Window)
		if err != nil {
			// Expected right after startup or reload; condition-false.
			return evalResult{}
		}
		return evalResult{condTrue: expr.Op.Compare(v, expr.Threshold), value: v}

	case rules.FuncValue:
		if len(matched) == 0 {
			return evalResult{}
		}
		var sum float64
		for _, s := range matched {
			if s.Kind == registry.KindHistogram {
				return evalResult{err: fmt.Errorf("%w: value() target %q is a histogram; use quantile()",
					rules.ErrInvalidExpression, expr.Selector.Metric)}
			}
			sum += s.Value
		}
		return evalResult{condTrue: expr.Op.Compare(sum, expr.Threshold), value: sum}

	case rules.FuncQuantile:
		if len(matched) == 0 {
			return evalResult{}
		}
		merged, total, err := mergeHistograms(expr.Selector.Metric, matched)
		if err != nil {
			return evalResult{err: err}
		}
		if total == 0 {
			return evalResult{}
		}
		v := bucketQuantile(expr.Quantile, merged, total)
		return evalResult{condTrue: expr.Op.Compare(v, expr.Threshold), value: v}
	}

	return evalResult{err: fmt.Errorf("%w: unknown function %q", rules.ErrInvalidExpression, expr.Fn)}
}

// mergeHistograms sums cumulative bucket counts across the matched instances
// of one histogram family. Instances of a family always share bounds.
func mergeHistograms(metric string, matched []registry.Sample) ([]registry.BucketCount, uint64, error) {
	var merged []registry.BucketCount
	var total uint64
	for _, s := range matched {
		if s.Kind != registry.KindHistogram {
			return nil, 0, fmt.Errorf("%w: quantile() target %q is a %s, not a histogram",
				rules.ErrInvalidExpression, metric, s.Kind)
		}
		if merged == nil {
			merged = make([]registry.BucketCount, len(s.Buckets))
			copy(merged, s.Buckets)
		} else {
			for i := range merged {
				merged[i].Count += s.Buckets[i].Count
			}
		}
		total += s.Count
	}
	return merged, total, nil
}

// bucketQuantile estimates the q-quantile from cumulative bucket counts by
// linear interpolation: locate the bucket where the cumulative count crosses
// q*total, then interpolate between the bucket's lower and upper bound
// proportionally to the fractional position within its count increment.
// Observations above the highest bound collapse to the highest bound.
func bucketQuantile(q float64, buckets []registry.BucketCount, total uint64) float64 {
	rank := q * float64(total)

	var prevCum uint64
	var lower float64
	for _, b := range buckets {
		if float64(b.Count) >= rank {
			inBucket := b.Count - prevCum
			if inBucket == 0 {
				return b.UpperBound
			}
			fraction := (rank - float64(prevCum)) / float64(inBucket)
			return lower + fraction*(b.UpperBound-lower)
		}
		prevCum = b.Count
		lower = b.UpperBound
	}
	return buckets[len(buckets)-1].UpperBound
}
