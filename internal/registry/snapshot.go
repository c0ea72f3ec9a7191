package registry

import "sort"

// BucketCount is one cumulative histogram bucket in a snapshot.
type BucketCount struct {
	UpperBound float64
	Count      uint64
}

// Sample is the point-in-time state of one statistic instance. For counters
// and gauges only Value is set; for histograms Buckets, Sum and Count are set.
type Sample struct {
	Name   string
	Labels map[string]string
	Kind   Kind

	Value float64

	Buckets []BucketCount
	Sum     float64
	Count   uint64
}

// Snapshot returns a point-in-time read of every instance in deterministic
// order (metric name, then canonical label signature). Each instance is read
// under its own critical section; cross-instance consistency is not promised,
// so concurrent updates may land in some instances and not others.
func (r *Registry) Snapshot() []Sample {
	r.mu.RLock()
	families := make([]*Family, 0, len(r.families))
	for _, f := range r.families {
		families = append(families, f)
	}
	r.mu.RUnlock()

	var samples []Sample
	for _, f := range families {
		samples = append(samples, f.collect()...)
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return labelSignature(samples[i].Labels) < labelSignature(samples[j].Labels)
	})
	return samples
}

func (f *Family) collect() []Sample {
	f.mu.RLock()
	children := make([]*child, 0, len(f.children))
	for _, chain := range f.children {
		children = append(children, chain...)
	}
	f.mu.RUnlock()

	samples := make([]Sample, 0, len(children))
	for _, c := range children {
		s := Sample{
			Name:   f.name,
			Labels: f.labelMap(c.labelValues),
			Kind:   f.kind,
		}
		switch m := c.metric.(type) {
		case *Counter:
			s.Value = m.Value()
		case *Gauge:
			s.Value = m.Value()
		case *Histogram:
			counts, sum, count := m.read()
			buckets := make([]BucketCount, len(counts))
			for i, n := range counts {
				buckets[i] = BucketCount{UpperBound: f.buckets[i], Count: n}
			}
			s.Buckets = buckets
			s.Sum = sum
			s.Count = count
		}
		samples = append(samples, s)
	}
	return samples
}
