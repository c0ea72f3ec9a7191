// Package registry implements the process-wide store of named, labeled
// statistics: counters, gauges and histograms. A Registry is an explicitly
// owned object; callers inject it rather than reaching for a global, which
// keeps tests isolated on per-test instances.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Registry misuse errors. These indicate programming errors at the call site
// and never corrupt shared state.
var (
	ErrDuplicateFamily  = errors.New("metric family already registered with a different shape")
	ErrLabelCardinality = errors.New("label value count does not match declared label names")
	ErrNegativeDelta    = errors.New("counter delta must be non-negative")
	ErrInvalidName      = errors.New("invalid metric name")
	ErrInvalidBuckets   = errors.New("histogram buckets must be non-empty and strictly ascending")
	ErrKindMismatch     = errors.New("metric family has a different kind")
)

// Kind identifies one of the three statistic kinds.
type Kind string

// Statistic kinds.
const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// Registry is a concurrency-safe store of metric families. Instances are
// never removed once created; their lifetime is the process lifetime.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*Family
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*Family)}
}

// Register declares a counter or gauge family. Registering the same name
// again with an identical shape returns the existing family; a different
// kind or label set fails with ErrDuplicateFamily.
func (r *Registry) Register(name string, kind Kind, labelNames ...string) (*Family, error) {
	if kind != KindCounter && kind != KindGauge {
		return nil, fmt.Errorf("registering %q: kind %q requires RegisterHistogram or is unknown", name, kind)
	}
	return r.register(name, kind, nil, labelNames)
}

// RegisterHistogram declares a histogram family with the given bucket upper
// bounds. Bounds must be strictly ascending and are immutable after creation.
func (r *Registry) RegisterHistogram(name string, buckets []float64, labelNames ...string) (*Family, error) {
	if len(buckets) == 0 {
		return nil, fmt.Errorf("registering %q: %w", name, ErrInvalidBuckets)
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i] <= buckets[i-1] {
			return nil, fmt.Errorf("registering %q: %w", name, ErrInvalidBuckets)
		}
	}
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	return r.register(name, KindHistogram, bounds, labelNames)
}

func (r *Registry) register(name string, kind Kind, buckets []float64, labelNames []string) (*Family, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.families[name]; ok {
		if existing.kind != kind || !sameStrings(existing.labelNames, labelNames) || !sameFloats(existing.buckets, buckets) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFamily, name)
		}
		return existing, nil
	}

	names := make([]string, len(labelNames))
	copy(names, labelNames)
	f := &Family{
		name:       name,
		kind:       kind,
		labelNames: names,
		buckets:    buckets,
		children:   make(map[uint64][]*child),
	}
	r.families[name] = f
	return f, nil
}

// Family returns the registered family with the given name, if any.
func (r *Registry) Family(name string) (*Family, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[name]
	return f, ok
}

// Family is a declared metric family: a name, a kind and a fixed set of
// label names. Instances are created on first use per label-value tuple.
type Family struct {
	name       string
	kind       Kind
	labelNames []string
	buckets    []float64 // histogram only

	mu       sync.RWMutex
	children map[uint64][]*child // keyed by label-value hash, chained on collision
}

// child pairs one label-value tuple with its metric instance.
type child struct {
	labelValues []string
	metric      any // *Counter, *Gauge or *Histogram
}

// Name returns the family's metric name.
func (f *Family) Name() string { return f.name }

// Kind returns the family's statistic kind.
func (f *Family) Kind() Kind { return f.kind }

// Counter returns the counter instance for the given label values, creating
// it on first use.
func (f *Family) Counter(labelValues ...string) (*Counter, error) {
	m, err := f.getOrCreate(KindCounter, labelValues)
	if err != nil {
		return nil, err
	}
	return m.(*Counter), nil
}

// Gauge returns the gauge instance for the given label values, creating it
// on first use.
func (f *Family) Gauge(labelValues ...string) (*Gauge, error) {
	m, err := f.getOrCreate(KindGauge, labelValues)
	if err != nil {
		return nil, err
	}
	return m.(*Gauge), nil
}

// Histogram returns the histogram instance for the given label values,
// creating it on first use.
func (f *Family) Histogram(labelValues ...string) (*Histogram, error) {
	m, err := f.getOrCreate(KindHistogram, labelValues)
	if err != nil {
		return nil, err
	}
	return m.(*Histogram), nil
}

func (f *Family) getOrCreate(kind Kind, labelValues []string) (any, error) {
	if f.kind != kind {
		return nil, fmt.Errorf("%w: %q is a %s", ErrKindMismatch, f.name, f.kind)
	}
	if len(labelValues) != len(f.labelNames) {
		return nil, fmt.Errorf("%w: %q wants %d labels, got %d",
			ErrLabelCardinality, f.name, len(f.labelNames), len(labelValues))
	}

	h := hashLabelValues(labelValues)

	f.mu.RLock()
	if c := findChild(f.children[h], labelValues); c != nil {
		f.mu.RUnlock()
		return c.metric, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if c := findChild(f.children[h], labelValues); c != nil {
		return c.metric, nil
	}

	values := make([]string, len(labelValues))
	copy(values, labelValues)
	c := &child{labelValues: values}
	switch kind {
	case KindCounter:
		c.metric = &Counter{}
	case KindGauge:
		c.metric = &Gauge{}
	case KindHistogram:
		c.metric = newHistogram(f.buckets)
	}
	f.children[h] = append(f.children[h], c)
	return c.metric, nil
}

func findChild(chain []*child, labelValues []string) *child {
	for _, c := range chain {
		if sameStrings(c.labelValues, labelValues) {
			return c
		}
	}
	return nil
}

// hashLabelValues computes the instance identity hash. Label names are fixed
// per family, so hashing the value tuple in declaration order is equivalent
// to order-insensitive label-set identity.
func hashLabelValues(values []string) uint64 {
	d := xxhash.New()
	for _, v := range values {
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{0xff})
	}
	return d.Sum64()
}

// labelMap builds the label name/value map for a child, with the family's
// declared names.
func (f *Family) labelMap(values []string) map[string]string {
	if len(f.labelNames) == 0 {
		return nil
	}
	m := make(map[string]string, len(f.labelNames))
	for i, n := range f.labelNames {
		m[n] = values[i]
	}
	return m
}

// labelSignature renders a canonical sorted key=value signature used for
// deterministic snapshot ordering.
func labelSignature(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sig := ""
	for _, k := range keys {
		sig += k + "\xff" + labels[k] + "\xff"
	}
	return sig
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
