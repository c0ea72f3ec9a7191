package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrInsufficientHistory means fewer than two counter samples exist inside a
// rate() window. It is an expected transient condition right after startup
// or a reload; the engine treats it as condition-false, never as a failure.
var ErrInsufficientHistory = errors.New("insufficient history for rate window")

// histSample is one observed counter value at one tick.
type histSample struct {
	t time.Time
	v float64
}

// series is a fixed-capacity circular buffer of counter samples for one
// selector. Capacity covers the largest configured rate window, so memory
// stays bounded no matter how long the engine runs.
type series struct {
	buf  []histSample
	head int // index of the oldest sample
	n    int
}

func newSeries(capacity int) *series {
	if capacity < 2 {
		capacity = 2
	}
	return &series{buf: make([]histSample, capacity)}
}

func (s *series) add(t time.Time, v float64) {
	if s.n < len(s.buf) {
		s.buf[(s.head+s.n)%len(s.buf)] = histSample{t: t, v: v}
		s.n++
		return
	}
	s.buf[s.head] = histSample{t: t, v: v}
	s.head = (s.head + 1) % len(s.buf)
}

// at returns the i-th sample, oldest first.
func (s *series) at(i int) histSample {
	return s.buf[(s.head+i)%len(s.buf)]
}

// rate computes the per-second average increase over the window ending at
// now: (latest - earliest in-window sample) / window seconds.
func (s *series) rate(now time.Time, window time.Duration) (float64, error) {
	cutoff := now.Add(-window)

	first := -1
	for i := 0; i < s.n; i++ {
		if !s.at(i).t.Before(cutoff) {
			first = i
			break
		}
	}
	if first < 0 || s.n-first < 2 {
		return 0, ErrInsufficientHistory
	}

	earliest := s.at(first)
	latest := s.at(s.n - 1)
	return (latest.v - earliest.v) / window.Seconds(), nil
}

// history holds one series per rate selector, keyed by Selector.Key. Its own
// mutex keeps reads from evaluation goroutines (including ones abandoned on
// timeout) safe against the next tick's writes.
type history struct {
	mu       sync.Mutex
	capacity int
	series   map[string]*series
}

func newHistory(capacity int) *history {
	return &history{capacity: capacity, series: make(map[string]*series)}
}

func (h *history) observe(key string, t time.Time, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[key]
	if !ok {
		s = newSeries(h.capacity)
		h.series[key] = s
	}
	s.add(t, v)
}

func (h *history) rate(key string, now time.Time, window time.Duration) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.series[key]
	if !ok {
		return 0, ErrInsufficientHistory
	}
	return s.rate(now, window)
}

// resize rebuilds the history with a new per-series capacity, keeping the
// most recent samples of every live series. Called on rule reload when the
// largest window changes.
func (h *history) resize(capacity int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if capacity < 2 {
		capacity = 2
	}
	if capacity == h.capacity {
		return
	}
	rebuilt := make(map[string]*series, len(h.series))
	for key, old := range h.series {
		s := newSeries(capacity)
		start := 0
		if old.n > capacity {
			start = old.n - capacity
		}
		for i := start; i < old.n; i++ {
			sm := old.at(i)
			s.add(sm.t, sm.v)
		}
		rebuilt[key] = s
	}
	h.capacity = capacity
	h.series = rebuilt
}

// drop removes series no longer referenced by any loaded rule.
func (h *history) drop(live map[string]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range h.series {
		if !live[key] {
			delete(h.series, key)
		}
	}
}
