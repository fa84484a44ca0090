package perf

import (
	"context"
	"strings"
	"sync"
	"time"
)

type routeState struct {
	count   int64
	total   float64
	min     float64
	max     float64
	window  []Sample
	updated time.Time
}

// MemoryRecorder keeps statistics in process. Used when Redis is not configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	routes map[string]*routeState
	slow   []Sample
	now    func() time.Time
}

// NewMemoryRecorder constructs an empty recorder. clock may be nil.
func NewMemoryRecorder(clock func() time.Time) *MemoryRecorder {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRecorder{routes: make(map[string]*routeState), now: clock}
}

func memoryKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Record adds sample to the route's counters and window.
func (m *MemoryRecorder) Record(_ context.Context, sample Sample) error {
	sample = sample.normalise(m.now)
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(sample.Method, sample.Path)
	state, ok := m.routes[key]
	if !ok {
		state = &routeState{min: sample.DurationMS, max: sample.DurationMS}
		m.routes[key] = state
	}
	state.count++
	state.total += sample.DurationMS
	if sample.DurationMS > state.max {
		state.max = sample.DurationMS
	}
	if sample.DurationMS < state.min {
		state.min = sample.DurationMS
	}
	state.window = append(pruneWindow(state.window, sample.Timestamp.Add(-Window)), sample)
	if sample.Timestamp.After(state.updated) {
		state.updated = sample.Timestamp
	}
	return nil
}

// RecordSlow prepends sample to the capped slow log.
func (m *MemoryRecorder) RecordSlow(_ context.Context, sample Sample) error {
	sample = sample.normalise(m.now)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slow = append([]Sample{sample}, m.slow...)
	if len(m.slow) > MaxSlowRequests {
		m.slow = m.slow[:MaxSlowRequests]
	}
	return nil
}

// RouteStats summarises one route.
func (m *MemoryRecorder) RouteStats(_ context.Context, method, path string) (*RouteStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.routes[memoryKey(method, path)]
	if !ok || state.count == 0 {
		return nil, ErrNoStats
	}
	state.window = pruneWindow(state.window, m.now().Add(-Window))

	durations := make([]float64, len(state.window))
	for i, s := range state.window {
		durations[i] = s.DurationMS
	}
	return &RouteStats{
		Method:      strings.ToUpper(method),
		Path:        path,
		Count:       state.count,
		AverageMS:   state.total / float64(state.count),
		MinMS:       state.min,
		MaxMS:       state.max,
		Percentiles: ComputePercentiles(durations),
		Samples:     len(durations),
		LastUpdated: state.updated.UTC(),
	}, nil
}

// SlowRequests returns up to limit slow requests, newest first.
func (m *MemoryRecorder) SlowRequests(_ context.Context, limit int) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = clampLimit(limit)
	if limit > len(m.slow) {
		limit = len(m.slow)
	}
	return append([]Sample(nil), m.slow[:limit]...), nil
}

func pruneWindow(window []Sample, cutoff time.Time) []Sample {
	i := 0
	for i < len(window) && window[i].Timestamp.Before(cutoff) {
		i++
	}
	return window[i:]
}
