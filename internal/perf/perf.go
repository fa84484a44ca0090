// Package perf records per-route latency statistics and a log of slow requests.
package perf

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"
)

const (
	// DefaultSlowThreshold marks requests that are logged as slow.
	DefaultSlowThreshold = time.Second
	// Window bounds the samples used for percentiles.
	Window = time.Hour
	// StatsTTL is the lifetime of per-route counters.
	StatsTTL = 24 * time.Hour
	// SlowTTL is the lifetime of the slow-request log.
	SlowTTL = 7 * 24 * time.Hour
	// MaxSlowRequests caps the slow-request log.
	MaxSlowRequests = 100
)

// Percentiles reported by RouteStats.
var Percentiles = []int{50, 75, 90, 95, 99}

// ErrNoStats is returned when a route has no recorded samples.
var ErrNoStats = errors.New("perf: no statistics for route")

// Sample is a single completed request.
type Sample struct {
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Status     int           `json:"status_code"`
	Duration   time.Duration `json:"-"`
	DurationMS float64       `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
	Query      string        `json:"query,omitempty"`
	ClientIP   string        `json:"client_ip,omitempty"`
}

func (s Sample) normalise(now func() time.Time) Sample {
	if s.Timestamp.IsZero() {
		s.Timestamp = now()
	}
	if s.DurationMS == 0 && s.Duration > 0 {
		s.DurationMS = float64(s.Duration) / float64(time.Millisecond)
	}
	return s
}

// RouteStats summarises the samples recorded for one route.
type RouteStats struct {
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Count       int64           `json:"count"`
	AverageMS   float64         `json:"average_ms"`
	MinMS       float64         `json:"min_ms"`
	MaxMS       float64         `json:"max_ms"`
	Percentiles map[int]float64 `json:"percentiles"`
	Samples     int             `json:"window_samples"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Recorder persists request samples and answers statistics queries.
type Recorder interface {
	Record(ctx context.Context, sample Sample) error
	RecordSlow(ctx context.Context, sample Sample) error
	RouteStats(ctx context.Context, method, path string) (*RouteStats, error)
	SlowRequests(ctx context.Context, limit int) ([]Sample, error)
}

// ComputePercentiles applies the nearest-rank method to the supplied durations.
func ComputePercentiles(durations []float64) map[int]float64 {
	out := make(map[int]float64, len(Percentiles))
	if len(durations) == 0 {
		return out
	}
	sorted := append([]float64(nil), durations...)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	for _, p := range Percentiles {
		rank := int(math.Ceil(float64(p)/100*n)) - 1
		if rank < 0 {
			rank = 0
		}
		out[p] = sorted[rank]
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxSlowRequests {
		return MaxSlowRequests
	}
	return limit
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
