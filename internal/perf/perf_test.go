package perf

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestComputePercentiles(t *testing.T) {
	require.Empty(t, ComputePercentiles(nil))

	durations := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		durations = append(durations, float64(i))
	}
	p := ComputePercentiles(durations)
	require.Equal(t, 50.0, p[50])
	require.Equal(t, 75.0, p[75])
	require.Equal(t, 90.0, p[90])
	require.Equal(t, 95.0, p[95])
	require.Equal(t, 99.0, p[99])

	single := ComputePercentiles([]float64{42})
	require.Equal(t, 42.0, single[50])
	require.Equal(t, 42.0, single[99])
}

type fixture struct {
	recorder Recorder
	advance  func(time.Duration)
	now      func() time.Time
}

func newFixtures(t *testing.T) map[string]fixture {
	t.Helper()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	memNow := base
	mem := NewMemoryRecorder(func() time.Time { return memNow })

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisNow := base
	rr := NewRedisRecorder(client, "test:")
	rr.now = func() time.Time { return redisNow }

	return map[string]fixture{
		"memory": {
			recorder: mem,
			advance:  func(d time.Duration) { memNow = memNow.Add(d) },
			now:      func() time.Time { return memNow },
		},
		"redis": {
			recorder: rr,
			advance: func(d time.Duration) {
				redisNow = redisNow.Add(d)
				srv.FastForward(d)
			},
			now: func() time.Time { return redisNow },
		},
	}
}

func TestRecorders(t *testing.T) {
	for name, fx := range newFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := fx.recorder.RouteStats(ctx, "GET", "/api/popups")
			require.ErrorIs(t, err, ErrNoStats)

			for _, ms := range []int{40, 10, 30, 20} {
				require.NoError(t, fx.recorder.Record(ctx, Sample{
					Method:    "GET",
					Path:      "/api/popups",
					Status:    200,
					Duration:  time.Duration(ms) * time.Millisecond,
					Timestamp: fx.now(),
				}))
				fx.advance(time.Second)
			}

			stats, err := fx.recorder.RouteStats(ctx, "get", "/api/popups")
			require.NoError(t, err)
			require.EqualValues(t, 4, stats.Count)
			require.InDelta(t, 25.0, stats.AverageMS, 0.001)
			require.InDelta(t, 10.0, stats.MinMS, 0.001)
			require.InDelta(t, 40.0, stats.MaxMS, 0.001)
			require.Equal(t, 4, stats.Samples)
			require.InDelta(t, 20.0, stats.Percentiles[50], 0.001)
			require.InDelta(t, 40.0, stats.Percentiles[99], 0.001)
			require.False(t, stats.LastUpdated.IsZero())

			// Samples leave the percentile window after an hour; counters stay.
			fx.advance(2 * time.Hour)
			require.NoError(t, fx.recorder.Record(ctx, Sample{
				Method: "GET", Path: "/api/popups", Status: 200,
				Duration: 5 * time.Millisecond, Timestamp: fx.now(),
			}))
			stats, err = fx.recorder.RouteStats(ctx, "GET", "/api/popups")
			require.NoError(t, err)
			require.EqualValues(t, 5, stats.Count)
			require.Equal(t, 1, stats.Samples)
			require.InDelta(t, 5.0, stats.MinMS, 0.001)
			require.InDelta(t, 40.0, stats.MaxMS, 0.001)
			require.InDelta(t, 5.0, stats.Percentiles[95], 0.001)
		})
	}
}

func TestSlowRequestLogIsCapped(t *testing.T) {
	for name, fx := range newFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < MaxSlowRequests+5; i++ {
				require.NoError(t, fx.recorder.RecordSlow(ctx, Sample{
					Method:    "GET",
					Path:      "/api/metrics",
					Status:    200,
					Duration:  time.Duration(1000+i) * time.Millisecond,
					Timestamp: fx.now(),
				}))
			}

			all, err := fx.recorder.SlowRequests(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, MaxSlowRequests)
			require.InDelta(t, float64(1000+MaxSlowRequests+4), all[0].DurationMS, 0.001, "newest first")

			few, err := fx.recorder.SlowRequests(ctx, 3)
			require.NoError(t, err)
			require.Len(t, few, 3)
			require.Equal(t, "/api/metrics", few[0].Path)
		})
	}
}

func TestRedisRecorderKeyLayout(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rec := NewRedisRecorder(client, "")
	ctx := context.Background()
	require.NoError(t, rec.Record(ctx, Sample{Method: "POST", Path: "/api/popups", Duration: 12 * time.Millisecond}))
	require.NoError(t, rec.RecordSlow(ctx, Sample{Method: "POST", Path: "/api/popups", Duration: 2 * time.Second}))

	for _, suffix := range []string{"count", "total_time", "max", "min", "response_times"} {
		key := "perf:POST:/api/popups:" + suffix
		require.True(t, srv.Exists(key), key)
		require.Equal(t, StatsTTL, srv.TTL(key), key)
	}
	require.True(t, srv.Exists("perf:slow_requests"))
	require.Equal(t, SlowTTL, srv.TTL("perf:slow_requests"))
}
