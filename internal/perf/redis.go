package perf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keeps :max and :min monotonic without a read-modify-write round trip.
var extremesScript = redis.NewScript(`
local v = tonumber(ARGV[1])
local cur = tonumber(redis.call('GET', KEYS[1]))
if cur == nil or v > cur then redis.call('SET', KEYS[1], ARGV[1]) end
cur = tonumber(redis.call('GET', KEYS[2]))
if cur == nil or v < cur then redis.call('SET', KEYS[2], ARGV[1]) end
return 1
`)

// RedisRecorder stores statistics under perf:<METHOD>:<path>:* keys.
type RedisRecorder struct {
	client    redis.UniversalClient
	namespace string
	now       func() time.Time
}

// NewRedisRecorder constructs a recorder. namespace is prepended to every key.
func NewRedisRecorder(client redis.UniversalClient, namespace string) *RedisRecorder {
	return &RedisRecorder{client: client, namespace: namespace, now: time.Now}
}

func (r *RedisRecorder) routeKey(method, path string) string {
	return r.namespace + "perf:" + strings.ToUpper(method) + ":" + path
}

func (r *RedisRecorder) slowKey() string {
	return r.namespace + "perf:slow_requests"
}

// Record adds sample to the route counters and the one-hour window.
func (r *RedisRecorder) Record(ctx context.Context, sample Sample) error {
	ctx = ensureContext(ctx)
	sample = sample.normalise(r.now)
	key := r.routeKey(sample.Method, sample.Path)
	ms := strconv.FormatFloat(sample.DurationMS, 'f', 3, 64)
	at := sample.Timestamp.UnixMilli()
	cutoff := sample.Timestamp.Add(-Window).UnixMilli()

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key+":count")
		pipe.IncrByFloat(ctx, key+":total_time", sample.DurationMS)
		extremesScript.Eval(ctx, pipe, []string{key + ":max", key + ":min"}, ms)
		pipe.ZAdd(ctx, key+":response_times", redis.Z{
			Score:  float64(at),
			Member: ms + ":" + strconv.FormatInt(sample.Timestamp.UnixNano(), 10),
		})
		pipe.ZRemRangeByScore(ctx, key+":response_times", "-inf", "("+strconv.FormatInt(cutoff, 10))
		for _, suffix := range []string{":count", ":total_time", ":max", ":min", ":response_times"} {
			pipe.Expire(ctx, key+suffix, StatsTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("perf: record %s: %w", key, err)
	}
	return nil
}

// RecordSlow prepends sample to the capped slow-request log.
func (r *RedisRecorder) RecordSlow(ctx context.Context, sample Sample) error {
	ctx = ensureContext(ctx)
	payload, err := json.Marshal(sample.normalise(r.now))
	if err != nil {
		return fmt.Errorf("perf: encode slow request: %w", err)
	}
	key := r.slowKey()
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, MaxSlowRequests-1)
		pipe.Expire(ctx, key, SlowTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("perf: record slow request: %w", err)
	}
	return nil
}

// RouteStats reads the counters and window for one route.
func (r *RedisRecorder) RouteStats(ctx context.Context, method, path string) (*RouteStats, error) {
	ctx = ensureContext(ctx)
	key := r.routeKey(method, path)
	cutoff := r.now().Add(-Window).UnixMilli()

	var (
		counters *redis.SliceCmd
		window   *redis.ZSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		counters = pipe.MGet(ctx, key+":count", key+":total_time", key+":max", key+":min")
		window = pipe.ZRangeByScoreWithScores(ctx, key+":response_times", &redis.ZRangeBy{
			Min: strconv.FormatInt(cutoff, 10),
			Max: "+inf",
		})
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("perf: read %s: %w", key, err)
	}

	values := counters.Val()
	count := parseInt(values[0])
	if count == 0 {
		return nil, ErrNoStats
	}

	stats := &RouteStats{
		Method:    strings.ToUpper(method),
		Path:      path,
		Count:     count,
		AverageMS: parseFloat(values[1]) / float64(count),
		MaxMS:     parseFloat(values[2]),
		MinMS:     parseFloat(values[3]),
	}

	durations := make([]float64, 0, len(window.Val()))
	var latest float64
	for _, z := range window.Val() {
		member, _ := z.Member.(string)
		ms, _, _ := strings.Cut(member, ":")
		if v, err := strconv.ParseFloat(ms, 64); err == nil {
			durations = append(durations, v)
		}
		if z.Score > latest {
			latest = z.Score
		}
	}
	stats.Samples = len(durations)
	stats.Percentiles = ComputePercentiles(durations)
	if latest > 0 {
		stats.LastUpdated = time.UnixMilli(int64(latest)).UTC()
	}
	return stats, nil
}

// SlowRequests returns up to limit slow requests, newest first.
func (r *RedisRecorder) SlowRequests(ctx context.Context, limit int) ([]Sample, error) {
	ctx = ensureContext(ctx)
	raw, err := r.client.LRange(ctx, r.slowKey(), 0, int64(clampLimit(limit)-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("perf: read slow requests: %w", err)
	}
	out := make([]Sample, 0, len(raw))
	for _, item := range raw {
		var s Sample
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
