package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/pkg/logger"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// RateLimitPolicy is a named fixed-window allowance.
type RateLimitPolicy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Named policies applied to the API surface.
var (
	APIRateLimit    = RateLimitPolicy{Name: "api", Max: 100, Window: 15 * time.Minute}
	AuthRateLimit   = RateLimitPolicy{Name: "auth", Max: 10, Window: time.Hour}
	PublicRateLimit = RateLimitPolicy{Name: "public", Max: 1000, Window: time.Hour}
)

// RateLimitWithStore enforces policy using a shared RateStore keyed by client
// IP, method and route. Store failures let the request through.
func RateLimitWithStore(store RateStore, policy RateLimitPolicy) gin.HandlerFunc {
	if store == nil || policy.Max <= 0 || policy.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		key := "ratelimit:" + policy.Name + ":" + c.ClientIP() + ":" + c.Request.Method + ":" + routePath(c)

		count, ttl, err := store.Increment(c.Request.Context(), key, policy.Window)
		if err != nil {
			log.Warn("rate limit store unavailable", zap.String("policy", policy.Name), zap.Error(err))
			c.Next()
			return
		}

		remaining := policy.Max - count
		if remaining < 0 {
			remaining = 0
		}
		resetIn := int(math.Ceil(ttl.Seconds()))
		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

		if count > policy.Max {
			rejectRateLimited(c, policy.Name, resetIn)
			return
		}
		c.Next()
	}
}

// memoryRateStore provides process-local fixed-window counters.
type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store. Expired counters are
// swept lazily on access.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) > 4096 {
		for k, counter := range s.data {
			if now.After(counter.windowEnd) {
				delete(s.data, k)
			}
		}
	}

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

// storeRateStore adapts a cache.Store (Redis or database) to RateStore.
type storeRateStore struct {
	store cache.Store
}

// NewCacheRateStore shares counters through the cache store.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
