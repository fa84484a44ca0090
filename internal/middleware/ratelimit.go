package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/metrics"
	"github.com/charlesng35/popshop/pkg/response"
)

// RateLimit returns an in-process token bucket limiter keyed by client IP and
// route. Each key may burst to maxRequests and refills at maxRequests per window.
// It suits single-instance deployments and tests; RateLimitWithStore shares
// counters between instances.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	if maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		visitors  = make(map[string]*visitor)
		lastSweep = time.Now()
		every     = rate.Every(window / time.Duration(maxRequests))
	)

	return func(c *gin.Context) {
		key := c.ClientIP() + "|" + c.Request.Method + "|" + routePath(c)
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > window {
			for k, v := range visitors {
				if now.Sub(v.lastSeen) > window {
					delete(visitors, k)
				}
			}
			lastSweep = now
		}
		v, ok := visitors[key]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(every, maxRequests)}
			visitors[key] = v
		}
		v.lastSeen = now
		allowed := v.limiter.AllowN(now, 1)
		remaining := int(math.Max(0, math.Floor(v.limiter.TokensAt(now))))
		mu.Unlock()

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			retryAfter := int(math.Ceil(time.Duration(float64(time.Second) / float64(every)).Seconds()))
			rejectRateLimited(c, "memory", retryAfter)
			return
		}

		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, policy string, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	metrics.RateLimitRejections.WithLabelValues(policy).Inc()
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	response.Abort(c, errors.ErrRateLimit.WithDetails(gin.H{"retry_after": retryAfter}))
}
