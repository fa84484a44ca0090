package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/perf"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/metrics"
)

const perfRecordTimeout = 2 * time.Second

// PerformanceMonitor feeds every request into recorder and logs requests
// slower than threshold. Recorder failures never affect the response.
func PerformanceMonitor(recorder perf.Recorder, threshold time.Duration) gin.HandlerFunc {
	if recorder == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if threshold <= 0 {
		threshold = perf.DefaultSlowThreshold
	}
	log := logger.WithModule("perf")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		sample := perf.Sample{
			Method:    c.Request.Method,
			Path:      routePath(c),
			Status:    c.Writer.Status(),
			Duration:  elapsed,
			Timestamp: start,
			Query:     c.Request.URL.RawQuery,
			ClientIP:  c.ClientIP(),
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), perfRecordTimeout)
		defer cancel()

		if err := recorder.Record(ctx, sample); err != nil {
			log.Warn("performance sample dropped", zap.Error(err))
		}
		if elapsed <= threshold {
			return
		}

		metrics.SlowRequests.WithLabelValues(sample.Method, sample.Path).Inc()
		log.Warn("slow request",
			zap.String("method", sample.Method),
			zap.String("url", c.Request.URL.RequestURI()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", RequestIDFromContext(c)),
		)
		if err := recorder.RecordSlow(ctx, sample); err != nil {
			log.Warn("slow request not recorded", zap.Error(err))
		}
	}
}
