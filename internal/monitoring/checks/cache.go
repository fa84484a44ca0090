package checks

import (
	"context"
	"time"

	"github.com/charlesng35/popshop/internal/monitoring"
)

// Pinger represents the minimal interface required to probe a cache store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache returns a non-critical readiness probe for the response cache store.
// fallback is set when Redis was configured but the database store is serving
// instead; the probe then reports degraded.
func Cache(store Pinger, backend string, fallback bool) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: "cache store not configured",
			}
		}

		result := monitoring.ResultFromError("cache", store.Ping(ctx), time.Since(start))
		if result.Status != monitoring.StatusUp {
			return result
		}
		result.Details = backend
		if fallback {
			result.Status = monitoring.StatusDegraded
			result.Details = backend + " (redis unavailable, using fallback)"
		}
		return result
	}).Optional()
}
