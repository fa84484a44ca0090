package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/popshop/internal/monitoring"
)

const defaultMaintenanceMaxAge = 36 * time.Hour

// Maintenance verifies that background jobs keep succeeding. A job that has not
// succeeded within maxAge, or whose last run failed, degrades readiness.
func Maintenance(tracker *monitoring.JobTracker, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		jobs := tracker.Snapshot()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusUp,
				Details: "no maintenance runs recorded",
			}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var problems []string
		for _, job := range jobs {
			if job.ConsecutiveFailures > 0 {
				status = monitoring.StatusDegraded
				problems = append(problems, job.Job+": "+job.LastError)
				continue
			}
			if !job.LastSuccessAt.IsZero() && now.Sub(job.LastSuccessAt) > maxAge {
				status = monitoring.StatusDegraded
				problems = append(problems, job.Job+": last success "+job.LastSuccessAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:  status,
			Details: strings.Join(problems, "; "),
		}
	}).Optional()
}
