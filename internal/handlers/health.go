package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/monitoring"
	"github.com/charlesng35/popshop/pkg/response"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

// NewHealthHandler constructs a HealthHandler. A nil manager reports healthy.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(c *gin.Context) {
	if h.manager == nil {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
		return
	}
	h.render(c, h.manager.EvaluateLiveness(requestContext(c)))
}

// Readiness handles GET /health/ready.
func (h *HealthHandler) Readiness(c *gin.Context) {
	if h.manager == nil {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
		return
	}
	h.render(c, h.manager.EvaluateReadiness(requestContext(c)))
}

func (h *HealthHandler) render(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if report.Status == monitoring.StatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success": report.Status != monitoring.StatusDown,
		"data":    report,
	})
}
