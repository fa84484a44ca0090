package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/handlers"
)

func registerMetricsRoutes(api *gin.RouterGroup, handler *handlers.MetricsHandler, cached gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	api.GET("/metrics", cached, handler.Summary)
	api.POST("/metrics", handler.Record)
	api.GET("/dashboard", cached, handler.Dashboard)

	perf := api.Group("/performance")
	perf.GET("", handler.RouteStats)
	perf.GET("/slow", handler.SlowRequests)
}
