package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/handlers"
)

func registerProductRoutes(api *gin.RouterGroup, handler *handlers.ProductHandler, cached gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	products := api.Group("/products")
	products.GET("", cached, handler.List)
	products.POST("/sync", handler.Sync)
}
