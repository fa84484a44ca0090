package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/handlers"
)

func registerPopupRoutes(api *gin.RouterGroup, handler *handlers.PopupHandler, cached gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	popups := api.Group("/popups")
	{
		popups.GET("", cached, handler.List)
		popups.GET("/active", cached, handler.Active)
		popups.GET("/:id", cached, handler.Get)
		popups.POST("", handler.Create)
		popups.PUT("/:id", handler.Update)
		popups.DELETE("/:id", handler.Delete)
	}
}
