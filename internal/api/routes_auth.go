package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/handlers"
)

func registerAuthRoutes(auth *gin.RouterGroup, handler *handlers.AuthHandler) {
	if auth == nil || handler == nil {
		return
	}

	auth.GET("", handler.Begin)
	auth.GET("/callback", handler.Callback)
}
