package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/handlers"
	"github.com/charlesng35/popshop/internal/middleware"
)

func registerWebhookRoutes(webhooks *gin.RouterGroup, secret string, handler *handlers.WebhookHandler) {
	if webhooks == nil || handler == nil {
		return
	}

	webhooks.POST("/*topic", middleware.VerifyWebhook(secret), handler.Receive)
	webhooks.GET("/*topic", handler.MethodNotAllowed)
}
