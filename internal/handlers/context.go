package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/middleware"
	apperrors "github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireShop returns the shop set by the session middleware, writing a 401
// when the route was mounted without it.
func requireShop(c *gin.Context) (string, bool) {
	shop := middleware.ShopFromContext(c)
	if shop == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return "", false
	}
	return shop, true
}
