package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/response"
)

const CtxClaimsKey = "sessionClaims"

// SessionVerifier validates embedded app session tokens.
type SessionVerifier interface {
	Verify(token string) (*shopify.SessionClaims, error)
}

// InstallationChecker reports whether a shop currently has the app installed.
type InstallationChecker interface {
	IsInstalled(ctx context.Context, shop string) (bool, error)
}

// ShopifySession authenticates admin requests with the App Bridge session
// token carried in the Authorization header. installed may be nil.
func ShopifySession(verifier SessionVerifier, installed InstallationChecker) gin.HandlerFunc {
	log := logger.WithModule("auth")

	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, errors.ErrUnauthorized)
			return
		}

		claims, err := verifier.Verify(strings.TrimSpace(authz[7:]))
		if err != nil {
			log.Debug("session token rejected", zap.Error(err))
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			response.Abort(c, errors.ErrUnauthorized)
			return
		}

		shop := claims.Shop()
		if installed != nil {
			ok, err := installed.IsInstalled(c.Request.Context(), shop)
			if err != nil {
				response.Abort(c, errors.ErrInternalServer.WithInternal(err))
				return
			}
			if !ok {
				response.Abort(c, errors.ErrUnauthorized.WithMessage("App is not installed for this shop"))
				return
			}
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxShopKey, shop)
		c.Set(CtxUserIDKey, claims.Subject)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}
