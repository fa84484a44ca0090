package middleware

import (
	"bytes"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/response"
)

// Shopify webhook headers.
const (
	HeaderShopifyHmac    = "X-Shopify-Hmac-Sha256"
	HeaderShopifyShop    = "X-Shopify-Shop-Domain"
	HeaderShopifyTopic   = "X-Shopify-Topic"
	HeaderShopifyWebhook = "X-Shopify-Webhook-Id"
)

// DefaultWebhookBodyBytes caps webhook payloads.
const DefaultWebhookBodyBytes int64 = 1 << 20

// VerifyWebhook rejects webhook deliveries whose HMAC does not match the raw
// body. An empty secret disables verification.
func VerifyWebhook(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, ok := RawBody(c)
		if !ok && c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				response.Abort(c, errors.NewBadRequest("Unable to read request body"))
				return
			}
			c.Set(CtxRawBodyKey, body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		if !shopify.VerifyWebhookHMAC(secret, body, c.GetHeader(HeaderShopifyHmac)) {
			response.Abort(c, errors.ErrInvalidSignature)
			return
		}
		c.Next()
	}
}
