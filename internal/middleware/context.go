package middleware

import "github.com/gin-gonic/gin"

// Context keys populated by the middleware chain.
const (
	CtxRequestIDKey = "requestID"
	CtxShopKey      = "shop"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxRawBodyKey   = "rawBody"
)

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-ID"

// ShopFromContext returns the authenticated shop domain, if any.
func ShopFromContext(c *gin.Context) string {
	return c.GetString(CtxShopKey)
}

// RequestIDFromContext returns the request id assigned by Logger.
func RequestIDFromContext(c *gin.Context) string {
	return c.GetString(CtxRequestIDKey)
}

// RawBody returns the request body captured by BodyLimit.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(CtxRawBodyKey)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}
