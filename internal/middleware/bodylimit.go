package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/response"
)

// DefaultMaxBodyBytes caps API request bodies.
const DefaultMaxBodyBytes int64 = 100 << 10

// BodyLimit rejects bodies larger than maxBytes with 413. Accepted bodies are
// buffered so later middleware (signature checks, input guard) and handlers
// can all read them.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(c *gin.Context) {
		req := c.Request
		if req.Body == nil || req.Body == http.NoBody {
			c.Next()
			return
		}
		if req.ContentLength > maxBytes {
			response.Abort(c, errors.ErrPayloadTooLarge.WithDetails(gin.H{"limit": maxBytes}))
			return
		}

		raw, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
		_ = req.Body.Close()
		if err != nil {
			response.Abort(c, errors.NewBadRequest("Unable to read request body"))
			return
		}
		if int64(len(raw)) > maxBytes {
			response.Abort(c, errors.ErrPayloadTooLarge.WithDetails(gin.H{"limit": maxBytes}))
			return
		}

		c.Set(CtxRawBodyKey, raw)
		req.Body = io.NopCloser(bytes.NewReader(raw))
		req.ContentLength = int64(len(raw))
		c.Next()
	}
}
