package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContentSecurityPolicy builds the CSP for the embedded admin. Framing is
// limited to the Shopify admin surfaces.
func ContentSecurityPolicy(appURL string) string {
	connect := "connect-src 'self'"
	if appURL != "" {
		connect += " " + strings.TrimRight(appURL, "/")
	}
	return strings.Join([]string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline' https://cdn.shopify.com",
		"style-src 'self' 'unsafe-inline' https://cdn.shopify.com",
		"img-src 'self' data: https:",
		connect,
		"frame-ancestors https://*.myshopify.com https://admin.shopify.com",
	}, "; ")
}

// SecurityHeaders applies hardening headers. X-Frame-Options is omitted since
// the app is embedded in the Shopify admin; frame-ancestors governs framing.
func SecurityHeaders(appURL string) gin.HandlerFunc {
	csp := ContentSecurityPolicy(appURL)
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", csp)
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

// DefaultAllowedOrigins are the Shopify surfaces that call the API cross-origin.
var DefaultAllowedOrigins = []string{"https://*.shopify.com", "https://*.myshopify.com"}

// AllowedOrigins returns the Shopify defaults, the app's own origin and any
// extra configured origins.
func AllowedOrigins(appURL string, extra []string) []string {
	origins := append([]string{}, DefaultAllowedOrigins...)
	if u, err := url.Parse(strings.TrimSpace(appURL)); err == nil && u.Scheme != "" && u.Host != "" {
		origins = append(origins, u.Scheme+"://"+u.Host)
	}
	return append(origins, extra...)
}

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Requested-With, X-Request-ID"
)

// CORS reflects allowed origins and answers preflight requests. Patterns may
// use a leading "*." wildcard for the host.
func CORS(allowed []string) gin.HandlerFunc {
	patterns := make([]originPattern, 0, len(allowed))
	for _, raw := range allowed {
		if p, ok := parseOriginPattern(raw); ok {
			patterns = append(patterns, p)
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(patterns, origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Cache, Retry-After")
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type originPattern struct {
	scheme   string
	host     string
	wildcard bool
}

func parseOriginPattern(raw string) (originPattern, bool) {
	raw = strings.TrimSpace(strings.TrimRight(raw, "/"))
	if raw == "" {
		return originPattern{}, false
	}
	scheme := "https"
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme, raw = strings.ToLower(raw[:i]), raw[i+3:]
	}
	host := strings.ToLower(raw)
	if strings.HasPrefix(host, "*.") {
		return originPattern{scheme: scheme, host: host[1:], wildcard: true}, true
	}
	return originPattern{scheme: scheme, host: host}, true
}

func originAllowed(patterns []originPattern, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, p := range patterns {
		if !strings.EqualFold(u.Scheme, p.scheme) {
			continue
		}
		if p.wildcard {
			if strings.HasSuffix(host, p.host) && len(host) > len(p.host) {
				return true
			}
			continue
		}
		if host == p.host {
			return true
		}
	}
	return false
}
