package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/popshop/pkg/errors"
	"github.com/charlesng35/popshop/pkg/metrics"
	"github.com/charlesng35/popshop/pkg/response"
)

// Structural patterns only: a lone apostrophe or the word "select" in popup
// copy must not trip the filter.
var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|create|exec)\b`),
	regexp.MustCompile(`(?i)\b(drop|truncate|alter)\s+table\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\s+\w+`),
	regexp.MustCompile(`(?i)\bdelete\s+from\s+\w+`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+'?\w+'?\s*(=|like)\s*'?\w+`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`'\s*(--|#|/\*)`),
	regexp.MustCompile(`(?i)\b(exec|execute)\s+(xp_|sp_)\w+`),
	regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(\s*\d+`),
	regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`),
}

var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)<\s*/\s*script\s*>`),
	regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet|meta|base)\b`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

func matchesAny(patterns []*regexp.Regexp, value string) bool {
	for _, p := range patterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// ContainsSQLInjection reports whether value looks like an SQL injection attempt.
func ContainsSQLInjection(value string) bool { return matchesAny(sqlInjectionPatterns, value) }

// ContainsXSS reports whether value carries script injection markup.
func ContainsXSS(value string) bool { return matchesAny(xssPatterns, value) }

// InputGuard rejects requests whose query parameters, JSON body strings or
// header values carry SQL injection or script injection payloads.
func InputGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		for name, values := range c.Request.URL.Query() {
			for _, v := range values {
				if ContainsSQLInjection(v) || ContainsXSS(v) || ContainsXSS(name) {
					rejectInput(c, "query", name)
					return
				}
			}
		}

		for name, values := range c.Request.Header {
			for _, v := range values {
				if ContainsXSS(v) {
					rejectInput(c, "header", name)
					return
				}
			}
		}

		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}
		if !strings.Contains(strings.ToLower(c.ContentType()), "json") {
			c.Next()
			return
		}

		raw, ok := RawBody(c)
		if !ok && c.Request.Body != nil {
			var err error
			raw, err = io.ReadAll(c.Request.Body)
			_ = c.Request.Body.Close()
			if err != nil {
				response.Abort(c, errors.NewBadRequest("Unable to read request body"))
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			c.Next()
			return
		}

		var doc any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			response.Abort(c, errors.NewBadRequest("Invalid JSON"))
			return
		}
		if field, bad := inspectJSON(doc, ""); bad {
			rejectInput(c, "body", field)
			return
		}
		c.Next()
	}
}

// inspectJSON walks doc and returns the path of the first offending string.
func inspectJSON(doc any, path string) (string, bool) {
	switch v := doc.(type) {
	case string:
		return path, ContainsSQLInjection(v) || ContainsXSS(v)
	case map[string]any:
		for key, value := range v {
			child := key
			if path != "" {
				child = path + "." + key
			}
			if ContainsXSS(key) {
				return child, true
			}
			if field, bad := inspectJSON(value, child); bad {
				return field, true
			}
		}
	case []any:
		for _, value := range v {
			if field, bad := inspectJSON(value, path+"[]"); bad {
				return field, true
			}
		}
	}
	return "", false
}

func rejectInput(c *gin.Context, source, field string) {
	metrics.InputRejections.WithLabelValues(source).Inc()
	response.Abort(c, errors.ErrInvalidInput.WithDetails(gin.H{"source": source, "field": field}))
}
