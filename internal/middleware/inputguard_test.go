package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestPatternsAllowOrdinaryCopy(t *testing.T) {
	benign := []string{
		"Don't miss our summer sale!",
		"Select a size from the list below",
		"Get 10% off when you sign up -- today only",
		"#FFAA00",
		"Tom's <b>favourite</b> picks",
		"Drop by the store and update your wishlist",
	}
	for _, s := range benign {
		require.False(t, ContainsSQLInjection(s), s)
		require.False(t, ContainsXSS(s), s)
	}
}

func TestPatternsFlagInjection(t *testing.T) {
	sqli := []string{
		"1 UNION SELECT password FROM users",
		"x'; DROP TABLE popups; --",
		"' OR '1'='1",
		"admin' --",
		"' or 1=1",
		"1; exec xp_cmdshell 'dir'",
		"SLEEP(5)",
	}
	for _, s := range sqli {
		require.True(t, ContainsSQLInjection(s), s)
	}

	xss := []string{
		"<script>alert(1)</script>",
		`<img src=x onerror="alert(1)">`,
		"javascript:alert(1)",
		"<iframe src=//evil>",
		`<a href="data:text/html;base64,xx">`,
	}
	for _, s := range xss {
		require.True(t, ContainsXSS(s), s)
	}
}

func newGuardRouter(reached *bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BodyLimit(1024), InputGuard())
	handler := func(c *gin.Context) {
		*reached = true
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	}
	r.GET("/api/popups", handler)
	r.POST("/api/popups", handler)
	return r
}

func TestInputGuardQuery(t *testing.T) {
	var reached bool
	r := newGuardRouter(&reached)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/popups?search="+url.QueryEscape("' OR '1'='1"), nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_INPUT", decodeEnvelope(t, w).Error.Code)
	require.False(t, reached)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/popups?search="+url.QueryEscape("summer's sale"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, reached)
}

func TestInputGuardBody(t *testing.T) {
	var reached bool
	r := newGuardRouter(&reached)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/popups", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"title":"Sale","content":"<script>steal()</script>"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeEnvelope(t, w).Error.Details.(map[string]any)
	require.Equal(t, "body", details["source"])
	require.Equal(t, "content", details["field"])

	w = post(`{"title":"Sale","tags":[{"label":"x'; DROP TABLE popups; --"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "tags[].label", decodeEnvelope(t, w).Error.Details.(map[string]any)["field"])

	w = post(`{"title": "Sale"`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Invalid JSON", decodeEnvelope(t, w).Error.Message)
	require.False(t, reached)

	w = post(`{"title":"Don't miss out","background_color":"#FFFFFF"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"title":"Don't miss out","background_color":"#FFFFFF"}`, w.Body.String(), "body stays readable downstream")
}

func TestInputGuardHeaders(t *testing.T) {
	var reached bool
	r := newGuardRouter(&reached)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/popups", nil)
	req.Header.Set("Referer", "javascript:alert(1)")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.False(t, reached)
}

func TestBodyLimit(t *testing.T) {
	var reached bool
	r := newGuardRouter(&reached)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/popups", strings.NewReader(`{"content":"`+strings.Repeat("a", 2048)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.Equal(t, "Payload too large", decodeEnvelope(t, w).Error.Message)

	// chunked body without Content-Length
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/popups", io.NopCloser(strings.NewReader(strings.Repeat("b", 2048))))
	req.ContentLength = -1
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.False(t, reached)
}
