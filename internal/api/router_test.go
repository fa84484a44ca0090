package api_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/popshop/internal/api"
	"github.com/charlesng35/popshop/internal/app"
	"github.com/charlesng35/popshop/internal/handlers/testutil"
)

func TestNewRouterRequiresDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	_, err := api.NewRouter(api.Deps{})
	require.ErrorContains(t, err, "config")

	_, err = api.NewRouter(api.Deps{Config: &app.Config{}})
	require.ErrorContains(t, err, "database")
}

func TestRouterRegistersRoutes(t *testing.T) {
	env := testutil.NewEnv(t)

	routes := map[string]bool{}
	for _, route := range env.Router.Routes() {
		routes[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /health/ready",
		"GET /metrics",
		"GET /auth",
		"GET /auth/callback",
		"POST /webhooks/*topic",
		"GET /webhooks/*topic",
		"GET /api/popups",
		"GET /api/popups/active",
		"GET /api/popups/:id",
		"POST /api/popups",
		"PUT /api/popups/:id",
		"DELETE /api/popups/:id",
		"GET /api/metrics",
		"POST /api/metrics",
		"GET /api/dashboard",
		"GET /api/performance",
		"GET /api/performance/slow",
		"GET /api/products",
		"POST /api/products/sync",
	} {
		require.True(t, routes[want], "missing route %s", want)
	}
}

func TestRouterFallbacksAndHeaders(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/nope", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPatch, "/api/popups", nil, "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/health", nil, "")
	require.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors")
}

func TestMetricsEndpoint(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "popshop_api_latency_seconds"))
}

func TestHealthDisabled(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Monitoring.Health.Enabled = false
	})

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"success":false,"status":"disabled"}`, w.Body.String())
}

func TestAPIRateLimit(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(2, time.Minute))
	token := env.InstalledToken(testutil.Shop)

	for i := 0; i < 2; i++ {
		w := env.Request(http.MethodGet, "/api/dashboard", nil, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.Request(http.MethodGet, "/api/dashboard", nil, token)
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Equal(t, "RATE_LIMIT_EXCEEDED", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAPIRateLimitInMemory(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(1, time.Minute), func(cfg *app.Config) {
		cfg.RateLimit.Backend = "memory"
	})
	token := env.InstalledToken(testutil.Shop)

	w := env.Request(http.MethodGet, "/api/dashboard", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/dashboard", nil, token)
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	// Counters live in process memory, not the shared store.
	for _, key := range env.Redis.Keys() {
		require.NotContains(t, key, "ratelimit:")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Server.AllowedOrigins = []string{"https://partners.example.com"}
	})

	req, err := http.NewRequest(http.MethodOptions, "/api/popups", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://partners.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := env.Do(req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://partners.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDefaultOrigins(t *testing.T) {
	loaded, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, loaded.Server.AllowedOrigins)

	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Server = loaded.Server
	})

	cases := map[string]bool{
		"https://admin.shopify.com":       true,
		"https://demo-shop.myshopify.com": true,
		testutil.AppURL:                   true,
		"https://evil.example.com":        false,
		"http://admin.shopify.com":        false,
	}
	for origin, allowed := range cases {
		req, err := http.NewRequest(http.MethodOptions, "/api/popups", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := env.Do(req)
		require.Equal(t, http.StatusNoContent, w.Code, origin)
		if allowed {
			require.Equal(t, origin, w.Header().Get("Access-Control-Allow-Origin"), origin)
		} else {
			require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), origin)
		}
	}
}
