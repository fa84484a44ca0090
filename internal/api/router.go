package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/popshop/internal/app"
	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/handlers"
	"github.com/charlesng35/popshop/internal/middleware"
	"github.com/charlesng35/popshop/internal/monitoring"
	"github.com/charlesng35/popshop/internal/perf"
	"github.com/charlesng35/popshop/internal/services"
	"github.com/charlesng35/popshop/internal/shopify"
)

// Deps carries everything the HTTP surface needs. Recorder and Health may be
// nil; the corresponding endpoints then report the feature as disabled.
type Deps struct {
	Config *app.Config
	DB     *gorm.DB
	// Store backs the response cache, rate limit counters and OAuth state.
	Store cache.Store

	Verifier middleware.SessionVerifier
	OAuth    *shopify.OAuth
	Recorder perf.Recorder
	Health   *monitoring.HealthManager

	Shops    *services.ShopService
	Popups   *services.PopupService
	Products *services.ProductSyncService
	Webhooks *services.WebhookService
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.Store == nil:
		return errors.New("cache store must be provided")
	case d.Verifier == nil:
		return errors.New("session verifier must be provided")
	case d.OAuth == nil:
		return errors.New("oauth client must be provided")
	case d.Shops == nil || d.Popups == nil || d.Products == nil || d.Webhooks == nil:
		return errors.New("services must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Shopify.AppURL))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.Shopify.AppURL, cfg.Server.AllowedOrigins)))
	if cfg.Monitoring.Performance.Enabled && deps.Recorder != nil {
		r.Use(middleware.PerformanceMonitor(deps.Recorder, cfg.Server.SlowRequestThreshold))
	}

	apiPolicy, authPolicy, publicPolicy := middleware.APIRateLimit, middleware.AuthRateLimit, middleware.PublicRateLimit
	if cfg.RateLimit.Enabled {
		apiPolicy, authPolicy, publicPolicy = cfg.RateLimit.Policies()
	} else {
		apiPolicy.Max, authPolicy.Max, publicPolicy.Max = 0, 0, 0
	}
	limit := rateLimiter(cfg.RateLimit.Backend, deps.Store)

	registerHealthRoutes(r, cfg, deps.Health)
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.OAuth, deps.Store, deps.Shops, deps.Webhooks, cfg.Shopify.AppURL)
	registerAuthRoutes(r.Group("/auth", limit(authPolicy)), authHandler)

	webhookBody := cfg.Server.WebhookMaxBodyBytes
	if webhookBody <= 0 {
		webhookBody = middleware.DefaultWebhookBodyBytes
	}
	registerWebhookRoutes(r.Group("/webhooks",
		limit(publicPolicy),
		middleware.BodyLimit(webhookBody),
	), cfg.Shopify.APISecret, handlers.NewWebhookHandler(deps.Webhooks))

	apiBody := cfg.Server.MaxBodyBytes
	if apiBody <= 0 {
		apiBody = middleware.DefaultMaxBodyBytes
	}
	api := r.Group("/api")
	api.Use(
		middleware.BodyLimit(apiBody),
		limit(apiPolicy),
		middleware.ShopifySession(deps.Verifier, deps.Shops),
		middleware.InputGuard(),
	)

	cached := middleware.ResponseCache(middleware.CacheOptions{
		Store: deps.Store,
		TTL:   cfg.Cache.ResponseTTL,
	})

	registerPopupRoutes(api, handlers.NewPopupHandler(deps.Popups), cached)
	registerMetricsRoutes(api, handlers.NewMetricsHandler(deps.Popups, deps.Recorder), cached)
	registerProductRoutes(api, handlers.NewProductHandler(deps.Products, services.SyncOptions{
		BatchSize:   cfg.Maintenance.ProductSync.BatchSize,
		MaxProducts: cfg.Maintenance.ProductSync.MaxProducts,
	}), cached)

	// NotFound / NoMethod fallbacks
	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

// rateLimiter returns a constructor for policy middleware on the configured
// backend. Store-backed counters are shared by every instance using the cache.
func rateLimiter(backend string, store cache.Store) func(middleware.RateLimitPolicy) gin.HandlerFunc {
	if strings.EqualFold(strings.TrimSpace(backend), "memory") {
		return func(p middleware.RateLimitPolicy) gin.HandlerFunc {
			return middleware.RateLimit(p.Max, p.Window)
		}
	}
	rates := middleware.NewCacheRateStore(store)
	return func(p middleware.RateLimitPolicy) gin.HandlerFunc {
		return middleware.RateLimitWithStore(rates, p)
	}
}
