package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/popshop/internal/api"
	"github.com/charlesng35/popshop/internal/app"
	"github.com/charlesng35/popshop/internal/cache"
	sharedtestutil "github.com/charlesng35/popshop/internal/database/testutil"
	"github.com/charlesng35/popshop/internal/monitoring"
	"github.com/charlesng35/popshop/internal/monitoring/checks"
	"github.com/charlesng35/popshop/internal/perf"
	"github.com/charlesng35/popshop/internal/services"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/internal/shopify/shopifytest"
	"github.com/charlesng35/popshop/internal/storage"
	"github.com/charlesng35/popshop/pkg/crypto"
	"github.com/charlesng35/popshop/pkg/response"
)

// Fixed credentials shared by every handler test.
const (
	Shop        = "demo-shop.myshopify.com"
	OtherShop   = "other-shop.myshopify.com"
	APIKey      = "test-api-key"
	APISecret   = "test-api-secret-0123456789abcdef"
	AppURL      = "https://popshop.example.com"
	AccessToken = "shpat_test"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database
// and a miniredis cache for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Config   *app.Config
	Store    cache.Store
	Redis    *miniredis.Miniredis
	Admin    *FakeAdmin
	Archive  *storage.MemoryArchiver
	Recorder *perf.MemoryRecorder

	Shops    *services.ShopService
	Popups   *services.PopupService
	Products *services.ProductSyncService
	Webhooks *services.WebhookService
}

// Option tweaks the configuration before the router is built.
type Option func(*app.Config)

// WithRateLimit enables the api policy with the given allowance.
func WithRateLimit(max int, window time.Duration) Option {
	return func(cfg *app.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.API = app.RatePolicyConfig{Max: max, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	mr := miniredis.RunT(t)
	admin := NewFakeAdmin(t)

	cfg := &app.Config{
		Server: app.ServerConfig{
			SlowRequestThreshold: time.Second,
		},
		Cache: app.CacheConfig{ResponseTTL: time.Minute},
		Shopify: app.ShopifyConfig{
			APIKey:    APIKey,
			APISecret: APISecret,
			AppURL:    AppURL,
			Scopes:    []string{"read_products", "write_products"},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus:  app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:      app.HealthConfig{Enabled: true},
			Performance: app.PerformanceConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	_, err := app.ApplyRuntimeDefaults(cfg, false)
	require.NoError(t, err)

	client, err := cache.NewRedisClient(context.Background(), cache.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client, cache.DefaultNamespace)

	sealer, err := crypto.NewSealer([]byte(APISecret), "shop-token")
	require.NoError(t, err)

	shopifyCfg := cfg.Shopify.ClientConfig()
	shopifyCfg.AdminBaseURL = admin.URL
	adminClient := shopify.NewClient(shopifyCfg)

	shops, err := services.NewShopService(db, sealer, store)
	require.NoError(t, err)
	popups, err := services.NewPopupService(db, store)
	require.NoError(t, err)
	products, err := services.NewProductSyncService(db, adminClient, shops, store)
	require.NoError(t, err)
	archive := storage.NewMemoryArchiver()
	webhooks, err := services.NewWebhookService(db, services.WebhookServiceConfig{
		Archiver:   archive,
		Subscriber: adminClient,
		Tokens:     shops,
		AppURL:     AppURL,
		Topics:     cfg.Shopify.Topics(),
	})
	require.NoError(t, err)
	webhooks.UseDefaultHandlers(shops, products)

	oauth, err := shopify.NewOAuth(shopifyCfg, nil)
	require.NoError(t, err)
	verifier, err := shopify.NewSessionTokenVerifier(shopifyCfg, nil)
	require.NoError(t, err)

	recorder := perf.NewMemoryRecorder(nil)
	health := monitoring.NewHealthManager(time.Second)
	health.RegisterLiveness(checks.Database(db))
	health.RegisterReadiness(checks.Database(db))
	health.RegisterReadiness(checks.Cache(store, "redis", false))

	router, err := api.NewRouter(api.Deps{
		Config:   cfg,
		DB:       db,
		Store:    store,
		Verifier: verifier,
		OAuth:    oauth,
		Recorder: recorder,
		Health:   health,
		Shops:    shops,
		Popups:   popups,
		Products: products,
		Webhooks: webhooks,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		Config:   cfg,
		Store:    store,
		Redis:    mr,
		Admin:    admin,
		Archive:  archive,
		Recorder: recorder,
		Shops:    shops,
		Popups:   popups,
		Products: products,
		Webhooks: webhooks,
	}
}

// Install records an installation for shop with the fake access token.
func (e *Env) Install(shop string) {
	e.T.Helper()
	_, err := e.Shops.Install(context.Background(), shop, AccessToken, "read_products,write_products")
	require.NoError(e.T, err)
}

// SessionToken issues a valid App Bridge token for shop.
func (e *Env) SessionToken(shop string) string {
	return shopifytest.SessionToken(APIKey, APISecret, shop, "42", time.Now(), time.Hour)
}

// InstalledToken installs shop and returns a session token for it.
func (e *Env) InstalledToken(shop string) string {
	e.Install(shop)
	return e.SessionToken(shop)
}

// PopupPayload returns a valid create/update body, overridden by fields.
func PopupPayload(fields map[string]any) map[string]any {
	payload := map[string]any{
		"title":             "Spring sale",
		"content":           "Take 10% off today",
		"status":            "active",
		"trigger":           "on_page_load",
		"duration":          5,
		"position":          "center",
		"animation":         "fade",
		"background_color":  "#ffffff",
		"text_color":        "#000000",
		"button_color":      "#ff6600",
		"button_text_color": "#FFFFFF",
		"cookie_duration":   24,
		"is_dismissable":    true,
		"show_close_button": true,
		"z_index":           1000,
	}
	for k, v := range fields {
		payload[k] = v
	}
	return payload
}

// PopupResult captures the popup fields asserted by tests.
type PopupResult struct {
	ID              string `json:"id"`
	Shop            string `json:"shop"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	BackgroundColor string `json:"background_color"`
	Metrics         struct {
		Impressions    int64   `json:"impressions"`
		Clicks         int64   `json:"clicks"`
		ConversionRate float64 `json:"conversion_rate"`
	} `json:"metrics"`
}

// CreatePopup creates a popup through the API and returns it.
func (e *Env) CreatePopup(token string, fields map[string]any) PopupResult {
	e.T.Helper()
	w := e.Request(http.MethodPost, "/api/popups", PopupPayload(fields), token)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var popup PopupResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &popup)
	require.NotEmpty(e.T, popup.ID)
	return popup
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON
// encoding and the session token automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader io.Reader
	if body != nil {
		switch v := body.(type) {
		case []byte:
			reader = bytes.NewReader(v)
		case string:
			reader = strings.NewReader(v)
		default:
			payload, err := json.Marshal(body)
			require.NoError(e.T, err)
			reader = bytes.NewReader(payload)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.Do(req)
}

// Do serves req and returns the recorded response.
func (e *Env) Do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Webhook delivers a signed webhook for topic. An empty signature is
// computed from body.
func (e *Env) Webhook(topicPath, shop, webhookID string, body []byte, signature string) *httptest.ResponseRecorder {
	e.T.Helper()
	if signature == "" {
		signature = shopifytest.SignWebhook(APISecret, body)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+strings.TrimPrefix(topicPath, "/"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Hmac-Sha256", signature)
	req.Header.Set("X-Shopify-Shop-Domain", shop)
	if webhookID != "" {
		req.Header.Set("X-Shopify-Webhook-Id", webhookID)
	}
	return e.Do(req)
}

// FakeAdmin stands in for the Shopify Admin API and OAuth token endpoint.
type FakeAdmin struct {
	URL string

	mu            sync.Mutex
	products      []shopify.Product
	subscriptions []string
	exchangeFails bool
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// NewFakeAdmin starts the fake server; it is closed when t finishes.
func NewFakeAdmin(t *testing.T) *FakeAdmin {
	t.Helper()
	admin := &FakeAdmin{}
	srv := httptest.NewServer(http.HandlerFunc(admin.serve))
	t.Cleanup(srv.Close)
	admin.URL = srv.URL
	return admin
}

// SetProducts replaces the catalogue returned by the products query.
func (a *FakeAdmin) SetProducts(products ...shopify.Product) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.products = append([]shopify.Product(nil), products...)
}

// FailExchange makes the token endpoint reject codes.
func (a *FakeAdmin) FailExchange() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchangeFails = true
}

// Subscriptions returns the callback URLs registered so far.
func (a *FakeAdmin) Subscriptions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.subscriptions...)
}

func (a *FakeAdmin) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/admin/oauth/access_token":
		if a.exchangeFails {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_request"}`)
			return
		}
		_, _ = fmt.Fprintf(w, `{"access_token":%q,"scope":"read_products,write_products"}`, AccessToken)
	case strings.HasSuffix(r.URL.Path, "/graphql.json"):
		if r.Header.Get("X-Shopify-Access-Token") != AccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"errors":"Invalid API key or access token"}`)
			return
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a.graphQL(w, req)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *FakeAdmin) graphQL(w http.ResponseWriter, req graphQLRequest) {
	if strings.HasPrefix(req.Query, "mutation webhookSubscriptionCreate") {
		sub, _ := req.Variables["webhookSubscription"].(map[string]any)
		callback, _ := sub["callbackUrl"].(string)
		a.subscriptions = append(a.subscriptions, callback)
		_, _ = fmt.Fprintf(w, `{"data":{"webhookSubscriptionCreate":{"webhookSubscription":{"id":"gid://shopify/WebhookSubscription/%d"},"userErrors":[]}}}`, len(a.subscriptions))
		return
	}

	type node struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Handle   string `json:"handle"`
		Variants struct {
			Edges []map[string]any `json:"edges"`
		} `json:"variants"`
	}
	edges := make([]map[string]any, 0, len(a.products))
	for _, p := range a.products {
		n := node{ID: p.ID, Title: p.Title, Handle: p.Handle}
		n.Variants.Edges = []map[string]any{{"node": map[string]any{"price": p.Price}}}
		edges = append(edges, map[string]any{"node": n})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{
			"shop": map[string]any{"currencyCode": "EUR"},
			"products": map[string]any{
				"pageInfo": map[string]any{"hasNextPage": false, "endCursor": ""},
				"edges":    edges,
			},
		},
	})
}
