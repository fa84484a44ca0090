package shopify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/internal/shopify/shopifytest"
)

const (
	apiKey    = "test-api-key"
	apiSecret = "test-api-secret"
	shop      = "demo.myshopify.com"
)

func TestNormalizeShopDomain(t *testing.T) {
	got, err := shopify.NormalizeShopDomain(" https://Demo.myshopify.com/admin ")
	require.NoError(t, err)
	require.Equal(t, shop, got)

	_, err = shopify.NormalizeShopDomain("demo.example.com")
	require.ErrorIs(t, err, shopify.ErrInvalidShop)
}

func TestWebhookHMAC(t *testing.T) {
	body := []byte(`{"id":1}`)
	sig := shopifytest.SignWebhook(apiSecret, body)

	require.True(t, shopify.VerifyWebhookHMAC(apiSecret, body, sig))
	require.False(t, shopify.VerifyWebhookHMAC(apiSecret, []byte(`{"id":2}`), sig))
	require.False(t, shopify.VerifyWebhookHMAC("other", body, sig))
	require.False(t, shopify.VerifyWebhookHMAC(apiSecret, body, "not-base64!"))
	require.False(t, shopify.VerifyWebhookHMAC(apiSecret, body, ""))
}

func TestQueryHMAC(t *testing.T) {
	q := shopifytest.SignQuery(apiSecret, url.Values{"shop": {shop}, "code": {"abc"}, "timestamp": {"1700000000"}})
	require.True(t, shopify.VerifyQueryHMAC(apiSecret, q))

	q.Set("shop", "evil.myshopify.com")
	require.False(t, shopify.VerifyQueryHMAC(apiSecret, q))
	require.False(t, shopify.VerifyQueryHMAC(apiSecret, url.Values{"shop": {shop}}))
}

func TestSessionTokenVerifier(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := shopify.NewSessionTokenVerifier(shopify.Config{APIKey: apiKey, APISecret: apiSecret}, func() time.Time { return now })
	require.NoError(t, err)

	claims, err := verifier.Verify(shopifytest.SessionToken(apiKey, apiSecret, shop, "42", now, time.Minute))
	require.NoError(t, err)
	require.Equal(t, shop, claims.Shop())
	require.Equal(t, "42", claims.Subject)

	cases := map[string]string{
		"expired":      shopifytest.SessionToken(apiKey, apiSecret, shop, "42", now.Add(-time.Hour), time.Minute),
		"wrong secret": shopifytest.SessionToken(apiKey, "nope", shop, "42", now, time.Minute),
		"wrong aud":    shopifytest.SessionToken("other-key", apiSecret, shop, "42", now, time.Minute),
		"bad dest":     shopifytest.SessionToken(apiKey, apiSecret, "demo.example.com", "42", now, time.Minute),
		"empty":        "",
	}
	for name, token := range cases {
		_, err := verifier.Verify(token)
		require.Error(t, err, name)
	}

	_, err = shopify.NewSessionTokenVerifier(shopify.Config{}, nil)
	require.Error(t, err)
}

func TestOAuthFlow(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/oauth/access_token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, apiKey, r.PostForm.Get("client_id"))
		require.Equal(t, apiSecret, r.PostForm.Get("client_secret"))
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"shpat_123","scope":"read_products,write_products"}`)
	}))
	defer srv.Close()

	oauth, err := shopify.NewOAuth(shopify.Config{
		APIKey:       apiKey,
		APISecret:    apiSecret,
		AppURL:       "https://popshop.example.com/",
		Scopes:       []string{"read_products", "write_products"},
		AdminBaseURL: srv.URL,
	}, func() time.Time { return now })
	require.NoError(t, err)

	authURL, err := oauth.AuthorizeURL(shop, "nonce-1")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "/admin/oauth/authorize", parsed.Path)
	require.Equal(t, "read_products,write_products", parsed.Query().Get("scope"))
	require.Equal(t, "nonce-1", parsed.Query().Get("state"))
	require.Equal(t, "https://popshop.example.com/auth/callback", parsed.Query().Get("redirect_uri"))

	query := shopifytest.SignQuery(apiSecret, url.Values{
		"shop":      {shop},
		"code":      {"the-code"},
		"state":     {"nonce-1"},
		"timestamp": {strconv.FormatInt(now.Unix(), 10)},
	})
	got, err := oauth.VerifyCallback(query)
	require.NoError(t, err)
	require.Equal(t, shop, got)

	stale := shopifytest.SignQuery(apiSecret, url.Values{
		"shop":      {shop},
		"code":      {"the-code"},
		"timestamp": {strconv.FormatInt(now.Add(-2*time.Hour).Unix(), 10)},
	})
	_, err = oauth.VerifyCallback(stale)
	require.Error(t, err)

	undated := shopifytest.SignQuery(apiSecret, url.Values{
		"shop": {shop},
		"code": {"the-code"},
	})
	_, err = oauth.VerifyCallback(undated)
	require.ErrorContains(t, err, "timestamp missing")

	query.Set("hmac", "00")
	_, err = oauth.VerifyCallback(query)
	require.ErrorIs(t, err, shopify.ErrInvalidHMAC)

	grant, err := oauth.Exchange(context.Background(), shop, "the-code")
	require.NoError(t, err)
	require.Equal(t, "shpat_123", grant.AccessToken)
	require.Equal(t, "read_products,write_products", grant.Scope)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newGraphQLServer(t *testing.T, handler func(req graphQLRequest) string) *shopify.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/api/"+shopify.DefaultAPIVersion+"/graphql.json", r.URL.Path)
		require.Equal(t, "shpat_123", r.Header.Get("X-Shopify-Access-Token"))
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, handler(req))
	}))
	t.Cleanup(srv.Close)
	return shopify.NewClient(shopify.Config{AdminBaseURL: srv.URL})
}

func TestClientProductsPagination(t *testing.T) {
	client := newGraphQLServer(t, func(req graphQLRequest) string {
		require.Contains(t, req.Query, "products(first: $first, after: $after)")
		if req.Variables["after"] == nil {
			return `{"data":{"shop":{"currencyCode":"EUR"},"products":{"pageInfo":{"hasNextPage":true,"endCursor":"c1"},
				"edges":[{"node":{"id":"gid://shopify/Product/1","title":"Hat","description":"Warm","handle":"hat",
				"featuredImage":{"url":"https://cdn/hat.png"},"variants":{"edges":[{"node":{"price":"19.99"}}]}}}]}}}`
		}
		require.Equal(t, "c1", req.Variables["after"])
		return `{"data":{"shop":{"currencyCode":""},"products":{"pageInfo":{"hasNextPage":false,"endCursor":""},
			"edges":[{"node":{"id":"gid://shopify/Product/2","title":"Scarf","handle":"scarf","variants":{"edges":[]}}}]}}}`
	})

	page, err := client.Products(context.Background(), shop, "shpat_123", 10, "")
	require.NoError(t, err)
	require.True(t, page.HasNextPage)
	require.Equal(t, "c1", page.EndCursor)
	require.Equal(t, shopify.Product{
		ID: "gid://shopify/Product/1", Title: "Hat", Description: "Warm", Handle: "hat",
		ImageURL: "https://cdn/hat.png", Price: "19.99", Currency: "EUR",
	}, page.Products[0])

	page, err = client.Products(context.Background(), shop, "shpat_123", 10, "c1")
	require.NoError(t, err)
	require.False(t, page.HasNextPage)
	require.Equal(t, "0", page.Products[0].Price)
	require.Equal(t, "USD", page.Products[0].Currency)
}

func TestClientProductAndErrors(t *testing.T) {
	client := newGraphQLServer(t, func(req graphQLRequest) string {
		switch req.Variables["id"] {
		case "gid://shopify/Product/7":
			return `{"data":{"shop":{"currencyCode":"CAD"},"product":{"id":"gid://shopify/Product/7","title":"Mug","variants":{"edges":[{"node":{"price":"5.00"}}]}}}}`
		case "gid://shopify/Product/8":
			return `{"data":{"shop":{"currencyCode":"CAD"},"product":null}}`
		case "gid://shopify/Product/9":
			return `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`
		default:
			return `{"errors":[{"message":"boom"}]}`
		}
	})
	ctx := context.Background()

	p, err := client.Product(ctx, shop, "shpat_123", "7")
	require.NoError(t, err)
	require.Equal(t, "Mug", p.Title)
	require.Equal(t, "CAD", p.Currency)

	_, err = client.Product(ctx, shop, "shpat_123", "8")
	require.ErrorIs(t, err, shopify.ErrProductNotFound)

	_, err = client.Product(ctx, shop, "shpat_123", "9")
	require.ErrorIs(t, err, shopify.ErrThrottled)

	_, err = client.Product(ctx, shop, "shpat_123", "10")
	var gqlErr shopify.GraphQLErrors
	require.ErrorAs(t, err, &gqlErr)
	require.Contains(t, err.Error(), "boom")

	_, err = client.Product(ctx, "bad-shop", "shpat_123", "7")
	require.ErrorIs(t, err, shopify.ErrInvalidShop)
}

func TestCreateWebhookSubscription(t *testing.T) {
	client := newGraphQLServer(t, func(req graphQLRequest) string {
		require.True(t, strings.HasPrefix(req.Query, "mutation webhookSubscriptionCreate"))
		sub := req.Variables["webhookSubscription"].(map[string]any)
		if req.Variables["topic"] == shopify.TopicOrdersCreate {
			return `{"data":{"webhookSubscriptionCreate":{"webhookSubscription":null,"userErrors":[{"field":["topic"],"message":"Address for this topic has already been taken"}]}}}`
		}
		require.Equal(t, "https://popshop.example.com/webhooks/products-create", sub["callbackUrl"])
		return `{"data":{"webhookSubscriptionCreate":{"webhookSubscription":{"id":"gid://shopify/WebhookSubscription/1"},"userErrors":[]}}}`
	})

	id, err := client.CreateWebhookSubscription(context.Background(), shop, "shpat_123",
		shopify.TopicProductsCreate, "https://popshop.example.com"+shopify.CallbackPath(shopify.TopicProductsCreate))
	require.NoError(t, err)
	require.Equal(t, "gid://shopify/WebhookSubscription/1", id)

	_, err = client.CreateWebhookSubscription(context.Background(), shop, "shpat_123",
		shopify.TopicOrdersCreate, "https://popshop.example.com/webhooks/orders-create")
	require.ErrorContains(t, err, "already been taken")
}

func TestTopicHelpers(t *testing.T) {
	require.Equal(t, "PRODUCTS_CREATE", shopify.TopicFromPath("/products/create"))
	require.Equal(t, "ORDERS_UPDATED", shopify.TopicFromPath("orders-updated"))
	require.Equal(t, "", shopify.TopicFromPath("/"))
	require.Equal(t, "/webhooks/app-uninstalled", shopify.CallbackPath(shopify.TopicAppUninstalled))
	require.Equal(t, "gid://shopify/Product/5", shopify.ProductGID("5"))
	require.Equal(t, "gid://shopify/Product/5", shopify.ProductGID("gid://shopify/Product/5"))
}

func TestProductFromWebhook(t *testing.T) {
	p, err := shopify.ProductFromWebhook([]byte(`{
		"id": 788032119674292900,
		"admin_graphql_api_id": "gid://shopify/Product/788032119674292900",
		"title": "Example T-Shirt",
		"body_html": "<p>Soft cotton</p>",
		"handle": "example-t-shirt",
		"image": {"src": "https://cdn.shopify.com/tee.png"},
		"variants": [{"price": "19.99"}, {"price": "21.00"}]
	}`))
	require.NoError(t, err)
	require.Equal(t, "gid://shopify/Product/788032119674292900", p.ID)
	require.Equal(t, "Example T-Shirt", p.Title)
	require.Equal(t, "<p>Soft cotton</p>", p.Description)
	require.Equal(t, "https://cdn.shopify.com/tee.png", p.ImageURL)
	require.Equal(t, "19.99", p.Price)
	require.Equal(t, "USD", p.Currency)

	deleted, err := shopify.ProductFromWebhook([]byte(`{"id": 42}`))
	require.NoError(t, err)
	require.Equal(t, "gid://shopify/Product/42", deleted.ID)
	require.Equal(t, "0", deleted.Price)

	_, err = shopify.ProductFromWebhook([]byte(`{"title": "no id"}`))
	require.Error(t, err)
	_, err = shopify.ProductFromWebhook([]byte(`not json`))
	require.Error(t, err)
}
