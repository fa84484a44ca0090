package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/popshop/internal/handlers/testutil"
	"github.com/charlesng35/popshop/internal/shopify"
)

type productResult struct {
	ShopifyID string `json:"shopify_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
}

func TestProductSyncAndList(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.InstalledToken(testutil.Shop)
	env.Admin.SetProducts(
		shopify.Product{ID: shopify.ProductGID("1"), Title: "Hat", Handle: "hat", Price: "19.99"},
		shopify.Product{ID: shopify.ProductGID("2"), Title: "Scarf", Handle: "scarf", Price: "25.00"},
	)

	w := env.Request(http.MethodGet, "/api/products", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.EqualValues(t, 0, testutil.DecodeResponse(t, w).Meta.Total)

	w = env.Request(http.MethodPost, "/api/products/sync", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var synced struct {
		Synced int `json:"synced"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &synced)
	require.Equal(t, 2, synced.Synced)

	// The sync cleared the cached empty listing.
	w = env.Request(http.MethodGet, "/api/products?limit=1", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "MISS", w.Header().Get("X-Cache"))
	resp := testutil.DecodeResponse(t, w)
	require.EqualValues(t, 2, resp.Meta.Total)
	require.Equal(t, 2, resp.Meta.TotalPages)
	var products []productResult
	testutil.DecodeInto(t, resp.Data, &products)
	require.Len(t, products, 1)
	require.Equal(t, "EUR", products[0].Currency)
}

func TestProductSyncRequiresInstalledShop(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.InstalledToken(testutil.Shop)

	// A token minted before uninstall no longer reaches the sync.
	require.NoError(t, env.Shops.Uninstall(context.Background(), testutil.Shop))

	w := env.Request(http.MethodPost, "/api/products/sync", nil, token)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "App is not installed for this shop", resp.Error.Message)
}
