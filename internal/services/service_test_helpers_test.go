package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/database/testutil"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/pkg/crypto"
)

const testShop = "demo.myshopify.com"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func newTestSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	sealer, err := crypto.NewSealer([]byte("test-api-secret"), "shop-token")
	require.NoError(t, err)
	return sealer
}

func boolPtr(v bool) *bool { return &v }

func samplePopupInput(title string) PopupInput {
	return PopupInput{
		Title:           title,
		Content:         "Sign up for 10% off",
		Status:          "active",
		Trigger:         "on_page_load",
		Duration:        10,
		Position:        "center",
		Animation:       "fade",
		BackgroundColor: "#ffffff",
		TextColor:       "#000000",
		ButtonColor:     "#FF0000",
		ButtonTextColor: "#FFFFFF",
		CookieDuration:  24,
		IsDismissable:   boolPtr(true),
		ShowCloseButton: boolPtr(false),
		ZIndex:          1000,
	}
}

// seedResponse writes a cached body+meta pair the way the cache middleware does.
func seedResponse(t *testing.T, store cache.Store, key string) {
	t.Helper()
	body, meta := cache.ResponseKeys(key)
	require.NoError(t, store.SetMulti(context.Background(), map[string][]byte{
		body: []byte(`{"success":true}`),
		meta: []byte(`{"timestamp":0,"ttl":300}`),
	}, 0))
}

func cached(t *testing.T, store cache.Store, key string) bool {
	t.Helper()
	body, _ := cache.ResponseKeys(key)
	_, ok, err := store.Get(context.Background(), body)
	require.NoError(t, err)
	return ok
}

type staticTokens map[string]string

func (s staticTokens) AccessToken(_ context.Context, shop string) (string, error) {
	token, ok := s[shop]
	if !ok {
		return "", ErrShopNotInstalled
	}
	return token, nil
}

type fakeCatalogue struct {
	mu       sync.Mutex
	products []shopify.Product
	calls    []int
	err      error
}

func (f *fakeCatalogue) Products(_ context.Context, _, token string, first int, after string) (*shopify.ProductPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, first)

	start := 0
	if after != "" {
		for i, p := range f.products {
			if p.ID == after {
				start = i + 1
			}
		}
	}
	end := start + first
	if end > len(f.products) {
		end = len(f.products)
	}
	page := &shopify.ProductPage{Products: append([]shopify.Product(nil), f.products[start:end]...)}
	if end < len(f.products) {
		page.HasNextPage = true
		page.EndCursor = f.products[end-1].ID
	}
	return page, nil
}

func (f *fakeCatalogue) Product(_ context.Context, _, _, id string) (*shopify.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ID == shopify.ProductGID(id) {
			cp := p
			return &cp, nil
		}
	}
	return nil, shopify.ErrProductNotFound
}
