package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/models"
	"github.com/charlesng35/popshop/internal/shopify"
)

func catalogue(n int) *fakeCatalogue {
	f := &fakeCatalogue{}
	for i := 1; i <= n; i++ {
		f.products = append(f.products, shopify.Product{
			ID:       shopify.ProductGID(fmt.Sprint(i)),
			Title:    fmt.Sprintf("Product %03d", i),
			Handle:   fmt.Sprintf("product-%d", i),
			Price:    "9.99",
			Currency: "EUR",
		})
	}
	return f
}

func TestProductSync_PaginatesUpToLimit(t *testing.T) {
	db := newTestDB(t)
	source := catalogue(25)
	svc, err := NewProductSyncService(db, source, staticTokens{testShop: "token"}, nil)
	require.NoError(t, err)

	n, err := svc.SyncProducts(context.Background(), testShop, SyncOptions{BatchSize: 10, MaxProducts: 22})
	require.NoError(t, err)
	require.Equal(t, 22, n)
	require.Equal(t, []int{10, 10, 2}, source.calls)

	var count int64
	require.NoError(t, db.Model(&models.Product{}).Count(&count).Error)
	require.EqualValues(t, 22, count)

	// A rerun updates rows in place.
	source.products[0].Title = "Renamed"
	n, err = svc.SyncProducts(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 25, n)
	require.NoError(t, db.Model(&models.Product{}).Count(&count).Error)
	require.EqualValues(t, 25, count)

	var first models.Product
	require.NoError(t, db.Where("shopify_id = ?", shopify.ProductGID("1")).First(&first).Error)
	require.Equal(t, "Renamed", first.Title)
	require.Equal(t, "EUR", first.Currency)
}

func TestProductSync_SkipsBadProducts(t *testing.T) {
	db := newTestDB(t)
	source := catalogue(3)
	source.products[1].ID = ""
	svc, err := NewProductSyncService(db, source, staticTokens{testShop: "token"}, nil)
	require.NoError(t, err)

	n, err := svc.SyncProducts(context.Background(), testShop, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestProductSync_Errors(t *testing.T) {
	db := newTestDB(t)
	source := catalogue(1)
	svc, err := NewProductSyncService(db, source, staticTokens{}, nil)
	require.NoError(t, err)

	_, err = svc.SyncProducts(context.Background(), testShop, SyncOptions{})
	require.ErrorIs(t, err, ErrShopNotInstalled)

	svc.tokens = staticTokens{testShop: "token"}
	source.err = errors.New("throttled")
	_, err = svc.SyncProducts(context.Background(), testShop, SyncOptions{})
	require.ErrorContains(t, err, "throttled")
}

func TestProductSync_SingleProductDeleteAndList(t *testing.T) {
	db := newTestDB(t)
	store := cache.NewDatabaseStore(db)
	svc, err := NewProductSyncService(db, catalogue(3), staticTokens{testShop: "token"}, store)
	require.NoError(t, err)
	ctx := context.Background()

	listKey := cache.ScopedKey(testShop, "/api/products", nil)
	seedResponse(t, store, listKey)

	p, err := svc.SyncProduct(ctx, testShop, "2")
	require.NoError(t, err)
	require.Equal(t, "Product 002", p.Title)
	require.False(t, cached(t, store, listKey))

	_, err = svc.SyncProduct(ctx, testShop, "99")
	require.ErrorIs(t, err, shopify.ErrProductNotFound)

	_, err = svc.Upsert(ctx, testShop, shopify.Product{ID: shopify.ProductGID("7"), Title: "Webhook product"})
	require.NoError(t, err)

	page, err := svc.List(ctx, testShop, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
	require.Equal(t, "Product 002", page.Items[0].Title)
	require.Equal(t, "0", page.Items[1].Price)
	require.Equal(t, "USD", page.Items[1].Currency)

	require.NoError(t, svc.Delete(ctx, testShop, "7"))
	require.NoError(t, svc.Delete(ctx, testShop, "7"), "deleting twice is fine")
	page, err = svc.List(ctx, testShop, 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
}
