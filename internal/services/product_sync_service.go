package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/models"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/metrics"
)

// Product sync limits.
const (
	DefaultSyncBatchSize   = 10
	DefaultSyncMaxProducts = 100
)

// ProductCachePaths are the cached API routes derived from product rows.
var ProductCachePaths = []string{"/api/products"}

// ProductSource reads products from the Admin API.
type ProductSource interface {
	Products(ctx context.Context, shop, accessToken string, first int, after string) (*shopify.ProductPage, error)
	Product(ctx context.Context, shop, accessToken, id string) (*shopify.Product, error)
}

// TokenSource resolves the Admin API token of an installed shop.
type TokenSource interface {
	AccessToken(ctx context.Context, shop string) (string, error)
}

// SyncOptions bounds a product sync run.
type SyncOptions struct {
	BatchSize   int
	MaxProducts int
}

func (o *SyncOptions) normalise() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultSyncBatchSize
	}
	if o.MaxProducts <= 0 {
		o.MaxProducts = DefaultSyncMaxProducts
	}
	if o.BatchSize > o.MaxProducts {
		o.BatchSize = o.MaxProducts
	}
}

// ProductSyncService mirrors storefront products into the local database.
type ProductSyncService struct {
	db     *gorm.DB
	source ProductSource
	tokens TokenSource
	cache  cache.Store
}

// NewProductSyncService constructs the service. store may be nil.
func NewProductSyncService(db *gorm.DB, source ProductSource, tokens TokenSource, store cache.Store) (*ProductSyncService, error) {
	if db == nil {
		return nil, errors.New("product sync: db is required")
	}
	if source == nil || tokens == nil {
		return nil, errors.New("product sync: product source and token source are required")
	}
	return &ProductSyncService{db: db, source: source, tokens: tokens, cache: store}, nil
}

// SyncProducts pages through the shop's catalogue, upserting up to
// MaxProducts rows. Products that fail to store are logged and skipped.
func (s *ProductSyncService) SyncProducts(ctx context.Context, shop string, opts SyncOptions) (int, error) {
	ctx = ensuredContext(ctx)
	opts.normalise()
	shop = normaliseShop(shop)
	log := logger.WithModule("products").With(zap.String("shop", shop))

	token, err := s.tokens.AccessToken(ctx, shop)
	if err != nil {
		return 0, fmt.Errorf("product sync: %w", err)
	}

	var (
		synced  int
		fetched int
		cursor  string
	)
	for fetched < opts.MaxProducts {
		first := opts.BatchSize
		if remaining := opts.MaxProducts - fetched; remaining < first {
			first = remaining
		}

		page, err := s.source.Products(ctx, shop, token, first, cursor)
		if err != nil {
			return synced, fmt.Errorf("product sync: fetch page: %w", err)
		}
		for _, p := range page.Products {
			fetched++
			if _, err := s.Upsert(ctx, shop, p); err != nil {
				metrics.ProductsSynced.WithLabelValues("failed").Inc()
				log.Warn("product skipped", zap.String("product_id", p.ID), zap.Error(err))
				continue
			}
			metrics.ProductsSynced.WithLabelValues("synced").Inc()
			synced++
		}
		if !page.HasNextPage || page.EndCursor == "" || len(page.Products) == 0 {
			break
		}
		cursor = page.EndCursor
	}

	cache.InvalidateShop(ctx, s.cache, shop, ProductCachePaths...)
	log.Info("product sync finished", zap.Int("synced", synced), zap.Int("fetched", fetched))
	return synced, nil
}

// SyncProduct fetches and stores a single product.
func (s *ProductSyncService) SyncProduct(ctx context.Context, shop, id string) (*models.Product, error) {
	ctx = ensuredContext(ctx)
	shop = normaliseShop(shop)

	token, err := s.tokens.AccessToken(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("product sync: %w", err)
	}
	p, err := s.source.Product(ctx, shop, token, id)
	if err != nil {
		return nil, fmt.Errorf("product sync: fetch %s: %w", id, err)
	}
	product, err := s.Upsert(ctx, shop, *p)
	if err != nil {
		return nil, err
	}
	cache.InvalidateShop(ctx, s.cache, shop, ProductCachePaths...)
	return product, nil
}

// Upsert stores p keyed by shop and Shopify id.
func (s *ProductSyncService) Upsert(ctx context.Context, shop string, p shopify.Product) (*models.Product, error) {
	ctx = ensuredContext(ctx)
	if strings.TrimSpace(p.ID) == "" {
		return nil, errors.New("product sync: product id is required")
	}

	row := models.Product{
		ShopDomain:  normaliseShop(shop),
		ShopifyID:   p.ID,
		Title:       p.Title,
		Description: p.Description,
		Handle:      p.Handle,
		ImageURL:    p.ImageURL,
		Price:       p.Price,
		Currency:    p.Currency,
	}
	if row.Price == "" {
		row.Price = "0"
	}
	if row.Currency == "" {
		row.Currency = "USD"
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_domain"}, {Name: "shopify_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "handle", "image_url", "price", "currency", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("product sync: store %s: %w", p.ID, err)
	}
	return &row, nil
}

// Delete removes a mirrored product. Missing rows are not an error.
func (s *ProductSyncService) Delete(ctx context.Context, shop, id string) error {
	ctx = ensuredContext(ctx)
	shop = normaliseShop(shop)
	err := s.db.WithContext(ctx).
		Where("shop_domain = ? AND shopify_id = ?", shop, shopify.ProductGID(id)).
		Delete(&models.Product{}).Error
	if err != nil {
		return fmt.Errorf("product sync: delete %s: %w", id, err)
	}
	cache.InvalidateShop(ctx, s.cache, shop, ProductCachePaths...)
	return nil
}

// ProductPage is one page of mirrored products.
type ProductPage struct {
	Items []models.Product
	Page  int
	Limit int
	Total int64
}

// List pages through the shop's mirrored products ordered by title.
func (s *ProductSyncService) List(ctx context.Context, shop string, page, limit int) (*ProductPage, error) {
	ctx = ensuredContext(ctx)
	page, limit = clampPage(page, limit)

	q := s.db.WithContext(ctx).Model(&models.Product{}).Where("shop_domain = ?", normaliseShop(shop))
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("product sync: count products: %w", err)
	}
	var items []models.Product
	if err := q.Order("title").Order("id").Offset((page - 1) * limit).Limit(limit).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("product sync: list products: %w", err)
	}
	return &ProductPage{Items: items, Page: page, Limit: limit, Total: total}, nil
}
