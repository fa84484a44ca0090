package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/models"
	"github.com/charlesng35/popshop/pkg/crypto"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/metrics"
)

var (
	// ErrShopNotFound indicates the shop never installed the app.
	ErrShopNotFound = errors.New("shop service: shop not found")
	// ErrShopNotInstalled indicates the shop exists but has no usable token.
	ErrShopNotInstalled = errors.New("shop service: shop not installed")
)

// ShopService owns the install lifecycle and the encrypted Admin API tokens.
type ShopService struct {
	db     *gorm.DB
	sealer *crypto.Sealer
	cache  cache.Store
	now    func() time.Time
}

// NewShopService constructs a shop service. store may be nil.
func NewShopService(db *gorm.DB, sealer *crypto.Sealer, store cache.Store) (*ShopService, error) {
	if db == nil {
		return nil, errors.New("shop service: db is required")
	}
	if sealer == nil {
		return nil, errors.New("shop service: sealer is required")
	}
	return &ShopService{db: db, sealer: sealer, cache: store, now: time.Now}, nil
}

// Install records a completed OAuth grant, replacing any previous token.
func (s *ShopService) Install(ctx context.Context, domain, accessToken, scope string) (*models.Shop, error) {
	ctx = ensuredContext(ctx)
	domain = normaliseShop(domain)
	if domain == "" || accessToken == "" {
		return nil, errors.New("shop service: domain and access token are required")
	}

	sealed, err := s.sealer.Seal(accessToken)
	if err != nil {
		return nil, fmt.Errorf("shop service: seal token: %w", err)
	}
	now := s.now().UTC()

	shop := models.Shop{
		Domain:      domain,
		AccessToken: sealed,
		Scope:       scope,
		InstalledAt: &now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "scope", "installed_at", "uninstalled_at", "updated_at"}),
	}).Create(&shop).Error
	if err != nil {
		return nil, fmt.Errorf("shop service: install %s: %w", domain, err)
	}

	s.refreshGauge(ctx)
	logger.WithModule("shops").Info("shop installed", zap.String("shop", domain), zap.String("scope", scope))
	return s.Get(ctx, domain)
}

// Uninstall wipes the shop's token, drops its processed webhook history and
// cached responses, and marks it uninstalled. Popups are retained so a
// reinstall restores them.
func (s *ShopService) Uninstall(ctx context.Context, domain string) error {
	ctx = ensuredContext(ctx)
	domain = normaliseShop(domain)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Shop{}).Where("domain = ?", domain).Updates(map[string]any{
			"access_token":   "",
			"uninstalled_at": now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrShopNotFound
		}
		return tx.Where("shop = ? AND processed = ?", domain, true).Delete(&models.WebhookEvent{}).Error
	})
	if err != nil {
		if errors.Is(err, ErrShopNotFound) {
			return err
		}
		return fmt.Errorf("shop service: uninstall %s: %w", domain, err)
	}

	cache.InvalidateResponsePrefix(ctx, s.cache, cache.ScopedKey(domain, "/", nil))
	s.refreshGauge(ctx)
	logger.WithModule("shops").Info("shop uninstalled", zap.String("shop", domain))
	return nil
}

// Get loads a shop by domain.
func (s *ShopService) Get(ctx context.Context, domain string) (*models.Shop, error) {
	ctx = ensuredContext(ctx)
	var shop models.Shop
	if err := s.db.WithContext(ctx).Where("domain = ?", normaliseShop(domain)).First(&shop).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, fmt.Errorf("shop service: load shop: %w", err)
	}
	return &shop, nil
}

// IsInstalled reports whether domain has an active installation.
func (s *ShopService) IsInstalled(ctx context.Context, domain string) (bool, error) {
	shop, err := s.Get(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrShopNotFound) {
			return false, nil
		}
		return false, err
	}
	return shop.Installed(), nil
}

// AccessToken returns the decrypted Admin API token for domain.
func (s *ShopService) AccessToken(ctx context.Context, domain string) (string, error) {
	shop, err := s.Get(ctx, domain)
	if err != nil {
		return "", err
	}
	if !shop.Installed() {
		return "", ErrShopNotInstalled
	}

	token, err := s.sealer.Open(shop.AccessToken)
	if errors.Is(err, crypto.ErrNotSealed) {
		// Written before tokens were encrypted.
		return shop.AccessToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("shop service: open token for %s: %w", shop.Domain, err)
	}
	return token, nil
}

// InstalledDomains lists every shop with an active installation.
func (s *ShopService) InstalledDomains(ctx context.Context) ([]string, error) {
	ctx = ensuredContext(ctx)
	var domains []string
	err := s.db.WithContext(ctx).Model(&models.Shop{}).
		Where("uninstalled_at IS NULL AND access_token <> ''").
		Order("domain").
		Pluck("domain", &domains).Error
	if err != nil {
		return nil, fmt.Errorf("shop service: list installed shops: %w", err)
	}
	return domains, nil
}

func (s *ShopService) refreshGauge(ctx context.Context) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Shop{}).
		Where("uninstalled_at IS NULL AND access_token <> ''").
		Count(&count).Error
	if err == nil {
		metrics.InstalledShops.Set(float64(count))
	}
}
