package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/models"
)

var (
	// ErrPopupNotFound indicates the popup does not exist or belongs to another shop.
	ErrPopupNotFound = errors.New("popup service: popup not found")
	// ErrInvalidMetricEvent indicates an unsupported metric type or non-positive value.
	ErrInvalidMetricEvent = errors.New("popup service: invalid metric event")
)

// PopupCachePaths are the cached API routes derived from popup rows.
var PopupCachePaths = []string{"/api/popups", "/api/metrics", "/api/dashboard"}

// Pagination defaults for list endpoints.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var popupSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
}

// PopupInput is the full set of merchant-editable popup fields.
type PopupInput struct {
	Title           string `json:"title" validate:"required,min=1,max=255"`
	Content         string `json:"content" validate:"max=10000"`
	Status          string `json:"status" validate:"required,oneof=active inactive draft archived"`
	Trigger         string `json:"trigger" validate:"required,oneof=on_page_load on_scroll on_click"`
	Duration        int    `json:"duration" validate:"min=1,max=60"`
	Position        string `json:"position" validate:"required,oneof=center top bottom left right"`
	Animation       string `json:"animation" validate:"required,oneof=fade slide bounce"`
	BackgroundColor string `json:"background_color" validate:"required,rgbhex"`
	TextColor       string `json:"text_color" validate:"required,rgbhex"`
	ButtonColor     string `json:"button_color" validate:"required,rgbhex"`
	ButtonTextColor string `json:"button_text_color" validate:"required,rgbhex"`
	CookieDuration  int    `json:"cookie_duration" validate:"min=1,max=720"`
	IsDismissable   *bool  `json:"is_dismissable" validate:"required"`
	ShowCloseButton *bool  `json:"show_close_button" validate:"required"`
	ZIndex          int    `json:"z_index" validate:"min=1000,max=9999"`
}

func (in PopupInput) apply(p *models.Popup) {
	p.Title = in.Title
	p.Content = in.Content
	p.Status = in.Status
	p.Trigger = in.Trigger
	p.Duration = in.Duration
	p.Position = in.Position
	p.Animation = in.Animation
	p.BackgroundColor = in.BackgroundColor
	p.TextColor = in.TextColor
	p.ButtonColor = in.ButtonColor
	p.ButtonTextColor = in.ButtonTextColor
	p.CookieDuration = in.CookieDuration
	p.IsDismissable = in.IsDismissable != nil && *in.IsDismissable
	p.ShowCloseButton = in.ShowCloseButton != nil && *in.ShowCloseButton
	p.ZIndex = in.ZIndex
	p.Normalise()
}

// ListPopupsOptions filters and pages popup listings.
type ListPopupsOptions struct {
	Page   int
	Limit  int
	Status string
	Search string
	Sort   string
	Order  string
}

func (o *ListPopupsOptions) normalise() {
	o.Page, o.Limit = clampPage(o.Page, o.Limit)
	if _, ok := popupSortColumns[o.Sort]; !ok {
		o.Sort = "created_at"
	}
	o.Order = strings.ToLower(o.Order)
	if o.Order != "asc" {
		o.Order = "desc"
	}
	o.Status = strings.ToLower(strings.TrimSpace(o.Status))
	o.Search = strings.TrimSpace(o.Search)
}

// PopupPage is one page of a popup listing.
type PopupPage struct {
	Items []models.Popup
	Page  int
	Limit int
	Total int64
}

// MetricsQuery narrows the analytics summary.
type MetricsQuery struct {
	Start  *time.Time
	End    *time.Time
	Status string
}

// PopupMetricsRow is the per-popup line of a metrics summary.
type PopupMetricsRow struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Status    string              `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	Metrics   models.PopupMetrics `json:"metrics"`
}

// MetricsSummary aggregates popup counters.
type MetricsSummary struct {
	TotalImpressions int64             `json:"total_impressions"`
	TotalClicks      int64             `json:"total_clicks"`
	ConversionRate   float64           `json:"conversion_rate"`
	ByPopup          []PopupMetricsRow `json:"by_popup"`
}

// Dashboard is the admin home overview.
type Dashboard struct {
	TotalPopups    int64   `json:"total_popups"`
	ActivePopups   int64   `json:"active_popups"`
	TotalViews     int64   `json:"total_views"`
	TotalClicks    int64   `json:"total_clicks"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Metric event types accepted by RecordEvent.
const (
	MetricImpression = "impression"
	MetricClick      = "click"
)

// PopupService manages popups and their counters. Every mutation clears the
// shop's cached popup responses.
type PopupService struct {
	db    *gorm.DB
	cache cache.Store
	now   func() time.Time
}

// NewPopupService constructs a popup service. store may be nil when response
// caching is disabled.
func NewPopupService(db *gorm.DB, store cache.Store) (*PopupService, error) {
	if db == nil {
		return nil, errors.New("popup service: db is required")
	}
	return &PopupService{db: db, cache: store, now: time.Now}, nil
}

func (s *PopupService) invalidate(ctx context.Context, shop string) {
	cache.InvalidateShop(ctx, s.cache, shop, PopupCachePaths...)
}

// List returns one page of the shop's popups.
func (s *PopupService) List(ctx context.Context, shop string, opts ListPopupsOptions) (*PopupPage, error) {
	ctx = ensuredContext(ctx)
	opts.normalise()

	q := s.db.WithContext(ctx).Model(&models.Popup{}).Where("shop_domain = ?", shop)
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(opts.Search)) + "%"
		q = q.Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(content) LIKE ? ESCAPE '!')", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("popup service: count popups: %w", err)
	}

	var items []models.Popup
	err := q.Order(popupSortColumns[opts.Sort] + " " + opts.Order).
		Order("id").
		Offset((opts.Page - 1) * opts.Limit).
		Limit(opts.Limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("popup service: list popups: %w", err)
	}

	return &PopupPage{Items: items, Page: opts.Page, Limit: opts.Limit, Total: total}, nil
}

// Get loads a popup owned by shop.
func (s *PopupService) Get(ctx context.Context, shop, id string) (*models.Popup, error) {
	ctx = ensuredContext(ctx)
	var popup models.Popup
	err := s.db.WithContext(ctx).
		Where("id = ? AND shop_domain = ?", strings.TrimSpace(id), shop).
		First(&popup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPopupNotFound
		}
		return nil, fmt.Errorf("popup service: load popup: %w", err)
	}
	return &popup, nil
}

// Create stores a new popup with zeroed metrics.
func (s *PopupService) Create(ctx context.Context, shop string, input PopupInput) (*models.Popup, error) {
	ctx = ensuredContext(ctx)
	now := s.now().UTC()

	popup := models.Popup{ShopDomain: shop}
	input.apply(&popup)
	popup.Metrics = models.PopupMetrics{LastUpdated: &now}

	if err := s.db.WithContext(ctx).Create(&popup).Error; err != nil {
		return nil, fmt.Errorf("popup service: create popup: %w", err)
	}
	s.invalidate(ctx, shop)
	return &popup, nil
}

// Update replaces the editable fields of a popup, keeping its counters.
func (s *PopupService) Update(ctx context.Context, shop, id string, input PopupInput) (*models.Popup, error) {
	ctx = ensuredContext(ctx)

	var popup models.Popup
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND shop_domain = ?", id, shop).First(&popup).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPopupNotFound
			}
			return err
		}
		metrics := popup.Metrics
		input.apply(&popup)
		now := s.now().UTC()
		metrics.LastUpdated = &now
		popup.Metrics = metrics
		return tx.Save(&popup).Error
	})
	if err != nil {
		if errors.Is(err, ErrPopupNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("popup service: update popup: %w", err)
	}
	s.invalidate(ctx, shop)
	return &popup, nil
}

// Delete removes a popup and returns the deleted row.
func (s *PopupService) Delete(ctx context.Context, shop, id string) (*models.Popup, error) {
	ctx = ensuredContext(ctx)
	popup, err := s.Get(ctx, shop, id)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Where("id = ? AND shop_domain = ?", popup.ID, shop).Delete(&models.Popup{})
	if res.Error != nil {
		return nil, fmt.Errorf("popup service: delete popup: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrPopupNotFound
	}
	s.invalidate(ctx, shop)
	return popup, nil
}

// Active returns the shop's active popups, highest z-index first.
func (s *PopupService) Active(ctx context.Context, shop string) ([]models.Popup, error) {
	ctx = ensuredContext(ctx)
	var popups []models.Popup
	err := s.db.WithContext(ctx).
		Where("shop_domain = ? AND status = ?", shop, models.PopupStatusActive).
		Order("z_index DESC").
		Order("updated_at DESC").
		Find(&popups).Error
	if err != nil {
		return nil, fmt.Errorf("popup service: list active popups: %w", err)
	}
	return popups, nil
}

// RecordEvent increments the impression or click counter by value and
// recomputes the conversion rate in the same transaction.
func (s *PopupService) RecordEvent(ctx context.Context, shop, id, kind string, value int64) (*models.Popup, error) {
	ctx = ensuredContext(ctx)

	var column string
	switch kind {
	case MetricImpression:
		column = "metrics_impressions"
	case MetricClick:
		column = "metrics_clicks"
	default:
		return nil, ErrInvalidMetricEvent
	}
	if value <= 0 {
		return nil, ErrInvalidMetricEvent
	}

	var popup models.Popup
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		res := tx.Model(&models.Popup{}).
			Where("id = ? AND shop_domain = ?", id, shop).
			Updates(map[string]any{
				column:                 gorm.Expr(column+" + ?", value),
				"metrics_last_updated": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPopupNotFound
		}

		if err := tx.Where("id = ?", id).First(&popup).Error; err != nil {
			return err
		}
		popup.Metrics.Recalculate()
		return tx.Model(&models.Popup{}).
			Where("id = ?", id).
			UpdateColumn("metrics_conversion_rate", popup.Metrics.ConversionRate).Error
	})
	if err != nil {
		if errors.Is(err, ErrPopupNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("popup service: record %s: %w", kind, err)
	}
	s.invalidate(ctx, shop)
	return &popup, nil
}

// MetricsSummary totals the counters of the shop's popups matching q. Both
// date bounds filter on creation time.
func (s *PopupService) MetricsSummary(ctx context.Context, shop string, q MetricsQuery) (*MetricsSummary, error) {
	ctx = ensuredContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Popup{}).Where("shop_domain = ?", shop)
	if q.Start != nil {
		query = query.Where("created_at >= ?", q.Start.UTC())
	}
	if q.End != nil {
		query = query.Where("created_at <= ?", q.End.UTC())
	}
	if status := strings.ToLower(strings.TrimSpace(q.Status)); status != "" {
		query = query.Where("status = ?", status)
	}

	var popups []models.Popup
	if err := query.Order("created_at DESC").Find(&popups).Error; err != nil {
		return nil, fmt.Errorf("popup service: load metrics: %w", err)
	}

	summary := &MetricsSummary{ByPopup: make([]PopupMetricsRow, 0, len(popups))}
	for _, p := range popups {
		summary.TotalImpressions += p.Metrics.Impressions
		summary.TotalClicks += p.Metrics.Clicks
		summary.ByPopup = append(summary.ByPopup, PopupMetricsRow{
			ID:        p.ID,
			Title:     p.Title,
			Status:    p.Status,
			CreatedAt: p.CreatedAt,
			Metrics:   p.Metrics,
		})
	}
	summary.ConversionRate = models.ConversionRate(summary.TotalClicks, summary.TotalImpressions)
	return summary, nil
}

// Dashboard aggregates the shop's popup counts and counters.
func (s *PopupService) Dashboard(ctx context.Context, shop string) (*Dashboard, error) {
	ctx = ensuredContext(ctx)

	var row struct {
		Total       int64
		Active      int64
		Impressions int64
		Clicks      int64
	}
	err := s.db.WithContext(ctx).Model(&models.Popup{}).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active, "+
				"COALESCE(SUM(metrics_impressions), 0) AS impressions, "+
				"COALESCE(SUM(metrics_clicks), 0) AS clicks",
			models.PopupStatusActive,
		).
		Where("shop_domain = ?", shop).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("popup service: dashboard: %w", err)
	}

	return &Dashboard{
		TotalPopups:    row.Total,
		ActivePopups:   row.Active,
		TotalViews:     row.Impressions,
		TotalClicks:    row.Clicks,
		ConversionRate: models.ConversionRate(row.Clicks, row.Impressions),
	}, nil
}
