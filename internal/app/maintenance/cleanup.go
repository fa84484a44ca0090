package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/monitoring"
	"github.com/charlesng35/popshop/internal/services"
	"github.com/charlesng35/popshop/pkg/logger"
)

const (
	defaultWebhookRetention = 30 * 24 * time.Hour
	defaultWebhookSpec      = "@daily"
	defaultCacheSpec        = "*/15 * * * *"
	defaultSyncSpec         = "0 2 * * *"
)

// WebhookPurger removes processed webhook events received before cutoff.
type WebhookPurger interface {
	PurgeProcessed(ctx context.Context, cutoff time.Time) (int64, error)
}

// CachePurger removes expired rows of a database-backed cache.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ShopLister enumerates the shops with a live installation.
type ShopLister interface {
	InstalledDomains(ctx context.Context) ([]string, error)
}

// ProductSyncer pulls a shop's catalogue from the Admin API.
type ProductSyncer interface {
	SyncProducts(ctx context.Context, shop string, opts services.SyncOptions) (int, error)
}

// Cleaner coordinates background maintenance: pruning processed webhook events,
// purging expired cache rows and the optional nightly product sync.
type Cleaner struct {
	webhooks  WebhookPurger
	cache     CachePurger
	shops     ShopLister
	products  ProductSyncer
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration
	syncOpts  services.SyncOptions
	tracker   *monitoring.JobTracker

	webhookSchedule string
	cacheSchedule   string
	syncSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention cut-offs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTracker records every job run on tracker for health reporting.
func WithTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.tracker = tracker
	}
}

// WithWebhookRetention adjusts how long processed webhook events are kept.
func WithWebhookRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithWebhookSchedule overrides the cron specification for webhook pruning.
func WithWebhookSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.webhookSchedule = spec
		}
	}
}

// WithCachePurge enables purging of expired database cache rows.
func WithCachePurge(purger CachePurger, spec string) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = purger
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithProductSync enables the scheduled catalogue sync for every installed shop.
func WithProductSync(shops ShopLister, products ProductSyncer, spec string, opts services.SyncOptions) Option {
	return func(cleaner *Cleaner) {
		cleaner.shops = shops
		cleaner.products = products
		cleaner.syncOpts = opts
		if spec != "" {
			cleaner.syncSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(webhooks WebhookPurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		webhooks:        webhooks,
		now:             time.Now,
		retention:       defaultWebhookRetention,
		webhookSchedule: defaultWebhookSpec,
		cacheSchedule:   defaultCacheSpec,
		syncSchedule:    defaultSyncSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.webhooks != nil || c.cache != nil || c.syncEnabled()
}

func (c *Cleaner) syncEnabled() bool {
	return c.shops != nil && c.products != nil
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.webhooks != nil {
		if _, err := c.cron.AddFunc(c.webhookSchedule, func() {
			if err := c.runWebhookCleanup(context.Background()); err != nil {
				c.log.Warn("webhook cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule webhook cleanup: %w", err)
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if err := c.runCachePurge(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule cache purge: %w", err)
		}
	}

	if c.syncEnabled() {
		if _, err := c.cron.AddFunc(c.syncSchedule, func() {
			if err := c.runProductSync(context.Background()); err != nil {
				c.log.Warn("product sync failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule product sync: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// PurgeWebhooks deletes processed webhook events older than the retention window.
func (c *Cleaner) PurgeWebhooks(ctx context.Context) (int64, error) {
	if c.webhooks == nil {
		return 0, errors.New("purge webhooks: purger is required")
	}
	removed, err := c.webhooks.PurgeProcessed(ctx, c.now().Add(-c.retention))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Info("pruned webhook events", zap.Int64("removed", removed))
	}
	return removed, nil
}

// SyncAll syncs the catalogue of every installed shop. A failing shop does not
// stop the others.
func (c *Cleaner) SyncAll(ctx context.Context) error {
	if !c.syncEnabled() {
		return errors.New("product sync: not configured")
	}
	shops, err := c.shops.InstalledDomains(ctx)
	if err != nil {
		return fmt.Errorf("product sync: list shops: %w", err)
	}

	var errs error
	for _, shop := range shops {
		synced, err := c.products.SyncProducts(ctx, shop, c.syncOpts)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("product sync %s: %w", shop, err))
			continue
		}
		c.log.Info("products synced", zap.String("shop", shop), zap.Int("synced", synced))
	}
	return errs
}

// RunOnce executes all configured jobs sequentially. Used by the CLI and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.webhooks != nil {
		errs = multierr.Append(errs, c.runWebhookCleanup(ctx))
	}
	if c.cache != nil {
		errs = multierr.Append(errs, c.runCachePurge(ctx))
	}
	if c.syncEnabled() {
		errs = multierr.Append(errs, c.runProductSync(ctx))
	}

	return errs
}

func (c *Cleaner) runWebhookCleanup(ctx context.Context) error {
	return c.track("webhook_cleanup", func() error {
		_, err := c.PurgeWebhooks(ctx)
		return err
	})
}

func (c *Cleaner) runCachePurge(ctx context.Context) error {
	return c.track("cache_purge", func() error {
		_, err := c.cache.PurgeExpired(ctx)
		return err
	})
}

func (c *Cleaner) runProductSync(ctx context.Context) error {
	return c.track("product_sync", func() error {
		return c.SyncAll(ctx)
	})
}

func (c *Cleaner) track(job string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.tracker.Record(job, err, time.Since(start))
	return err
}
