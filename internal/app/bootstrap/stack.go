// Package bootstrap assembles the long-lived services shared by the HTTP
// server and the operational CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/popshop/internal/api"
	"github.com/charlesng35/popshop/internal/app"
	"github.com/charlesng35/popshop/internal/app/maintenance"
	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/internal/database"
	"github.com/charlesng35/popshop/internal/monitoring"
	"github.com/charlesng35/popshop/internal/monitoring/checks"
	"github.com/charlesng35/popshop/internal/perf"
	"github.com/charlesng35/popshop/internal/services"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/internal/storage"
	"github.com/charlesng35/popshop/pkg/crypto"
	"github.com/charlesng35/popshop/pkg/logger"
)

const (
	tokenSealPurpose     = "shop-token"
	maintenanceStaleness = 36 * time.Hour
	healthProbeTimeout   = 3 * time.Second
)

// Stack bundles the database, cache and domain services.
type Stack struct {
	Config *app.Config

	DB    *gorm.DB
	Redis *redis.Client
	// Store is Redis when reachable, otherwise the database-backed store.
	Store         cache.Store
	CacheBackend  string
	CacheFallback bool

	Recorder perf.Recorder
	Archiver storage.Archiver
	Admin    *shopify.Client

	Shops    *services.ShopService
	Popups   *services.PopupService
	Products *services.ProductSyncService
	Webhooks *services.WebhookService

	Tracker *monitoring.JobTracker
	Cleaner *maintenance.Cleaner
	Health  *monitoring.HealthManager

	log *zap.Logger
}

// New opens the database, migrates it, connects the cache and constructs
// every service. Background jobs are built but not started.
func New(ctx context.Context, cfg *app.Config) (stack *Stack, err error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is nil")
	}

	stack = &Stack{Config: cfg, log: logger.WithModule("bootstrap")}
	defer func() {
		if err != nil {
			_ = stack.Close()
			stack = nil
		}
	}()

	if stack.DB, err = OpenDatabase(cfg); err != nil {
		return nil, err
	}

	stack.connectCache(ctx)

	if stack.Redis != nil && cfg.Monitoring.Performance.Enabled {
		stack.Recorder = perf.NewRedisRecorder(stack.Redis, cfg.Cache.KeyNamespace())
	} else {
		stack.Recorder = perf.NewMemoryRecorder(nil)
	}

	if cfg.Archive.Enabled {
		archiver, archiveErr := storage.NewS3Archiver(cfg.Archive.StorageConfig())
		if archiveErr != nil {
			return nil, fmt.Errorf("initialise webhook archive: %w", archiveErr)
		}
		stack.Archiver = archiver
	}

	if err = stack.buildServices(); err != nil {
		return nil, err
	}

	stack.buildMaintenance()
	stack.buildHealth()
	return stack, nil
}

// OpenDatabase connects to the configured database and migrates the schema.
func OpenDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg, err := cfg.Database.ConnectionConfig()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", strings.ToLower(dbCfg.Driver)))
	return db, nil
}

// connectCache prefers Redis and falls back to the database store when Redis
// is disabled or unreachable.
func (s *Stack) connectCache(ctx context.Context) {
	cfg := s.Config
	if cfg.Cache.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig())
		if err != nil {
			s.log.Warn("redis unavailable; falling back to database cache", zap.Error(err))
			s.CacheFallback = true
		} else {
			s.log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			s.Redis = client
			s.Store = cache.NewRedisStore(client, cfg.Cache.KeyNamespace())
			s.CacheBackend = "redis"
			return
		}
	}
	s.Store = cache.NewDatabaseStore(s.DB)
	s.CacheBackend = "database"
}

func (s *Stack) buildServices() error {
	cfg := s.Config

	sealer, err := crypto.NewSealer([]byte(cfg.Shopify.APISecret), tokenSealPurpose)
	if err != nil {
		return fmt.Errorf("initialise token sealer: %w", err)
	}

	s.Admin = shopify.NewClient(cfg.Shopify.ClientConfig())

	if s.Shops, err = services.NewShopService(s.DB, sealer, s.Store); err != nil {
		return fmt.Errorf("initialise shop service: %w", err)
	}
	if s.Popups, err = services.NewPopupService(s.DB, s.Store); err != nil {
		return fmt.Errorf("initialise popup service: %w", err)
	}
	if s.Products, err = services.NewProductSyncService(s.DB, s.Admin, s.Shops, s.Store); err != nil {
		return fmt.Errorf("initialise product sync service: %w", err)
	}

	s.Webhooks, err = services.NewWebhookService(s.DB, services.WebhookServiceConfig{
		Archiver:   s.Archiver,
		Subscriber: s.Admin,
		Tokens:     s.Shops,
		AppURL:     cfg.Shopify.AppURL,
		Topics:     cfg.Shopify.Topics(),
	})
	if err != nil {
		return fmt.Errorf("initialise webhook service: %w", err)
	}
	s.Webhooks.UseDefaultHandlers(s.Shops, s.Products)
	return nil
}

func (s *Stack) buildMaintenance() {
	cfg := s.Config.Maintenance
	s.Tracker = monitoring.NewJobTracker()

	opts := []maintenance.Option{
		maintenance.WithTracker(s.Tracker),
		maintenance.WithWebhookRetention(cfg.WebhookRetention),
		maintenance.WithWebhookSchedule(cfg.WebhookSchedule),
	}
	if db, ok := s.Store.(*cache.DatabaseStore); ok {
		opts = append(opts, maintenance.WithCachePurge(db, cfg.CacheSchedule))
	}
	if cfg.ProductSync.Enabled {
		opts = append(opts, maintenance.WithProductSync(s.Shops, s.Products, cfg.ProductSync.Schedule, s.SyncOptions()))
	}
	s.Cleaner = maintenance.NewCleaner(s.Webhooks, opts...)
}

func (s *Stack) buildHealth() {
	s.Health = monitoring.NewHealthManager(healthProbeTimeout)
	s.Health.RegisterLiveness(checks.Database(s.DB))
	s.Health.RegisterReadiness(checks.Database(s.DB))

	var pinger checks.Pinger
	if p, ok := s.Store.(checks.Pinger); ok {
		pinger = p
	}
	s.Health.RegisterReadiness(checks.Cache(pinger, s.CacheBackend, s.CacheFallback))
	if s.Config.Maintenance.Enabled {
		s.Health.RegisterReadiness(checks.Maintenance(s.Tracker, maintenanceStaleness))
	}
}

// SyncOptions returns the configured product sync bounds.
func (s *Stack) SyncOptions() services.SyncOptions {
	return services.SyncOptions{
		BatchSize:   s.Config.Maintenance.ProductSync.BatchSize,
		MaxProducts: s.Config.Maintenance.ProductSync.MaxProducts,
	}
}

// Router builds the HTTP surface over the stack.
func (s *Stack) Router() (*gin.Engine, error) {
	shopifyCfg := s.Config.Shopify.ClientConfig()

	oauth, err := shopify.NewOAuth(shopifyCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise oauth: %w", err)
	}
	verifier, err := shopify.NewSessionTokenVerifier(shopifyCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise session verifier: %w", err)
	}

	var recorder perf.Recorder
	if s.Config.Monitoring.Performance.Enabled {
		recorder = s.Recorder
	}

	return api.NewRouter(api.Deps{
		Config:   s.Config,
		DB:       s.DB,
		Store:    s.Store,
		Verifier: verifier,
		OAuth:    oauth,
		Recorder: recorder,
		Health:   s.Health,
		Shops:    s.Shops,
		Popups:   s.Popups,
		Products: s.Products,
		Webhooks: s.Webhooks,
	})
}

// Close stops background jobs and releases connections.
func (s *Stack) Close() error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}
	return errs
}
