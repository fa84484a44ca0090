package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root application configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Shopify     ShopifyConfig     `mapstructure:"shopify"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP listener and request guards.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	LogLevel             string        `mapstructure:"log_level"`
	LogEncoding          string        `mapstructure:"log_encoding"`
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
	WebhookMaxBodyBytes  int64         `mapstructure:"webhook_max_body_bytes"`
	SlowRequestThreshold time.Duration `mapstructure:"slow_request_threshold"`
	AllowedOrigins       []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig covers the shared key-value store and the response cache on top of it.
type CacheConfig struct {
	Redis       RedisCacheConfig `mapstructure:"redis"`
	Namespace   string           `mapstructure:"namespace"`
	ResponseTTL time.Duration    `mapstructure:"response_ttl"`
}

type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "store" for counters shared through the cache store or
	// "memory" for per-process token buckets.
	Backend string           `mapstructure:"backend"`
	API     RatePolicyConfig `mapstructure:"api"`
	Auth    RatePolicyConfig `mapstructure:"auth"`
	Public  RatePolicyConfig `mapstructure:"public"`
}

type RatePolicyConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type ShopifyConfig struct {
	APIKey        string   `mapstructure:"api_key"`
	APISecret     string   `mapstructure:"api_secret"`
	AppURL        string   `mapstructure:"app_url"`
	Scopes        []string `mapstructure:"scopes"`
	APIVersion    string   `mapstructure:"api_version"`
	WebhookTopics []string `mapstructure:"webhook_topics"`
	// AdminBaseURL overrides https://<shop> for Admin API calls, e.g. a local mock.
	AdminBaseURL  string   `mapstructure:"admin_base_url"`
}

type MaintenanceConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	WebhookRetention time.Duration     `mapstructure:"webhook_retention"`
	WebhookSchedule  string            `mapstructure:"webhook_schedule"`
	CacheSchedule    string            `mapstructure:"cache_schedule"`
	ProductSync      ProductSyncConfig `mapstructure:"product_sync"`
}

type ProductSyncConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Schedule    string `mapstructure:"schedule"`
	BatchSize   int    `mapstructure:"batch_size"`
	MaxProducts int    `mapstructure:"max_products"`
}

// ArchiveConfig enables copying raw webhook payloads to S3 compatible storage.
type ArchiveConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

type MonitoringConfig struct {
	Prometheus  PrometheusConfig  `mapstructure:"prometheus"`
	Health      HealthConfig      `mapstructure:"health_check"`
	Performance PerformanceConfig `mapstructure:"performance"`
}

type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PerformanceConfig toggles the per-route latency recorder.
type PerformanceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// legacyEnv maps the unprefixed variables used by existing deployments onto config keys.
var legacyEnv = map[string][]string{
	"database.dsn":         {"DATABASE_URL"},
	"shopify.api_key":      {"SHOPIFY_API_KEY"},
	"shopify.api_secret":   {"SHOPIFY_API_SECRET"},
	"shopify.app_url":      {"SHOPIFY_APP_URL"},
	"shopify.scopes":       {"SCOPES"},
	"cache.redis.host":     {"REDIS_HOST"},
	"cache.redis.port":     {"REDIS_PORT"},
	"cache.redis.password": {"REDIS_PASSWORD"},
	"server.log_level":     {"LOG_LEVEL"},
	"server.port":          {"PORT"},
}

// LoadConfig reads configuration from file and environment variables. Additional
// search paths can be provided to look for config.yaml.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("POPSHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	config.normalise()

	return &config, nil
}

// bindLegacyEnv binds each key to its POPSHOP_ name first so the prefixed
// variable wins over the unprefixed one.
func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		prefixed := "POPSHOP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.max_body_bytes", 100<<10)
	v.SetDefault("server.webhook_max_body_bytes", 1<<20)
	v.SetDefault("server.slow_request_threshold", "1s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/popshop.sqlite")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("cache.namespace", "popshop:")
	v.SetDefault("cache.response_ttl", "300s")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "")
	v.SetDefault("cache.redis.host", "")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", "store")
	v.SetDefault("rate_limit.api.max", 100)
	v.SetDefault("rate_limit.api.window", "15m")
	v.SetDefault("rate_limit.auth.max", 10)
	v.SetDefault("rate_limit.auth.window", "1h")
	v.SetDefault("rate_limit.public.max", 1000)
	v.SetDefault("rate_limit.public.window", "1h")

	v.SetDefault("shopify.scopes", []string{"read_products", "write_products"})
	v.SetDefault("shopify.api_version", "2024-10")
	v.SetDefault("shopify.webhook_topics", []string{})
	v.SetDefault("shopify.admin_base_url", "")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.webhook_retention", "720h")
	v.SetDefault("maintenance.webhook_schedule", "0 3 * * *")
	v.SetDefault("maintenance.cache_schedule", "*/15 * * * *")
	v.SetDefault("maintenance.product_sync.enabled", false)
	v.SetDefault("maintenance.product_sync.schedule", "0 2 * * *")
	v.SetDefault("maintenance.product_sync.batch_size", 10)
	v.SetDefault("maintenance.product_sync.max_products", 100)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.prefix", "")
	v.SetDefault("archive.s3.path_style", false)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.performance.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalise() {
	c.Shopify.AppURL = strings.TrimRight(strings.TrimSpace(c.Shopify.AppURL), "/")
	c.Shopify.Scopes = trimAll(c.Shopify.Scopes)
	c.Shopify.WebhookTopics = trimAll(c.Shopify.WebhookTopics)
	c.Server.AllowedOrigins = trimAll(c.Server.AllowedOrigins)

	if c.Cache.Redis.Address == "" && strings.TrimSpace(c.Cache.Redis.Host) != "" {
		port := c.Cache.Redis.Port
		if port <= 0 {
			port = 6379
		}
		c.Cache.Redis.Address = net.JoinHostPort(strings.TrimSpace(c.Cache.Redis.Host), fmt.Sprint(port))
		// REDIS_HOST alone is how existing deployments opt in.
		c.Cache.Redis.Enabled = true
	}
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
