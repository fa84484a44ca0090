package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/popshop/internal/database"
	"github.com/charlesng35/popshop/internal/middleware"
	"github.com/charlesng35/popshop/internal/shopify"
	"github.com/charlesng35/popshop/internal/storage"
)

// ConnectionConfig resolves the database settings into a database.Config. A DSN
// with a URL scheme (DATABASE_URL) takes precedence and determines the driver.
func (c DatabaseConfig) ConnectionConfig() (database.Config, error) {
	var cfg database.Config
	dsn := strings.TrimSpace(c.DSN)

	switch {
	case strings.Contains(dsn, "://") || strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, "sqlite:"):
		parsed, err := database.FromURL(dsn)
		if err != nil {
			return database.Config{}, fmt.Errorf("config: database dsn: %w", err)
		}
		cfg = parsed
	default:
		cfg = database.Config{Driver: c.Driver, Path: c.Path, DSN: dsn}
		var auth DBAuthConfig
		switch strings.ToLower(c.Driver) {
		case "postgres", "postgresql":
			auth = c.Postgres
		case "mysql":
			auth = c.MySQL
		}
		cfg.Host = auth.Host
		cfg.Port = auth.Port
		cfg.Name = auth.Database
		cfg.User = auth.Username
		cfg.Password = auth.Password
	}

	cfg.MaxOpenConns = c.MaxOpenConns
	cfg.MaxIdleConns = c.MaxIdleConns
	cfg.ConnMaxLifetime = c.ConnMaxLifetime
	return cfg, nil
}

// ClientConfig converts ShopifyConfig into the shopify package representation.
func (c ShopifyConfig) ClientConfig() shopify.Config {
	return shopify.Config{
		APIKey:       strings.TrimSpace(c.APIKey),
		APISecret:    strings.TrimSpace(c.APISecret),
		AppURL:       c.AppURL,
		Scopes:       append([]string(nil), c.Scopes...),
		APIVersion:   c.APIVersion,
		AdminBaseURL: strings.TrimSpace(c.AdminBaseURL),
	}
}

// Topics returns the configured webhook topics or the default subscription set.
func (c ShopifyConfig) Topics() []string {
	if len(c.WebhookTopics) == 0 {
		return append([]string(nil), shopify.DefaultTopics...)
	}
	topics := make([]string, 0, len(c.WebhookTopics))
	for _, topic := range c.WebhookTopics {
		topics = append(topics, strings.ToUpper(topic))
	}
	return topics
}

// Policies returns the api, auth and public rate limit policies. Unset fields
// keep the middleware defaults.
func (c RateLimitConfig) Policies() (api, auth, public middleware.RateLimitPolicy) {
	return c.API.policy(middleware.APIRateLimit),
		c.Auth.policy(middleware.AuthRateLimit),
		c.Public.policy(middleware.PublicRateLimit)
}

func (p RatePolicyConfig) policy(base middleware.RateLimitPolicy) middleware.RateLimitPolicy {
	if p.Max > 0 {
		base.Max = p.Max
	}
	if p.Window > 0 {
		base.Window = p.Window
	}
	return base
}

// StorageConfig converts the archive section into storage.S3Config.
func (c ArchiveConfig) StorageConfig() storage.S3Config {
	return storage.S3Config{
		Bucket:    strings.TrimSpace(c.S3.Bucket),
		Region:    strings.TrimSpace(c.S3.Region),
		Endpoint:  strings.TrimSpace(c.S3.Endpoint),
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		Prefix:    strings.Trim(c.S3.Prefix, "/"),
		PathStyle: c.S3.PathStyle,
	}
}
