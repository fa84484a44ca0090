package app

import (
	"strings"

	"github.com/charlesng35/popshop/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// KeyNamespace returns the prefix applied to every Redis key, defaulting to the cache package value.
func (c CacheConfig) KeyNamespace() string {
	if ns := strings.TrimSpace(c.Namespace); ns != "" {
		return ns
	}
	return cache.DefaultNamespace
}
