package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/metrics"
)

// Response cache key layout. A cached response is stored as a body entry and
// a sidecar metadata entry sharing the same suffix.
const (
	ResponseBodyPrefix = "cache:body:"
	ResponseMetaPrefix = "cache:meta:"

	// PublicScope is used for requests without an authenticated shop.
	PublicScope = "public"
)

// ResponseMeta is the sidecar record written next to every cached body.
type ResponseMeta struct {
	Timestamp   int64     `json:"timestamp"` // unix milliseconds at write time
	TTL         int64     `json:"ttl"`       // seconds
	URL         string    `json:"url"`
	CachedAt    time.Time `json:"cached_at"`
	ContentType string    `json:"content_type,omitempty"`
}

// Age returns how old the entry is at now.
func (m ResponseMeta) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(m.Timestamp))
}

// Stale reports whether the entry has outlived half of its TTL.
func (m ResponseMeta) Stale(now time.Time) bool {
	ttl := time.Duration(m.TTL) * time.Second
	return m.Age(now) > ttl/2
}

// EncodeResponseMeta serialises meta.
func EncodeResponseMeta(meta ResponseMeta) ([]byte, error) {
	return json.Marshal(meta)
}

// DecodeResponseMeta parses a metadata record.
func DecodeResponseMeta(raw []byte) (ResponseMeta, error) {
	var meta ResponseMeta
	err := json.Unmarshal(raw, &meta)
	return meta, err
}

// ScopedKey builds the deterministic response key for a scope, path and query.
// Query parameters are sorted so equivalent URLs share one entry.
func ScopedKey(scope, path string, query url.Values) string {
	if scope == "" {
		scope = PublicScope
	}
	var b strings.Builder
	b.WriteString(scope)
	b.WriteByte(':')
	b.WriteString(path)

	if len(query) > 0 {
		names := make([]string, 0, len(query))
		for name := range query {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteByte('?')
		first := true
		for _, name := range names {
			values := append([]string(nil), query[name]...)
			sort.Strings(values)
			for _, v := range values {
				if !first {
					b.WriteByte('&')
				}
				first = false
				b.WriteString(url.QueryEscape(name))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

// ResponseKeys returns the body and metadata store keys for a scoped key.
func ResponseKeys(key string) (body, meta string) {
	return ResponseBodyPrefix + key, ResponseMetaPrefix + key
}

// InvalidateResponse removes the cached body and metadata for one scoped key.
// Failures are logged and swallowed.
func InvalidateResponse(ctx context.Context, store Store, key string) {
	if store == nil {
		return
	}
	body, meta := ResponseKeys(key)
	if err := store.Delete(ctx, body, meta); err != nil {
		metrics.ResponseCacheErrors.WithLabelValues("invalidate").Inc()
		logger.WithModule("cache").Warn("cache invalidation failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	metrics.CacheInvalidations.WithLabelValues("key").Inc()
}

// InvalidateResponsePrefix removes every cached response whose scoped key starts
// with prefix and returns the number of store keys removed. Failures are logged
// and swallowed.
func InvalidateResponsePrefix(ctx context.Context, store Store, prefix string) int64 {
	if store == nil {
		return 0
	}
	log := logger.WithModule("cache")

	var removed int64
	for _, p := range []string{ResponseBodyPrefix + prefix, ResponseMetaPrefix + prefix} {
		n, err := store.DeleteByPrefix(ctx, p)
		removed += n
		if err != nil {
			metrics.ResponseCacheErrors.WithLabelValues("invalidate").Inc()
			log.Warn("cache prefix invalidation failed",
				zap.String("prefix", p),
				zap.Error(err),
			)
		}
	}
	metrics.CacheInvalidations.WithLabelValues("prefix").Add(float64(removed))
	return removed
}

// InvalidateShop clears the cached responses of the given API paths for shop.
func InvalidateShop(ctx context.Context, store Store, shop string, paths ...string) {
	for _, path := range paths {
		InvalidateResponsePrefix(ctx, store, ScopedKey(shop, path, nil))
	}
}
