package middleware

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/popshop/internal/cache"
	"github.com/charlesng35/popshop/pkg/logger"
	"github.com/charlesng35/popshop/pkg/metrics"
)

const (
	// DefaultCacheTTL is applied when CacheOptions.TTL is unset.
	DefaultCacheTTL = 300 * time.Second
	// HeaderCache reports HIT, STALE, MISS or BYPASS.
	HeaderCache = "X-Cache"

	defaultMaxCachedBody = 1 << 20
	cacheWriteTimeout    = 5 * time.Second
)

// CacheOptions configures ResponseCache.
type CacheOptions struct {
	Store   cache.Store
	TTL     time.Duration
	KeyFunc func(c *gin.Context) string
	Now     func() time.Time
	// MaxBodyBytes skips caching of larger responses.
	MaxBodyBytes int
}

// DefaultCacheKey scopes the key by the authenticated shop, the path and the sorted query.
func DefaultCacheKey(c *gin.Context) string {
	return cache.ScopedKey(ShopFromContext(c), c.Request.URL.Path, c.Request.URL.Query())
}

// ResponseCache serves GET responses from the store. Entries older than half
// their TTL are still served, after which the handler chain runs against a
// detached writer and the fresh 200 response replaces the entry. Store
// failures are logged and the request falls through to the handlers.
func ResponseCache(opts CacheOptions) gin.HandlerFunc {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = DefaultCacheKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxCachedBody
	}

	rc := &responseCache{opts: opts, log: logger.WithModule("response_cache")}
	return rc.handle
}

type responseCache struct {
	opts       CacheOptions
	log        *zap.Logger
	refreshing sync.Map
}

func (rc *responseCache) handle(c *gin.Context) {
	if rc.opts.Store == nil || c.Request.Method != http.MethodGet {
		c.Next()
		return
	}

	key := rc.opts.KeyFunc(c)
	bodyKey, metaKey := cache.ResponseKeys(key)
	ctx := c.Request.Context()

	if strings.Contains(strings.ToLower(c.GetHeader("Cache-Control")), "no-cache") {
		metrics.ResponseCacheResults.WithLabelValues("bypass").Inc()
		c.Header(HeaderCache, "BYPASS")
		rc.capture(c, key, bodyKey, metaKey)
		return
	}

	body, ok, err := rc.opts.Store.Get(ctx, bodyKey)
	if err != nil {
		rc.storeFailure("get", key, err)
	}
	if err != nil || !ok {
		metrics.ResponseCacheResults.WithLabelValues("miss").Inc()
		c.Header(HeaderCache, "MISS")
		rc.capture(c, key, bodyKey, metaKey)
		return
	}

	meta, stale := rc.inspect(ctx, key, metaKey)
	if !stale {
		metrics.ResponseCacheResults.WithLabelValues("hit").Inc()
		rc.serve(c, body, meta, "HIT")
		c.Abort()
		return
	}

	metrics.ResponseCacheResults.WithLabelValues("stale").Inc()
	rc.serve(c, body, meta, "STALE")

	if _, busy := rc.refreshing.LoadOrStore(key, struct{}{}); busy {
		c.Abort()
		return
	}
	defer rc.refreshing.Delete(key)

	original := c.Writer
	detached := newDetachedWriter(original)
	c.Writer = detached
	c.Next()
	c.Writer = original

	if detached.status == http.StatusOK && cacheable(detached.header) {
		rc.write(c, key, bodyKey, metaKey, detached.buf.Bytes(), detached.header.Get("Content-Type"))
	}
}

// inspect reads the sidecar record. A missing or unreadable record counts as stale.
func (rc *responseCache) inspect(ctx context.Context, key, metaKey string) (cache.ResponseMeta, bool) {
	raw, ok, err := rc.opts.Store.Get(ctx, metaKey)
	if err != nil {
		rc.storeFailure("get_meta", key, err)
		return cache.ResponseMeta{}, true
	}
	if !ok {
		return cache.ResponseMeta{}, true
	}
	meta, err := cache.DecodeResponseMeta(raw)
	if err != nil {
		rc.log.Warn("discarding unreadable cache metadata", zap.String("key", key), zap.Error(err))
		return cache.ResponseMeta{}, true
	}
	return meta, meta.Stale(rc.opts.Now())
}

// serve writes the cached body with an explicit length and flushes it so the
// client has the complete response before any refresh work starts.
func (rc *responseCache) serve(c *gin.Context, body []byte, meta cache.ResponseMeta, state string) {
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	h := c.Writer.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set(HeaderCache, state)
	if meta.Timestamp > 0 {
		h.Set("Age", strconv.Itoa(int(meta.Age(rc.opts.Now()).Seconds())))
	}
	c.Writer.WriteHeader(http.StatusOK)
	_, _ = c.Writer.Write(body)
	c.Writer.Flush()
}

// capture runs the handlers with a tee writer and stores a 200 response.
func (rc *responseCache) capture(c *gin.Context, key, bodyKey, metaKey string) {
	original := c.Writer
	tee := &teeWriter{ResponseWriter: original, limit: rc.opts.MaxBodyBytes}
	c.Writer = tee
	c.Next()
	c.Writer = original

	if tee.Status() != http.StatusOK || tee.overflow || !cacheable(tee.Header()) {
		return
	}
	rc.write(c, key, bodyKey, metaKey, tee.buf.Bytes(), tee.Header().Get("Content-Type"))
}

func (rc *responseCache) write(c *gin.Context, key, bodyKey, metaKey string, body []byte, contentType string) {
	now := rc.opts.Now()
	meta, err := cache.EncodeResponseMeta(cache.ResponseMeta{
		Timestamp:   now.UnixMilli(),
		TTL:         int64(rc.opts.TTL / time.Second),
		URL:         c.Request.URL.RequestURI(),
		CachedAt:    now.UTC(),
		ContentType: contentType,
	})
	if err != nil {
		rc.storeFailure("encode", key, err)
		return
	}

	// The client may already be gone after a stale hit; the write must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), cacheWriteTimeout)
	defer cancel()

	stored := append([]byte(nil), body...)
	if err := rc.opts.Store.SetMulti(ctx, map[string][]byte{bodyKey: stored, metaKey: meta}, rc.opts.TTL); err != nil {
		rc.storeFailure("set", key, err)
	}
}

func (rc *responseCache) storeFailure(op, key string, err error) {
	metrics.ResponseCacheErrors.WithLabelValues(op).Inc()
	rc.log.Warn("response cache store failure",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

func cacheable(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

// teeWriter forwards everything to the client and keeps a bounded copy.
type teeWriter struct {
	gin.ResponseWriter
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.keep(b)
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.keep([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *teeWriter) keep(b []byte) {
	if w.overflow {
		return
	}
	if w.buf.Len()+len(b) > w.limit {
		w.overflow = true
		w.buf.Reset()
		return
	}
	w.buf.Write(b)
}

// detachedWriter swallows a handler's output after the client was served.
type detachedWriter struct {
	gin.ResponseWriter
	header http.Header
	buf    bytes.Buffer
	status int
	wrote  bool
}

func newDetachedWriter(w gin.ResponseWriter) *detachedWriter {
	return &detachedWriter{ResponseWriter: w, header: http.Header{}, status: http.StatusOK}
}

func (w *detachedWriter) Header() http.Header { return w.header }

func (w *detachedWriter) WriteHeader(code int) {
	if code > 0 && !w.wrote {
		w.status = code
	}
}

func (w *detachedWriter) WriteHeaderNow() { w.wrote = true }

func (w *detachedWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.buf.Write(b)
}

func (w *detachedWriter) WriteString(s string) (int, error) {
	w.wrote = true
	return w.buf.WriteString(s)
}

func (w *detachedWriter) Status() int   { return w.status }
func (w *detachedWriter) Size() int     { return w.buf.Len() }
func (w *detachedWriter) Written() bool { return w.wrote }
func (w *detachedWriter) Flush()        {}

func (w *detachedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, errors.New("response cache: hijack not supported during refresh")
}
