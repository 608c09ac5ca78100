package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/metrics"
	"github.com/tansu-cloud/gateway/internal/tenant"
)

// varyHeaders are the request headers folded into the cache key.
var varyHeaders = []string{tenant.Header, "Accept", "Accept-Encoding"}

// staticExtensions selects the long-TTL class for framework asset responses.
var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

var staticPrefixes = []string{"/static/", "/assets/", "/_next/static/", "/favicon"}

// CachedResponse is the serialized form of a stored upstream response.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// OutputCache is the tenant- and header-aware HTTP response cache. Every
// store failure degrades to a miss; the cache never fails a request.
type OutputCache struct {
	store      Store
	defaultTTL time.Duration
	staticTTL  time.Duration
}

func NewOutputCache(store Store, defaultTTL, staticTTL time.Duration) *OutputCache {
	return &OutputCache{store: store, defaultTTL: defaultTTL, staticTTL: staticTTL}
}

// Cacheable reports whether a request may be served from or written to the
// cache: GET/HEAD only, and never with an Authorization header.
func Cacheable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Header.Get("Authorization") == ""
}

// TryServe returns the cached response for the request, or a miss.
func (c *OutputCache) TryServe(ctx context.Context, req *http.Request, tenantID string) (*CachedResponse, bool) {
	if !Cacheable(req) {
		return nil, false
	}

	key, err := c.key(ctx, req, tenantID)
	if err != nil {
		metrics.IncCacheMiss()
		return nil, false
	}

	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		logger.WithComponent("cache.output").WithError(err).Debug("cache store get failed, treating as miss")
		metrics.IncCacheMiss()
		return nil, false
	}
	if !found {
		metrics.IncCacheMiss()
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.IncCacheMiss()
		return nil, false
	}

	metrics.IncCacheHit()
	return &resp, true
}

// StoreResponse writes a successful upstream response under the request's
// key. Failures are logged and swallowed.
func (c *OutputCache) StoreResponse(ctx context.Context, req *http.Request, tenantID string, resp *CachedResponse) {
	if !Cacheable(req) || resp.Status != http.StatusOK {
		return
	}

	key, err := c.key(ctx, req, tenantID)
	if err != nil {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}

	if err := c.store.Set(ctx, key, raw, c.TTLFor(req.URL.Path)); err != nil {
		logger.WithComponent("cache.output").WithError(err).Debug("cache store set failed")
		return
	}
	metrics.IncCacheStore()
}

// BumpTenant increments the tenant's version counter, making every prior
// cache key for that tenant unaddressable (lazy invalidation).
func (c *OutputCache) BumpTenant(ctx context.Context, tenantID string) {
	if _, err := c.store.Incr(ctx, versionKey(tenantID)); err != nil {
		logger.WithComponent("cache.output").WithError(err).
			WithField("tenant", tenantID).Warn("tenant version bump failed")
	}
}

// TTLFor selects the TTL class by path: static-asset paths get the long TTL.
func (c *OutputCache) TTLFor(requestPath string) time.Duration {
	for _, prefix := range staticPrefixes {
		if strings.HasPrefix(requestPath, prefix) {
			return c.staticTTL
		}
	}
	if _, ok := staticExtensions[strings.ToLower(path.Ext(requestPath))]; ok {
		return c.staticTTL
	}
	return c.defaultTTL
}

// key builds the composite cache key: method, host, path, canonicalized
// query, vary header values, and the tenant's current version counter. The
// method keeps HEAD entries (empty body) from ever satisfying a GET.
func (c *OutputCache) key(ctx context.Context, req *http.Request, tenantID string) (string, error) {
	version, err := c.tenantVersion(ctx, tenantID)
	if err != nil {
		return "", err
	}

	digest := xxhash.New()
	digest.WriteString(req.Method)
	digest.WriteString("|")
	digest.WriteString(req.Host)
	digest.WriteString("|")
	digest.WriteString(req.URL.Path)
	digest.WriteString("|")
	digest.WriteString(canonicalQuery(req.URL.Query()))
	for _, header := range varyHeaders {
		digest.WriteString("|")
		digest.WriteString(req.Header.Get(header))
	}

	return fmt.Sprintf("outputcache:%s:v%d:%x", tenantLabel(tenantID), version, digest.Sum64()), nil
}

func (c *OutputCache) tenantVersion(ctx context.Context, tenantID string) (int64, error) {
	raw, found, err := c.store.Get(ctx, versionKey(tenantID))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	var version int64
	fmt.Sscanf(string(raw), "%d", &version)
	return version, nil
}

func versionKey(tenantID string) string {
	return "tenantver:" + tenantLabel(tenantID)
}

func tenantLabel(tenantID string) string {
	if tenantID == "" {
		return "-"
	}
	return tenantID
}

func canonicalQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, val := range vals {
			b.WriteString(key)
			b.WriteString("=")
			b.WriteString(val)
			b.WriteString("&")
		}
	}
	return b.String()
}
