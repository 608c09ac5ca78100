package proxy

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tansu-cloud/gateway/internal/api/middleware"
	"github.com/tansu-cloud/gateway/internal/auth"
	"github.com/tansu-cloud/gateway/internal/cache"
	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/metrics"
	"github.com/tansu-cloud/gateway/internal/policy"
	"github.com/tansu-cloud/gateway/internal/ratelimit"
	"github.com/tansu-cloud/gateway/internal/routing"
	"github.com/tansu-cloud/gateway/internal/tenant"
)

// maxCacheableBody bounds how much of an upstream response the output cache
// will buffer. Larger responses stream through uncached.
const maxCacheableBody = 1 << 20

// Pipeline is the data-plane request path: tenant resolution, staged policy
// enforcement, rate limiting, output cache, route lookup, forward.
type Pipeline struct {
	resolver *tenant.Resolver
	engine   *policy.Engine
	limiter  *ratelimit.Limiter
	output   *cache.OutputCache
	table    *routing.Table

	upstreamTimeout time.Duration
	transport       http.RoundTripper
}

func New(resolver *tenant.Resolver, engine *policy.Engine, limiter *ratelimit.Limiter,
	output *cache.OutputCache, table *routing.Table, upstreamTimeout time.Duration) *Pipeline {
	return &Pipeline{
		resolver:        resolver,
		engine:          engine,
		limiter:         limiter,
		output:          output,
		table:           table,
		upstreamTimeout: upstreamTimeout,
		transport:       http.DefaultTransport,
	}
}

// Handle is the catch-all gin handler for the gateway listener.
func (p *Pipeline) Handle(c *gin.Context) {
	req := c.Request

	// Tenant resolution runs before any policy evaluation. The tenant header
	// is always gateway-written; whatever the client sent is discarded.
	tenantID, strippedPath := p.resolver.Resolve(req.Host, req.URL.Path)
	req.URL.Path = strippedPath
	if tenantID != "" {
		req.Header.Set(tenant.Header, tenantID)
	} else {
		req.Header.Del(tenant.Header)
	}

	clientIP := net.ParseIP(c.ClientIP())
	if clientIP == nil {
		clientIP = net.IPv4zero
	}

	rc := &policy.RequestContext{
		Tenant:   tenantID,
		ClientIP: clientIP,
		Origin:   req.Header.Get("Origin"),
		Method:   req.Method,
		Path:     strippedPath,
		HasAuth:  req.Header.Get("Authorization") != "",
	}

	verdict := p.engine.Evaluate(rc)
	if verdict.Blocked {
		metrics.IncProxyRequest("blocked")
		c.JSON(verdict.Status, gin.H{"error": verdict.Reason})
		return
	}
	applyHeaders(c, verdict.Headers)
	if verdict.Preflight {
		metrics.IncProxyRequest("preflight")
		c.Status(verdict.Status)
		return
	}

	family := ratelimit.FamilyFor(strippedPath)
	key := ratelimit.PartitionKey(tenantID, clientIP.String(), auth.BearerToken(req))
	if res := p.limiter.AdmitWait(req.Context(), family, key); !res.Allowed {
		metrics.IncProxyRequest("rate_limited")
		c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	if cached, hit := p.output.TryServe(req.Context(), req, tenantID); hit {
		metrics.IncProxyRequest("cache_hit")
		writeCached(c, cached)
		return
	}

	dest, ok := p.table.Resolve(strippedPath)
	if !ok {
		metrics.IncProxyRequest("no_route")
		c.JSON(http.StatusNotFound, gin.H{"error": "no route for path"})
		return
	}

	p.forward(c, dest, tenantID)
}

// forward proxies the request to the selected destination, capturing
// cacheable responses for the output cache and bumping the tenant's cache
// version on successful writes.
func (p *Pipeline) forward(c *gin.Context, dest routing.Destination, tenantID string) {
	target, err := url.Parse(dest.URL)
	if err != nil {
		metrics.IncProxyRequest("upstream_error")
		c.JSON(http.StatusBadGateway, gin.H{"error": "invalid destination"})
		return
	}

	req := c.Request
	ctx, cancel := context.WithTimeout(req.Context(), p.upstreamTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	failed := false
	rp := &httputil.ReverseProxy{
		Director: func(out *http.Request) {
			out.URL.Scheme = target.Scheme
			out.URL.Host = target.Host
			out.URL.Path = joinPath(target.Path, out.URL.Path)
			out.Header.Set("X-Forwarded-Host", req.Host)
			out.Host = target.Host
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			failed = true
			logger.WithComponent("proxy").WithError(err).WithFields(map[string]interface{}{
				"destination": dest.URL,
				"path":        r.URL.Path,
				"request_id":  c.Writer.Header().Get(middleware.RequestIDHeader),
			}).Error("upstream request failed")
			metrics.IncProxyRequest("upstream_error")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
		},
	}

	capture := newCaptureWriter(c.Writer, cache.Cacheable(req))
	rp.ServeHTTP(capture, req)
	if failed {
		return
	}

	metrics.IncProxyRequest("forwarded")

	if resp, ok := capture.cached(); ok {
		p.output.StoreResponse(req.Context(), req, tenantID, resp)
	}

	if isWrite(req.Method) && capture.status < 400 && tenantID != "" {
		p.output.BumpTenant(req.Context(), tenantID)
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func applyHeaders(c *gin.Context, headers map[string]string) {
	for key, value := range headers {
		c.Header(key, value)
	}
}

func writeCached(c *gin.Context, cached *cache.CachedResponse) {
	for key, values := range cached.Header {
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
	c.Header("X-Cache", "HIT")
	c.Status(cached.Status)
	_, _ = c.Writer.Write(cached.Body)
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case strings.HasSuffix(base, "/"):
		return base + strings.TrimPrefix(path, "/")
	default:
		return base + path
	}
}

// captureWriter tees the upstream response into a bounded buffer so it can
// be written to the output cache after the proxy completes.
type captureWriter struct {
	gin.ResponseWriter
	buffering bool
	overflow  bool
	status    int
	buf       bytes.Buffer
}

func newCaptureWriter(w gin.ResponseWriter, buffering bool) *captureWriter {
	return &captureWriter{ResponseWriter: w, buffering: buffering, status: http.StatusOK}
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(data []byte) (int, error) {
	if w.buffering && !w.overflow {
		if w.buf.Len()+len(data) > maxCacheableBody {
			w.overflow = true
			w.buf.Reset()
		} else {
			w.buf.Write(data)
		}
	}
	return w.ResponseWriter.Write(data)
}

func (w *captureWriter) cached() (*cache.CachedResponse, bool) {
	if !w.buffering || w.overflow || w.status != http.StatusOK {
		return nil, false
	}
	header := http.Header{}
	for key, values := range w.Header() {
		if key == "X-Cache" || key == middleware.RequestIDHeader {
			continue
		}
		header[key] = append([]string(nil), values...)
	}
	return &cache.CachedResponse{
		Status: w.status,
		Header: header,
		Body:   append([]byte(nil), w.buf.Bytes()...),
	}, true
}
