package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func cachedOK(body string) *CachedResponse {
	return &CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(body),
	}
}

func getRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = "acme.tansu.dev"
	return req
}

func TestOutputCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	output := NewOutputCache(NewMemoryStore(), time.Minute, time.Hour)

	req := getRequest("/orders?page=2")
	output.StoreResponse(ctx, req, "acme", cachedOK(`{"orders":[]}`))

	t.Run("same key hits within TTL", func(t *testing.T) {
		resp, hit := output.TryServe(ctx, getRequest("/orders?page=2"), "acme")
		assert.True(t, hit)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, `{"orders":[]}`, string(resp.Body))
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	})

	t.Run("different query misses", func(t *testing.T) {
		_, hit := output.TryServe(ctx, getRequest("/orders?page=3"), "acme")
		assert.False(t, hit)
	})

	t.Run("different tenant misses", func(t *testing.T) {
		_, hit := output.TryServe(ctx, getRequest("/orders?page=2"), "globex")
		assert.False(t, hit)
	})

	t.Run("vary header changes the key", func(t *testing.T) {
		req := getRequest("/orders?page=2")
		req.Header.Set("Accept-Encoding", "br")
		_, hit := output.TryServe(ctx, req, "acme")
		assert.False(t, hit)
	})
}

func TestOutputCache_AuthorizationBypass(t *testing.T) {
	ctx := context.Background()
	output := NewOutputCache(NewMemoryStore(), time.Minute, time.Hour)

	req := getRequest("/orders")
	output.StoreResponse(ctx, req, "acme", cachedOK("cached"))

	authed := getRequest("/orders")
	authed.Header.Set("Authorization", "Bearer token")

	_, hit := output.TryServe(ctx, authed, "acme")
	assert.False(t, hit, "authenticated requests always bypass the cache")

	// And an authenticated response is never stored.
	output.StoreResponse(ctx, authed, "acme", cachedOK("secret"))
	_, hit = output.TryServe(ctx, getRequest("/orders"), "acme")
	assert.True(t, hit)
}

func TestOutputCache_MethodPartitionsKeys(t *testing.T) {
	ctx := context.Background()
	output := NewOutputCache(NewMemoryStore(), time.Minute, time.Hour)

	head := httptest.NewRequest(http.MethodHead, "/orders", nil)
	head.Host = "acme.tansu.dev"
	output.StoreResponse(ctx, head, "acme", &CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})

	_, hit := output.TryServe(ctx, getRequest("/orders"), "acme")
	assert.False(t, hit, "a bodyless HEAD entry must never satisfy a GET")

	output.StoreResponse(ctx, getRequest("/orders"), "acme", cachedOK("full body"))

	resp, hit := output.TryServe(ctx, getRequest("/orders"), "acme")
	assert.True(t, hit)
	assert.Equal(t, "full body", string(resp.Body))

	resp, hit = output.TryServe(ctx, head, "acme")
	assert.True(t, hit, "the HEAD entry is still addressable under its own key")
	assert.Empty(t, resp.Body)
}

func TestOutputCache_NonGETBypass(t *testing.T) {
	ctx := context.Background()
	output := NewOutputCache(NewMemoryStore(), time.Minute, time.Hour)

	post := httptest.NewRequest(http.MethodPost, "/orders", nil)
	assert.False(t, Cacheable(post))
	_, hit := output.TryServe(ctx, post, "acme")
	assert.False(t, hit)
}

func TestOutputCache_TenantVersionBump(t *testing.T) {
	ctx := context.Background()
	output := NewOutputCache(NewMemoryStore(), time.Minute, time.Hour)

	req := getRequest("/orders")
	output.StoreResponse(ctx, req, "acme", cachedOK("v1"))

	_, hit := output.TryServe(ctx, getRequest("/orders"), "acme")
	assert.True(t, hit)

	output.BumpTenant(ctx, "acme")

	_, hit = output.TryServe(ctx, getRequest("/orders"), "acme")
	assert.False(t, hit, "version bump must invalidate the whole tenant keyspace")

	// Other tenants are untouched.
	output.StoreResponse(ctx, req, "globex", cachedOK("other"))
	output.BumpTenant(ctx, "acme")
	_, hit = output.TryServe(ctx, getRequest("/orders"), "globex")
	assert.True(t, hit)
}

func TestOutputCache_TTLClasses(t *testing.T) {
	output := NewOutputCache(NewMemoryStore(), time.Minute, time.Hour)

	assert.Equal(t, time.Minute, output.TTLFor("/orders"))
	assert.Equal(t, time.Hour, output.TTLFor("/static/app.css"))
	assert.Equal(t, time.Hour, output.TTLFor("/assets/logo.png"))
	assert.Equal(t, time.Hour, output.TTLFor("/bundle.v3.js"))
	assert.Equal(t, time.Hour, output.TTLFor("/_next/static/chunk.js"))
	assert.Equal(t, time.Minute, output.TTLFor("/api/report.pdf"))
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store down")
}
func (failingStore) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("store down")
}

func TestOutputCache_StoreFailureIsAMiss(t *testing.T) {
	ctx := context.Background()
	output := NewOutputCache(failingStore{}, time.Minute, time.Hour)

	_, hit := output.TryServe(ctx, getRequest("/orders"), "acme")
	assert.False(t, hit)

	// Store and bump failures are swallowed; the request path never errors.
	output.StoreResponse(ctx, getRequest("/orders"), "acme", cachedOK("x"))
	output.BumpTenant(ctx, "acme")
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	assert.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	_, found, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)

	time.Sleep(20 * time.Millisecond)
	_, found, err = store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_Incr(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.Incr(ctx, "counter")
	assert.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.Incr(ctx, "counter")
	assert.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
