package policy

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tansu-cloud/gateway/internal/models"
)

type stubLoader struct {
	policies []models.Policy
	err      error
	loads    int
}

func (s *stubLoader) ListEnabled() ([]models.Policy, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.policies, nil
}

func denyPolicy(id, cidr string, mode models.PolicyMode) models.Policy {
	return models.Policy{
		PolicyID: id,
		Type:     models.PolicyTypeIPDeny,
		Mode:     mode,
		Config:   models.JSONText(`{"cidrs":["` + cidr + `"]}`),
		Enabled:  true,
	}
}

func TestCache_ReadThrough(t *testing.T) {
	loader := &stubLoader{policies: []models.Policy{denyPolicy("d1", "203.0.113.0/24", models.ModeEnforce)}}
	cache := NewCache(loader, time.Minute)

	snap := cache.Current()
	assert.Len(t, snap.IPDeny, 1)
	assert.Equal(t, 1, loader.loads)

	// Within TTL the snapshot is reused without another store round-trip.
	again := cache.Current()
	assert.Same(t, snap, again)
	assert.Equal(t, 1, loader.loads)
}

func TestCache_InvalidateRebuildsSynchronously(t *testing.T) {
	loader := &stubLoader{policies: []models.Policy{denyPolicy("d1", "203.0.113.0/24", models.ModeEnforce)}}
	cache := NewCache(loader, time.Hour)

	assert.Len(t, cache.Current().IPDeny, 1)

	loader.policies = nil
	cache.Invalidate()
	assert.Empty(t, cache.Current().IPDeny, "a write must be visible immediately on the same instance")
}

func TestCache_ServesLastKnownGoodWhenStoreFails(t *testing.T) {
	loader := &stubLoader{policies: []models.Policy{denyPolicy("d1", "203.0.113.0/24", models.ModeEnforce)}}
	cache := NewCache(loader, 0) // every read is stale, forcing a rebuild

	degraded := 0
	cache.OnDegraded = func(error) { degraded++ }

	first := cache.Current()
	assert.Len(t, first.IPDeny, 1)

	loader.err = errors.New("store unreachable")
	snap := cache.Current()
	assert.Len(t, snap.IPDeny, 1, "last-known-good snapshot keeps serving")
	assert.Equal(t, 1, degraded)

	// Degraded alert fires once per transition, not per read.
	cache.Current()
	assert.Equal(t, 1, degraded)

	loader.err = nil
	loader.policies = nil
	assert.Empty(t, cache.Current().IPDeny)
}

func TestCache_ExpiryRefreshesOnceForAWholeBurst(t *testing.T) {
	loader := &stubLoader{policies: []models.Policy{denyPolicy("d1", "203.0.113.0/24", models.ModeEnforce)}}
	cache := NewCache(loader, 50*time.Millisecond)

	assert.Len(t, cache.Current().IPDeny, 1)
	assert.Equal(t, 1, loader.loads)

	time.Sleep(60 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, cache.Current())
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, loader.loads, "one store round-trip serves the whole burst")
}

// blockingLoader parks inside ListEnabled until released, signalling entry so
// tests can observe an in-flight refresh.
type blockingLoader struct {
	policies []models.Policy
	entered  chan struct{}
	release  chan struct{}
}

func (b *blockingLoader) ListEnabled() ([]models.Policy, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.policies, nil
}

func TestCache_SlowRefreshNeverStallsReaders(t *testing.T) {
	loader := &blockingLoader{
		policies: []models.Policy{denyPolicy("d1", "203.0.113.0/24", models.ModeEnforce)},
		entered:  make(chan struct{}, 2),
		release:  make(chan struct{}, 2),
	}
	cache := NewCache(loader, 0) // every read is stale, forcing a refresh

	loader.release <- struct{}{}
	assert.Len(t, cache.Current().IPDeny, 1)
	<-loader.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.Current() // wins the refresh slot against a slow store
	}()
	<-loader.entered

	// With the refresh in flight, readers get the last-known-good snapshot
	// immediately instead of queuing on the store.
	snap := cache.Current()
	assert.Len(t, snap.IPDeny, 1)

	loader.release <- struct{}{}
	<-done
}

func TestCache_FailsOpenWithNoSnapshot(t *testing.T) {
	loader := &stubLoader{err: errors.New("store unreachable")}
	cache := NewCache(loader, time.Minute)

	snap := cache.Current()
	assert.NotNil(t, snap)
	assert.Empty(t, snap.IPDeny)
	assert.Empty(t, snap.IPAllow)
	assert.Empty(t, snap.CORS)
}

func TestCache_SkipsUnparseablePolicy(t *testing.T) {
	loader := &stubLoader{policies: []models.Policy{
		denyPolicy("ok", "203.0.113.0/24", models.ModeEnforce),
		{PolicyID: "broken", Type: models.PolicyTypeIPDeny, Mode: models.ModeEnforce, Config: `{"cidrs":["nope"]}`, Enabled: true},
	}}
	cache := NewCache(loader, time.Minute)

	snap := cache.Current()
	assert.Len(t, snap.IPDeny, 1)
	assert.Equal(t, "ok", snap.IPDeny[0].PolicyID)
}
