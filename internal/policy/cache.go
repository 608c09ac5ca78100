package policy

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/models"
)

// Loader is the policy store read surface the cache loads through.
type Loader interface {
	ListEnabled() ([]models.Policy, error)
}

// Compiled is a policy with its config parsed once at load time so the hot
// path never touches JSON or CIDR parsing.
type Compiled struct {
	PolicyID string
	Type     models.PolicyType
	Mode     models.PolicyMode
	Networks []*net.IPNet       // ip_allow / ip_deny
	CORS     *models.CORSConfig // cors
}

// MatchIP reports whether ip falls in any of the policy's CIDR sets and the
// matching CIDR for the decision reason.
func (p *Compiled) MatchIP(ip net.IP) (bool, string) {
	for _, network := range p.Networks {
		if network.Contains(ip) {
			return true, network.String()
		}
	}
	return false, ""
}

// MatchOrigin reports whether origin is accepted by a CORS policy, exact
// string or "*" wildcard.
func (p *Compiled) MatchOrigin(origin string) bool {
	if p.CORS == nil {
		return false
	}
	for _, allowed := range p.CORS.Origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Snapshot is an immutable compiled view of all enabled policies, grouped by
// evaluation stage. Readers hold a snapshot reference for the whole request;
// writers publish a fresh snapshot via atomic pointer swap.
type Snapshot struct {
	IPDeny   []Compiled
	IPAllow  []Compiled
	CORS     []Compiled
	LoadedAt time.Time
}

// Cache is the per-process read-through policy cache. Reads never lock;
// rebuilds are serialized and published atomically. When the store is
// unreachable the last-known-good snapshot keeps serving (fail open) and the
// degraded condition is logged prominently.
type Cache struct {
	loader Loader
	ttl    time.Duration

	current  atomic.Pointer[Snapshot]
	mu       sync.Mutex
	degraded atomic.Bool

	// OnDegraded, if set, fires once per transition into degraded mode.
	OnDegraded func(err error)
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	return &Cache{loader: loader, ttl: ttl}
}

// Current returns the active snapshot, refreshing first if the TTL elapsed.
// It never returns nil and never fails: with no last-known-good snapshot an
// empty (open) snapshot is served.
func (c *Cache) Current() *Snapshot {
	snap := c.current.Load()
	if snap != nil && time.Since(snap.LoadedAt) < c.ttl {
		return snap
	}

	if snap != nil {
		// Stale but serviceable: at most one goroutine refreshes while the
		// rest keep serving the last-known-good snapshot. A slow policy
		// store must never queue the data plane.
		if !c.mu.TryLock() {
			return snap
		}
		defer c.mu.Unlock()
		if cur := c.current.Load(); time.Since(cur.LoadedAt) < c.ttl {
			return cur // lost the refresh race, snapshot is fresh again
		}
		if err := c.refreshLocked(); err != nil {
			c.noteDegraded(err)
		}
		return c.current.Load()
	}

	// Cold start: block on the first load so a reachable store is never
	// bypassed before any policies have been seen.
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := c.current.Load(); cur != nil {
		return cur
	}
	if err := c.refreshLocked(); err != nil {
		c.noteDegraded(err)
		return &Snapshot{LoadedAt: time.Now()}
	}
	return c.current.Load()
}

// Invalidate rebuilds the snapshot synchronously. The policy service calls
// this before any write returns, so same-instance reads observe new state
// immediately.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(); err != nil {
		logger.WithComponent("policy.cache").WithError(err).Warn("invalidate: rebuild failed")
	}
}

func (c *Cache) noteDegraded(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		logger.WithComponent("policy.cache").WithError(err).
			Error("policy store unreachable, serving last-known-good policies")
		if c.OnDegraded != nil {
			c.OnDegraded(err)
		}
	}
}

// refreshLocked loads and compiles a fresh snapshot. Callers hold c.mu.
func (c *Cache) refreshLocked() error {
	policies, err := c.loader.ListEnabled()
	if err != nil {
		return err
	}

	snap := &Snapshot{LoadedAt: time.Now()}
	for i := range policies {
		compiled, err := compile(&policies[i])
		if err != nil {
			// A policy that validated at write time but no longer parses is
			// skipped rather than poisoning the whole snapshot.
			logger.WithComponent("policy.cache").WithError(err).
				WithField("policy", policies[i].PolicyID).Warn("skipping unparseable policy")
			continue
		}
		switch compiled.Type {
		case models.PolicyTypeIPDeny:
			snap.IPDeny = append(snap.IPDeny, compiled)
		case models.PolicyTypeIPAllow:
			snap.IPAllow = append(snap.IPAllow, compiled)
		case models.PolicyTypeCORS:
			snap.CORS = append(snap.CORS, compiled)
		}
	}

	c.current.Store(snap)
	if c.degraded.CompareAndSwap(true, false) {
		logger.WithComponent("policy.cache").Info("policy store reachable again")
	}
	return nil
}

func compile(policy *models.Policy) (Compiled, error) {
	compiled := Compiled{
		PolicyID: policy.PolicyID,
		Type:     policy.Type,
		Mode:     policy.Mode,
	}

	switch policy.Type {
	case models.PolicyTypeIPAllow, models.PolicyTypeIPDeny:
		var cfg models.IPConfig
		if err := json.Unmarshal([]byte(policy.Config), &cfg); err != nil {
			return compiled, err
		}
		for _, cidr := range cfg.CIDRs {
			network, err := parseCIDR(cidr)
			if err != nil {
				return compiled, err
			}
			compiled.Networks = append(compiled.Networks, network)
		}
	case models.PolicyTypeCORS:
		var cfg models.CORSConfig
		if err := json.Unmarshal([]byte(policy.Config), &cfg); err != nil {
			return compiled, err
		}
		compiled.CORS = &cfg
	}

	return compiled, nil
}

// parseCIDR accepts CIDR notation or a bare IP, which is widened to a host
// route (/32 or /128).
func parseCIDR(cidr string) (*net.IPNet, error) {
	if ip := net.ParseIP(cidr); ip != nil {
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
	}
	_, network, err := net.ParseCIDR(cidr)
	return network, err
}
