package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/metrics"
)

// FamilyLimit is the per-route-family admission configuration: Permits
// requests per window, plus an optional Queue allowance admitted after a
// wait. Queue 0 means immediate rejection past Permits.
type FamilyLimit struct {
	Permits int
	Queue   int
}

// Result is the admission outcome for one request.
type Result struct {
	Allowed bool
	// Queued means the request was admitted into the queue allowance and the
	// caller should wait until WaitUntil before proceeding.
	Queued    bool
	WaitUntil time.Time
	// RetryAfter is the value for the Retry-After header on denial: always
	// the window length.
	RetryAfter time.Duration
}

type partition struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Limiter is a fixed-window, partitioned admission controller. Partition
// counters are the only fine-grained mutable state on the request path; each
// partition has its own lock so window transitions are atomic per key.
type Limiter struct {
	window   time.Duration
	fallback FamilyLimit
	families map[string]FamilyLimit

	mu         sync.Mutex
	partitions map[string]*partition

	now func() time.Time
}

func NewLimiter(window time.Duration, fallback FamilyLimit, families map[string]FamilyLimit) *Limiter {
	if families == nil {
		families = map[string]FamilyLimit{}
	}
	return &Limiter{
		window:     window,
		fallback:   fallback,
		families:   families,
		partitions: make(map[string]*partition),
		now:        time.Now,
	}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Admit counts one request against (family, key) and decides admission.
func (l *Limiter) Admit(family, key string) Result {
	limit := l.limitFor(family)
	p := l.partition(family + "|" + key)

	p.mu.Lock()
	now := l.now()
	if now.Sub(p.windowStart) >= l.window {
		p.windowStart = now
		p.count = 0
	}
	p.count++
	count := p.count
	windowStart := p.windowStart
	p.mu.Unlock()

	switch {
	case count <= limit.Permits:
		metrics.IncRateAdmitted(family)
		return Result{Allowed: true}
	case count <= limit.Permits+limit.Queue:
		metrics.IncRateAdmitted(family)
		return Result{Allowed: true, Queued: true, WaitUntil: windowStart.Add(l.window)}
	default:
		metrics.IncRateDenied(family)
		return Result{RetryAfter: l.window}
	}
}

// AdmitWait is Admit plus the queue discipline: queued callers block until
// the current window expires, bounded by the request context. A cancelled
// wait is reported as a denial.
func (l *Limiter) AdmitWait(ctx context.Context, family, key string) Result {
	res := l.Admit(family, key)
	if !res.Queued {
		return res
	}

	wait := time.Until(res.WaitUntil)
	if wait <= 0 {
		return res
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return res
	case <-ctx.Done():
		metrics.IncRateDenied(family)
		return Result{RetryAfter: l.window}
	}
}

// Sweep evicts partitions whose window expired more than staleWindows windows
// ago, bounding memory under high-cardinality clients. Scheduled via cron.
func (l *Limiter) Sweep(staleWindows int) int {
	cutoff := l.now().Add(-time.Duration(staleWindows+1) * l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, p := range l.partitions {
		p.mu.Lock()
		stale := p.windowStart.Before(cutoff)
		p.mu.Unlock()
		if stale {
			delete(l.partitions, key)
			evicted++
		}
	}
	if evicted > 0 {
		logger.WithComponent("ratelimit").WithField("evicted", evicted).Debug("swept stale partitions")
	}
	return evicted
}

func (l *Limiter) limitFor(family string) FamilyLimit {
	if limit, ok := l.families[family]; ok {
		return limit
	}
	return l.fallback
}

func (l *Limiter) partition(key string) *partition {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.partitions[key]
	if !ok {
		p = &partition{}
		l.partitions[key] = p
	}
	return p
}
