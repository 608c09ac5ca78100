package routing

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tansu-cloud/gateway/internal/alert"
	"github.com/tansu-cloud/gateway/internal/logger"
)

// Destination health classifications.
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusUnknown  = "unknown"
)

// DestinationHealth is the advisory probe result for one destination. Probing
// never mutates the routing table.
type DestinationHealth struct {
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Code      int       `json:"code,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober issues health checks against every route destination and alerts
// operators on state transitions.
type Prober struct {
	table           *Table
	client          *http.Client
	alerter         *alert.Alerter
	degradedLatency time.Duration

	results atomic.Pointer[[]DestinationHealth]

	mu   sync.Mutex
	seen map[string]string // destination URL -> last status
}

func NewProber(table *Table, alerter *alert.Alerter, timeout time.Duration) *Prober {
	return &Prober{
		table:           table,
		client:          &http.Client{Timeout: timeout},
		alerter:         alerter,
		degradedLatency: timeout / 2,
		seen:            make(map[string]string),
	}
}

// Results returns the latest probe results, or nil before the first run.
func (p *Prober) Results() []DestinationHealth {
	if results := p.results.Load(); results != nil {
		return *results
	}
	return nil
}

// ProbeAll checks every distinct destination in the active table once and
// stores the results atomically. Scheduled via cron; safe to call manually.
func (p *Prober) ProbeAll() []DestinationHealth {
	routes := p.table.Routes()

	distinct := make([]string, 0)
	seen := make(map[string]struct{})
	for _, route := range routes {
		for _, dest := range route.Destinations {
			if _, ok := seen[dest.URL]; !ok {
				seen[dest.URL] = struct{}{}
				distinct = append(distinct, dest.URL)
			}
		}
	}

	results := make([]DestinationHealth, len(distinct))
	var wg sync.WaitGroup
	for i, destURL := range distinct {
		wg.Add(1)
		go func(i int, destURL string) {
			defer wg.Done()
			results[i] = p.probe(destURL)
		}(i, destURL)
	}
	wg.Wait()

	p.results.Store(&results)
	p.notifyTransitions(results)
	return results
}

func (p *Prober) probe(destURL string) DestinationHealth {
	start := time.Now()
	health := DestinationHealth{URL: destURL, CheckedAt: start}

	resp, err := p.client.Get(destURL)
	health.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		// Timeouts and refused connections are advisory only; classify rather
		// than guess. A timeout is "unknown" (the destination may be alive
		// but slow), everything else is down.
		if isTimeout(err) {
			health.Status = StatusUnknown
		} else {
			health.Status = StatusDown
		}
		health.Message = err.Error()
		return health
	}
	defer resp.Body.Close()

	health.Code = resp.StatusCode
	health.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)

	switch {
	case resp.StatusCode >= 500:
		health.Status = StatusDown
	case time.Duration(health.LatencyMS)*time.Millisecond > p.degradedLatency:
		health.Status = StatusDegraded
	default:
		// 2xx/3xx and auth challenges (401/403) all mean the service is up.
		health.Status = StatusUp
	}
	return health
}

func (p *Prober) notifyTransitions(results []DestinationHealth) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, health := range results {
		previous, known := p.seen[health.URL]
		p.seen[health.URL] = health.Status
		if !known || previous == health.Status {
			continue
		}
		logger.WithComponent("routing.prober").WithFields(map[string]interface{}{
			"destination": health.URL,
			"from":        previous,
			"to":          health.Status,
			"latency_ms":  health.LatencyMS,
		}).Info("destination status changed")
		if p.alerter != nil {
			p.alerter.Send(
				fmt.Sprintf("Destination %s is %s", health.URL, health.Status),
				fmt.Sprintf("status changed from %s to %s (%s, %dms)", previous, health.Status, health.Message, health.LatencyMS),
			)
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return false
}
