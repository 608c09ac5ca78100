package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	policyEvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tansu_policy_evaluations_total",
		Help: "Total number of policy evaluations",
	}, []string{"policy", "type", "mode"})
	policyViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tansu_policy_violations_total",
		Help: "Total number of policy violations (AuditOnly and Enforce modes)",
	}, []string{"policy", "type", "mode"})
	policyBlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tansu_policy_blocks_total",
		Help: "Total number of requests blocked by Enforce-mode policies",
	}, []string{"policy", "type", "mode"})
	policyEvaluationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tansu_policy_evaluation_seconds",
		Help:    "Policy evaluation duration",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"type"})

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tansu_output_cache_hits_total",
		Help: "Total number of responses served from the output cache",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tansu_output_cache_misses_total",
		Help: "Total number of cacheable requests that missed the output cache",
	})
	cacheStoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tansu_output_cache_stores_total",
		Help: "Total number of responses written to the output cache",
	})

	rateAdmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tansu_ratelimit_admitted_total",
		Help: "Total number of requests admitted by the rate limiter",
	}, []string{"family"})
	rateDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tansu_ratelimit_denied_total",
		Help: "Total number of requests denied with 429",
	}, []string{"family"})

	proxyRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tansu_proxy_requests_total",
		Help: "Total number of data-plane requests by outcome",
	}, []string{"outcome"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		policyEvaluationsTotal, policyViolationsTotal, policyBlocksTotal,
		policyEvaluationSeconds,
		cacheHitsTotal, cacheMissesTotal, cacheStoresTotal,
		rateAdmittedTotal, rateDeniedTotal,
		proxyRequestsTotal,
	)
}

// IncPolicyEvaluation increments the evaluated policies counter.
func IncPolicyEvaluation(policy, ptype, mode string) {
	policyEvaluationsTotal.WithLabelValues(policy, ptype, mode).Inc()
}

// IncPolicyViolation increments the violations counter.
func IncPolicyViolation(policy, ptype, mode string) {
	policyViolationsTotal.WithLabelValues(policy, ptype, mode).Inc()
}

// IncPolicyBlock increments the Enforce-mode blocks counter.
func IncPolicyBlock(policy, ptype, mode string) {
	policyBlocksTotal.WithLabelValues(policy, ptype, mode).Inc()
}

// ObservePolicyEvaluation records how long one policy evaluation took.
func ObservePolicyEvaluation(ptype string, d time.Duration) {
	policyEvaluationSeconds.WithLabelValues(ptype).Observe(d.Seconds())
}

// IncCacheHit increments the output cache hit counter.
func IncCacheHit() { cacheHitsTotal.Inc() }

// IncCacheMiss increments the output cache miss counter.
func IncCacheMiss() { cacheMissesTotal.Inc() }

// IncCacheStore increments the output cache store counter.
func IncCacheStore() { cacheStoresTotal.Inc() }

// IncRateAdmitted increments the admitted counter for a route family.
func IncRateAdmitted(family string) { rateAdmittedTotal.WithLabelValues(family).Inc() }

// IncRateDenied increments the denied counter for a route family.
func IncRateDenied(family string) { rateDeniedTotal.WithLabelValues(family).Inc() }

// IncProxyRequest increments the data-plane outcome counter. Outcomes:
// forwarded, blocked, rate_limited, cache_hit, no_route, upstream_error.
func IncProxyRequest(outcome string) { proxyRequestsTotal.WithLabelValues(outcome).Inc() }
