package policy

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tansu-cloud/gateway/internal/logger"
	"github.com/tansu-cloud/gateway/internal/metrics"
	"github.com/tansu-cloud/gateway/internal/models"
)

// RequestContext is the per-request view the engine evaluates against. It is
// derived once by the proxy pipeline and owned by the request's lifetime.
type RequestContext struct {
	Tenant   string
	ClientIP net.IP
	Origin   string
	Method   string
	Path     string
	HasAuth  bool
}

// Verdict is the aggregate outcome of all policy stages for one request.
type Verdict struct {
	Blocked bool
	Status  int
	Reason  string
	// Preflight means the engine synthesized a CORS preflight response; the
	// request must not be forwarded.
	Preflight bool
	// Headers are CORS response headers to apply (preflight or actual).
	Headers map[string]string
	// Decisions collects every policy evaluation for audit emission.
	Decisions []models.Decision
}

// Engine runs the staged policy pipeline: IP-Deny, then IP-Allow, then CORS.
// A request blocked by an earlier stage never reaches later stages.
type Engine struct {
	cache *Cache
}

func NewEngine(cache *Cache) *Engine {
	return &Engine{cache: cache}
}

// Evaluate runs all stages against the request context. It never panics and
// never returns nil: one policy's evaluation failure is contained and the
// remaining policies still run.
func (e *Engine) Evaluate(rc *RequestContext) *Verdict {
	snap := e.cache.Current()
	verdict := &Verdict{Status: http.StatusOK}

	if blocked := e.evaluateIPDeny(snap, rc, verdict); blocked {
		return verdict
	}
	if blocked := e.evaluateIPAllow(snap, rc, verdict); blocked {
		return verdict
	}
	e.evaluateCORS(snap, rc, verdict)
	return verdict
}

// evaluateIPDeny blocks when the client IP matches any Enforce-mode deny
// policy. Policies within the stage are order-insensitive: all are evaluated,
// the first Enforce violation terminates.
func (e *Engine) evaluateIPDeny(snap *Snapshot, rc *RequestContext, verdict *Verdict) bool {
	for i := range snap.IPDeny {
		p := &snap.IPDeny[i]
		decision := e.evaluate(p, func() (bool, string) {
			if matched, cidr := p.MatchIP(rc.ClientIP); matched {
				return true, "client IP " + rc.ClientIP.String() + " matched deny CIDR " + cidr
			}
			return false, "client IP not in deny set"
		})
		if e.applyMode(p, decision, rc, verdict) {
			verdict.Blocked = true
			verdict.Status = http.StatusForbidden
			verdict.Reason = "blocked by IP deny policy"
			return true
		}
	}
	return false
}

// evaluateIPAllow is a no-op when no allow policies exist (open by default).
// With at least one, the client IP must match the union of all allow sets.
func (e *Engine) evaluateIPAllow(snap *Snapshot, rc *RequestContext, verdict *Verdict) bool {
	if len(snap.IPAllow) == 0 {
		return false
	}

	matched := false
	for i := range snap.IPAllow {
		if ok, _ := snap.IPAllow[i].MatchIP(rc.ClientIP); ok {
			matched = true
			break
		}
	}

	blocked := false
	for i := range snap.IPAllow {
		p := &snap.IPAllow[i]
		decision := e.evaluate(p, func() (bool, string) {
			if matched {
				return false, "client IP in allow set"
			}
			return true, "client IP " + rc.ClientIP.String() + " not in any allow set"
		})
		if e.applyMode(p, decision, rc, verdict) {
			blocked = true
		}
	}

	if blocked {
		verdict.Blocked = true
		verdict.Status = http.StatusForbidden
		verdict.Reason = "blocked by IP allowlist"
	}
	return blocked
}

// evaluateCORS synthesizes preflight responses and rejects cross-origin
// requests. Origins are admitted by the union of Enforce-mode policies;
// a match against a Shadow or AuditOnly policy is advisory and never admits
// on its own. Requests without an Origin header, and deployments without
// CORS policies, pass untouched.
func (e *Engine) evaluateCORS(snap *Snapshot, rc *RequestContext, verdict *Verdict) {
	if len(snap.CORS) == 0 || rc.Origin == "" {
		return
	}

	var matchedEnforce *Compiled
	for i := range snap.CORS {
		p := &snap.CORS[i]
		if p.Mode == models.ModeEnforce && matchedEnforce == nil && p.MatchOrigin(rc.Origin) {
			matchedEnforce = p
		}
	}

	blocked := false
	for i := range snap.CORS {
		p := &snap.CORS[i]
		decision := e.evaluate(p, func() (bool, string) {
			if p.MatchOrigin(rc.Origin) {
				return false, "origin " + rc.Origin + " allowed"
			}
			// Enforcing policies share one allow union: if any of them
			// admits the origin, none of them is violated.
			if p.Mode == models.ModeEnforce && matchedEnforce != nil {
				return false, "origin " + rc.Origin + " allowed by another enforcing policy"
			}
			return true, "origin " + rc.Origin + " not in allowed origins"
		})
		if e.applyMode(p, decision, rc, verdict) {
			blocked = true
		}
	}

	if blocked {
		verdict.Blocked = true
		verdict.Status = http.StatusForbidden
		verdict.Reason = "origin not allowed"
		return
	}

	preflight := rc.Method == http.MethodOptions
	if matchedEnforce != nil {
		verdict.Headers = corsHeaders(matchedEnforce.CORS, rc.Origin, preflight)
	}
	// A preflight is always answered by the gateway; without an admitting
	// enforcing policy it carries no allow headers, so browsers reject it
	// client-side.
	if preflight {
		verdict.Preflight = true
		verdict.Status = http.StatusNoContent
	}
}

// evaluate runs one policy's match function with panic containment and emits
// the evaluation metric and duration.
func (e *Engine) evaluate(p *Compiled, match func() (bool, string)) models.Decision {
	start := time.Now()
	decision := models.Decision{PolicyID: p.PolicyID, Type: p.Type, Mode: p.Mode}

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithComponent("policy.engine").WithField("policy", p.PolicyID).
					Errorf("evaluation panic: %v", r)
				decision.Violated = false
				decision.Reason = "evaluation failed"
			}
		}()
		decision.Violated, decision.Reason = match()
	}()

	// A violated policy would block if enforced, whatever its current mode;
	// only Enforce mode turns that into an actual termination.
	decision.WouldBlock = decision.Violated
	metrics.IncPolicyEvaluation(p.PolicyID, string(p.Type), string(p.Mode))
	metrics.ObservePolicyEvaluation(string(p.Type), time.Since(start))
	return decision
}

// applyMode turns a mode-agnostic decision into side effects per enforcement
// stage and reports whether the request must be terminated.
func (e *Engine) applyMode(p *Compiled, decision models.Decision, rc *RequestContext, verdict *Verdict) bool {
	verdict.Decisions = append(verdict.Decisions, decision)

	entry := logger.WithComponent("policy.engine").WithFields(map[string]interface{}{
		"policy":      decision.PolicyID,
		"type":        decision.Type,
		"mode":        decision.Mode,
		"tenant":      rc.Tenant,
		"client_ip":   rc.ClientIP.String(),
		"violated":    decision.Violated,
		"would_block": decision.WouldBlock,
		"reason":      decision.Reason,
	})
	if rc.Origin != "" {
		entry = entry.WithField("origin", rc.Origin)
	}

	if !decision.Violated {
		entry.Debug("policy evaluated")
		return false
	}

	switch p.Mode {
	case models.ModeShadow:
		entry.Debug("policy violated (shadow)")
		return false
	case models.ModeAuditOnly:
		entry.Warn("policy violated (audit only)")
		metrics.IncPolicyViolation(decision.PolicyID, string(decision.Type), string(decision.Mode))
		return false
	case models.ModeEnforce:
		entry.Warn("policy violated, blocking")
		metrics.IncPolicyViolation(decision.PolicyID, string(decision.Type), string(decision.Mode))
		metrics.IncPolicyBlock(decision.PolicyID, string(decision.Type), string(decision.Mode))
		return true
	}
	return false
}

func corsHeaders(cfg *models.CORSConfig, origin string, preflight bool) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Origin": origin,
	}
	if cfg.AllowCredentials {
		headers["Access-Control-Allow-Credentials"] = "true"
	}
	if len(cfg.ExposedHeaders) > 0 && !preflight {
		headers["Access-Control-Expose-Headers"] = strings.Join(cfg.ExposedHeaders, ", ")
	}
	if preflight {
		if len(cfg.Methods) > 0 {
			headers["Access-Control-Allow-Methods"] = strings.Join(cfg.Methods, ", ")
		}
		if len(cfg.Headers) > 0 {
			headers["Access-Control-Allow-Headers"] = strings.Join(cfg.Headers, ", ")
		}
		if cfg.MaxAgeSeconds > 0 {
			headers["Access-Control-Max-Age"] = strconv.Itoa(cfg.MaxAgeSeconds)
		}
	}
	return headers
}
