// Package guard composes rule matching, rate limiting, reputation and
// auditing into the single admission decision callers consume.
package guard

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"skillswap/pkg/audit"
	"skillswap/pkg/metrics"
	"skillswap/pkg/models"
	"skillswap/pkg/ratelimit"
	"skillswap/pkg/reputation"
	"skillswap/pkg/rules"
	"skillswap/pkg/violations"
)

// Audit event types emitted by the admission path.
const (
	EventAccessDenied     = "access_denied"
	EventBlacklistedDeny  = "blacklisted_request"
	EventStoreUnavailable = "store_unavailable"
)

// Guard is the admission facade. Reputation takes precedence over rules:
// whitelist always admits, blacklist (absent a whitelist entry) always
// denies with Critical severity, and only then are rules evaluated in
// priority order with the first blocking deny short-circuiting.
type Guard struct {
	Rules      *rules.Registry
	Limiter    *ratelimit.Limiter
	Reputation *reputation.Service
	Violations *violations.Recorder
	Audit      *audit.Logger
	Metrics    *metrics.Registry

	// FailOpen admits requests when the shared store is unreachable.
	// The alternative turns a store outage into a full deny of
	// legitimate traffic, so open is the default.
	FailOpen bool
}

func New(reg *rules.Registry, limiter *ratelimit.Limiter, rep *reputation.Service, rec *violations.Recorder, auditLog *audit.Logger) *Guard {
	return &Guard{
		Rules:      reg,
		Limiter:    limiter,
		Reputation: rep,
		Violations: rec,
		Audit:      auditLog,
		FailOpen:   true,
	}
}

// CheckAdmission runs one admission decision for the request. It never
// returns an error: store failures resolve through the fail-open or
// fail-closed policy and everything else degrades to an allow with an
// operational log line.
func (g *Guard) CheckAdmission(ctx context.Context, rc models.RequestContext) models.Verdict {
	if ok, err := g.Reputation.IsWhitelisted(ctx, rc.ClientID); err != nil {
		log.Printf("guard: whitelist lookup for %s failed: %v", rc.ClientID, err)
	} else if ok {
		g.countVerdict("allow", "whitelisted")
		return models.Verdict{Allowed: true, Severity: models.SeverityInformation, Message: "client whitelisted"}
	}

	if ok, err := g.Reputation.IsBlacklisted(ctx, rc.ClientID); err != nil {
		log.Printf("guard: blacklist lookup for %s failed: %v", rc.ClientID, err)
	} else if ok {
		g.countVerdict("deny", "blacklisted")
		g.auditDeny(ctx, rc, EventBlacklistedDeny, "request from blacklisted client rejected", models.SeverityCritical)
		return models.Verdict{
			Allowed:  false,
			Severity: models.SeverityCritical,
			Message:  "client blacklisted",
		}
	}

	applicable := g.Rules.Applicable(rc)
	verdict := models.Verdict{Allowed: true, Severity: models.SeverityInformation}
	var tightest *ratelimit.Decision

	for i := range applicable {
		rule := applicable[i]
		decision, err := g.Limiter.Check(ctx, rc.ClientID, rule)
		if err != nil {
			if g.FailOpen {
				log.Printf("guard: store unavailable for rule %s, admitting per fail-open: %v", rule.ID, err)
				// Reason only; the single verdict for this admission is
				// counted once, after the loop.
				g.countReason("allow", "store_unavailable")
				continue
			}
			g.countVerdict("deny", "store_unavailable")
			g.auditDeny(ctx, rc, EventStoreUnavailable, "request rejected per fail-closed policy", models.SeverityHigh)
			return models.Verdict{
				Allowed:  false,
				Severity: models.SeverityHigh,
				Message:  "service unavailable",
			}
		}

		if !decision.Allowed {
			g.onViolation(ctx, rc, rule)
			if rule.Actions.Block {
				g.countVerdict("deny", rule.ID)
				return denyVerdict(rc, rule, decision)
			}
			// Log-only rule: record the violation but keep evaluating.
			continue
		}
		if tightest == nil || decision.Remaining < tightest.Remaining {
			tightest = &decision
			verdict.RuleID = rule.ID
			verdict.RuleName = rule.Name
		}
	}

	if tightest != nil {
		verdict.CurrentCount = tightest.Count
		verdict.Limit = tightest.Limit
		verdict.Remaining = tightest.Remaining
		verdict.ResetAt = tightest.ResetAt
		verdict.Headers = rateHeaders(*tightest, false)
	}
	g.countVerdict("allow", verdict.RuleID)
	return verdict
}

func denyVerdict(rc models.RequestContext, rule models.Rule, d ratelimit.Decision) models.Verdict {
	v := models.Verdict{
		Allowed:      false,
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		CurrentCount: d.Count,
		Limit:        d.Limit,
		Remaining:    d.Remaining,
		ResetAt:      d.ResetAt,
		RetryAfter:   d.RetryAfter,
		Severity:     models.SeverityMedium,
		Message:      rule.Actions.Message,
		Headers:      rateHeaders(d, true),
	}
	if v.Message == "" {
		v.Message = "rate limit exceeded"
	}
	for k, val := range rule.Actions.Headers {
		v.Headers[k] = val
	}
	return v
}

func rateHeaders(d ratelimit.Decision, denied bool) map[string]string {
	used := int64(d.Limit) - d.Remaining
	if used < 0 {
		used = int64(d.Limit)
	}
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.FormatInt(d.Remaining, 10),
		"X-RateLimit-Used":      strconv.FormatInt(used, 10),
	}
	if denied && d.RetryAfter > 0 {
		secs := int64(d.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		h["Retry-After"] = strconv.FormatInt(secs, 10)
	}
	return h
}

// onViolation records the denial, escalates the client's penalty and
// emits the audit event when the rule asks for logging. None of these
// block the admission path; failures go to the operational log.
func (g *Guard) onViolation(ctx context.Context, rc models.RequestContext, rule models.Rule) {
	if err := g.Violations.Record(ctx, rc, rule); err != nil {
		log.Printf("guard: record violation for %s: %v", rc.ClientID, err)
	}
	if _, err := g.Reputation.ApplyPenalty(ctx, rc.ClientID, rule); err != nil {
		log.Printf("guard: apply penalty for %s: %v", rc.ClientID, err)
	}
	if rule.Actions.Log {
		g.auditDeny(ctx, rc, EventAccessDenied,
			fmt.Sprintf("rule %q denied request from %s", rule.Name, rc.ClientID), models.SeverityMedium)
	}
}

func (g *Guard) auditDeny(ctx context.Context, rc models.RequestContext, eventType, description string, sev models.Severity) {
	if g.Audit == nil {
		return
	}
	_, err := g.Audit.Log(ctx, models.AuditEvent{
		Type:        eventType,
		Description: description,
		Severity:    sev,
		Category:    models.CategoryAuthorization,
		Actor: models.Actor{
			UserID:    rc.ClientID,
			SessionID: rc.SessionID,
			IP:        rc.IP,
			UserAgent: rc.UserAgent,
			RequestID: rc.RequestID,
		},
		Resource: models.Resource{Type: "endpoint", ID: rc.Endpoint, Action: rc.Method, Result: "denied"},
	})
	if err != nil {
		log.Printf("guard: audit write failed: %v", err)
	}
}

func (g *Guard) countVerdict(verdict, reason string) {
	if g.Metrics == nil {
		return
	}
	g.Metrics.IncVerdict(verdict)
	if reason != "" {
		g.Metrics.IncVerdictReason(verdict, reason)
	}
}

func (g *Guard) countReason(verdict, reason string) {
	if g.Metrics == nil {
		return
	}
	g.Metrics.IncVerdictReason(verdict, reason)
}

// LogSecurityEvent appends an application-level security event to the
// audit chain and returns its id.
func (g *Guard) LogSecurityEvent(ctx context.Context, eventType, description string, sev models.Severity, metadata map[string]string) (string, error) {
	return g.Audit.Log(ctx, models.AuditEvent{
		Type:        eventType,
		Description: description,
		Severity:    sev,
		Metadata:    metadata,
	})
}

// GetStatus reports the stored reputation of one client.
func (g *Guard) GetStatus(ctx context.Context, clientID string) (models.ReputationStatus, error) {
	return g.Reputation.Status(ctx, clientID)
}

// VerifyIntegrity checks the audit chain over the given window.
func (g *Guard) VerifyIntegrity(ctx context.Context, from, to time.Time) (audit.IntegrityResult, error) {
	return g.Audit.VerifyIntegrity(ctx, from, to)
}

// Export writes matching audit events to w in the requested format.
func (g *Guard) Export(ctx context.Context, f audit.Filter, format string, w io.Writer) error {
	return g.Audit.Export(ctx, f, format, w)
}
