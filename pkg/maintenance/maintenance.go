// Package maintenance runs the background upkeep cycles: adaptive rate
// limiting, audit archival and periodic chain verification. Every action
// the loop takes is itself recorded in the audit log.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"skillswap/pkg/audit"
	"skillswap/pkg/models"
	"skillswap/pkg/reputation"
	"skillswap/pkg/rules"
	"skillswap/pkg/store"
	"skillswap/pkg/violations"
)

// Audit event types emitted by the loop.
const (
	EventAutoBlacklist   = "auto_blacklist"
	EventRuleTightened   = "rule_tightened"
	EventAuditArchived   = "audit_archived"
	EventIntegrityFailed = "integrity_check_failed"
	EventIntegrityPassed = "integrity_check_passed"
)

const (
	defaultInterval           = time.Hour
	defaultIntegrityInterval  = 24 * time.Hour
	defaultArchiveAfter       = 90 * 24 * time.Hour
	defaultVerifyWindow       = 7 * 24 * time.Hour
	defaultBlacklistThreshold = 10
	defaultBlacklistFor       = 24 * time.Hour
	defaultTightenThreshold   = 50
	defaultShrinkFactor       = 0.8
)

// Lock keys, one per cycle so a long limiting run never starves the
// integrity check.
const (
	lockLimiting  = "maintenance:lock:limiting"
	lockIntegrity = "maintenance:lock:integrity"
)

// Loop is one background maintenance task per process. Cycles are
// idempotent, so running the loop redundantly across processes only
// costs duplicate audit entries, never incorrect state; Lock elects a
// single runner per cycle across the fleet to avoid the duplicates.
type Loop struct {
	Rules      *rules.Registry
	Reputation *reputation.Service
	Violations *violations.Recorder
	Audit      *audit.Logger

	// Lock is the shared store for cross-process cycle election. Nil
	// means every process runs its own cycles.
	Lock store.KV

	Interval          time.Duration
	IntegrityInterval time.Duration
	ArchiveAfter      time.Duration
	VerifyWindow      time.Duration

	BlacklistThreshold int64
	BlacklistFor       time.Duration
	TightenThreshold   int64
	ShrinkFactor       float64

	Now func() time.Time

	instance string
}

func New(reg *rules.Registry, rep *reputation.Service, rec *violations.Recorder, auditLog *audit.Logger) *Loop {
	return &Loop{
		Rules:              reg,
		Reputation:         rep,
		Violations:         rec,
		Audit:              auditLog,
		Interval:           defaultInterval,
		IntegrityInterval:  defaultIntegrityInterval,
		ArchiveAfter:       defaultArchiveAfter,
		VerifyWindow:       defaultVerifyWindow,
		BlacklistThreshold: defaultBlacklistThreshold,
		BlacklistFor:       defaultBlacklistFor,
		TightenThreshold:   defaultTightenThreshold,
		ShrinkFactor:       defaultShrinkFactor,
		Now:                time.Now,
		instance:           uuid.NewString(),
	}
}

// Run blocks until ctx is cancelled, executing limiting maintenance on
// Interval and integrity verification on IntegrityInterval.
func (l *Loop) Run(ctx context.Context) {
	limiting := time.NewTicker(l.Interval)
	defer limiting.Stop()
	integrity := time.NewTicker(l.IntegrityInterval)
	defer integrity.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-limiting.C:
			if !l.lead(ctx, lockLimiting, l.Interval) {
				continue
			}
			if err := l.RunLimitingCycle(ctx); err != nil {
				log.Printf("maintenance: limiting cycle: %v", err)
			}
		case <-integrity.C:
			if !l.lead(ctx, lockIntegrity, l.IntegrityInterval) {
				continue
			}
			if err := l.RunIntegrityCycle(ctx); err != nil {
				log.Printf("maintenance: integrity cycle: %v", err)
			}
		}
	}
}

// lead claims the cross-process lock for one cycle tick. Operator-run
// cycles bypass this; only the ticker path is elected. Lock errors fall
// back to running locally, since cycles are idempotent and a broken
// lock store must not stop maintenance.
func (l *Loop) lead(ctx context.Context, key string, ttl time.Duration) bool {
	if l.Lock == nil {
		return true
	}
	ok, err := l.Lock.SetNX(ctx, key, l.instance, ttl)
	if err != nil {
		log.Printf("maintenance: lock %s: %v", key, err)
		return true
	}
	return ok
}

// RunLimitingCycle archives aged audit events, auto-blacklists clients
// over the violation threshold and tightens over-violated rules.
func (l *Loop) RunLimitingCycle(ctx context.Context) error {
	if err := l.archiveAged(ctx); err != nil {
		return err
	}
	stats, err := l.Violations.Stats(ctx, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("maintenance: violation stats: %w", err)
	}
	if err := l.blacklistOffenders(ctx, stats); err != nil {
		return err
	}
	return l.tightenRules(ctx, stats)
}

func (l *Loop) archiveAged(ctx context.Context) error {
	cutoff := l.Now().Add(-l.ArchiveAfter)
	n, err := l.Audit.Archive(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("maintenance: archive: %w", err)
	}
	if n == 0 {
		return nil
	}
	l.record(ctx, models.AuditEvent{
		Type:        EventAuditArchived,
		Description: fmt.Sprintf("archived %d audit events older than %s", n, cutoff.Format(time.RFC3339)),
		Severity:    models.SeverityInformation,
		Category:    models.CategorySystemEvent,
		Metadata:    map[string]string{"archived": fmt.Sprint(n)},
	})
	return nil
}

func (l *Loop) blacklistOffenders(ctx context.Context, stats models.ViolationStats) error {
	for _, c := range stats.TopClients {
		if c.Count < l.BlacklistThreshold {
			continue
		}
		blacklisted, err := l.Reputation.IsBlacklisted(ctx, c.ClientID)
		if err != nil {
			return fmt.Errorf("maintenance: blacklist lookup: %w", err)
		}
		if blacklisted {
			continue
		}
		reason := fmt.Sprintf("automatic: %d violations over threshold %d", c.Count, l.BlacklistThreshold)
		if err := l.Reputation.Blacklist(ctx, c.ClientID, l.BlacklistFor, reason); err != nil {
			return fmt.Errorf("maintenance: blacklist %s: %w", c.ClientID, err)
		}
		l.record(ctx, models.AuditEvent{
			Type:        EventAutoBlacklist,
			Description: fmt.Sprintf("client %s blacklisted for %s: %s", c.ClientID, l.BlacklistFor, reason),
			Severity:    models.SeverityHigh,
			Category:    models.CategorySecurityIncident,
			Actor:       models.Actor{UserID: c.ClientID},
			Metadata:    map[string]string{"violations": fmt.Sprint(c.Count)},
		})
	}
	return nil
}

func (l *Loop) tightenRules(ctx context.Context, stats models.ViolationStats) error {
	for ruleID, count := range stats.ByRule {
		if count < l.TightenThreshold {
			continue
		}
		rule, ok := l.Rules.Get(ruleID)
		if !ok {
			continue
		}
		oldLimit := rule.Config.Limit
		newLimit := int(float64(oldLimit) * l.ShrinkFactor)
		if newLimit < 1 {
			newLimit = 1
		}
		if newLimit >= oldLimit {
			continue
		}
		rule.Config.Limit = newLimit
		if err := l.Rules.Register(rule); err != nil {
			return fmt.Errorf("maintenance: tighten rule %s: %w", ruleID, err)
		}
		l.record(ctx, models.AuditEvent{
			Type:        EventRuleTightened,
			Description: fmt.Sprintf("rule %q limit tightened from %d to %d after %d violations", rule.Name, oldLimit, newLimit, count),
			Severity:    models.SeverityMedium,
			Category:    models.CategoryConfigurationChange,
			Resource:    models.Resource{Type: "rule", ID: ruleID, Action: "tighten", Result: "success"},
			Metadata: map[string]string{
				"old_limit":  fmt.Sprint(oldLimit),
				"new_limit":  fmt.Sprint(newLimit),
				"violations": fmt.Sprint(count),
			},
		})
	}
	return nil
}

// RunIntegrityCycle verifies the trailing VerifyWindow of the chain and
// escalates a Critical audit event when it is not intact.
func (l *Loop) RunIntegrityCycle(ctx context.Context) error {
	now := l.Now()
	res, err := l.Audit.VerifyIntegrity(ctx, now.Add(-l.VerifyWindow), now)
	if err != nil {
		return fmt.Errorf("maintenance: verify integrity: %w", err)
	}
	if res.IsIntact {
		l.record(ctx, models.AuditEvent{
			Type:        EventIntegrityPassed,
			Description: fmt.Sprintf("audit chain intact, %d events verified", res.EventsVerified),
			Severity:    models.SeverityInformation,
			Category:    models.CategoryComplianceEvent,
		})
		return nil
	}
	l.record(ctx, models.AuditEvent{
		Type:        EventIntegrityFailed,
		Description: fmt.Sprintf("audit chain verification found %d violations in %d events", len(res.Violations), res.EventsVerified),
		Severity:    models.SeverityCritical,
		Category:    models.CategorySecurityIncident,
		Metadata:    map[string]string{"violations": fmt.Sprint(len(res.Violations))},
	})
	return nil
}

func (l *Loop) record(ctx context.Context, ev models.AuditEvent) {
	if _, err := l.Audit.Log(ctx, ev); err != nil {
		log.Printf("maintenance: audit write failed: %v", err)
	}
}
