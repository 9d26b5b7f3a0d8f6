// Package ratelimit implements the admission decision engine: three
// algorithms executed as one atomic read-modify-write per check against a
// shared store keyed by (client, rule).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"skillswap/pkg/models"
)

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store executes one admission algorithm atomically. Two concurrent calls
// for the same key must never both observe the pre-update state.
type Store interface {
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
	TokenBucket(ctx context.Context, key string, capacity int, refillRate float64, ttl time.Duration, now time.Time) (Decision, error)
	FixedWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error)
}

// Limiter dispatches a rule's configured algorithm against the shared
// store, falling back to the in-memory store when the shared one errors.
// The fallback trades cross-process consistency for availability; set
// Fallback to nil to surface store errors to the caller instead.
type Limiter struct {
	Store    Store
	Fallback Store
	Now      func() time.Time
}

func New(store Store) *Limiter {
	return &Limiter{Store: store, Fallback: NewMemory(), Now: time.Now}
}

// Check runs one atomic admission check for clientID under rule.
func (l *Limiter) Check(ctx context.Context, clientID string, rule models.Rule) (Decision, error) {
	now := l.now()
	key := fmt.Sprintf("limit:%s:%s", clientID, rule.ID)
	decision, err := l.run(ctx, l.Store, key, rule.Config, now)
	if err != nil && l.Fallback != nil {
		return l.run(ctx, l.Fallback, key, rule.Config, now)
	}
	return decision, err
}

func (l *Limiter) run(ctx context.Context, s Store, key string, cfg models.Configuration, now time.Time) (Decision, error) {
	switch cfg.Algorithm {
	case models.AlgorithmTokenBucket:
		capacity := cfg.BurstCapacity
		if capacity <= 0 {
			capacity = cfg.Limit
		}
		rate := cfg.RefillRate
		if rate <= 0 {
			rate = float64(cfg.Limit) / cfg.Window.Seconds()
		}
		return s.TokenBucket(ctx, key, capacity, rate, bucketTTL(capacity, rate, cfg.Window), now)
	case models.AlgorithmFixedWindow:
		return s.FixedWindow(ctx, key, cfg.Limit, cfg.Window, now)
	default:
		return s.SlidingWindow(ctx, key, cfg.Limit, cfg.Window, now)
	}
}

// bucketTTL keeps bucket state alive until a full refill completes. A
// slow-refill bucket that expired on the rule window would hand an idle
// client a fresh full bucket before the refill math allows it.
func bucketTTL(capacity int, rate float64, window time.Duration) time.Duration {
	ttl := window
	if rate > 0 {
		if refill := time.Duration(float64(capacity) / rate * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return ttl
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
