package ratelimit

import (
	"context"
	"testing"
	"time"

	"skillswap/pkg/models"
)

func TestMemorySlidingWindowTrailingLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	window := 10 * time.Second
	limit := 3

	// Admissions spread inside one trailing window never exceed the limit.
	admitted := 0
	for i := 0; i < 6; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		d, err := s.SlidingWindow(ctx, "c1:r1", limit, window, now)
		if err != nil {
			t.Fatalf("sliding: %v", err)
		}
		if d.Allowed {
			admitted++
		}
	}
	if admitted != limit {
		t.Fatalf("expected %d admissions in window, got %d", limit, admitted)
	}

	// Once the earliest entries fall out of the trailing window, capacity returns.
	d, err := s.SlidingWindow(ctx, "c1:r1", limit, window, base.Add(11*time.Second))
	if err != nil || !d.Allowed {
		t.Fatalf("expected admission after slide, got %+v %v", d, err)
	}
}

func TestMemorySlidingWindowDeniedDecision(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 3; i++ {
		if _, err := s.SlidingWindow(ctx, "k", 3, 10*time.Second, now); err != nil {
			t.Fatalf("sliding: %v", err)
		}
	}
	d, err := s.SlidingWindow(ctx, "k", 3, 10*time.Second, now.Add(time.Second))
	if err != nil {
		t.Fatalf("sliding: %v", err)
	}
	if d.Allowed || d.Remaining != 0 || d.RetryAfter <= 0 {
		t.Fatalf("unexpected denied decision: %+v", d)
	}
	if got := d.ResetAt; got != now.Add(10*time.Second) {
		t.Fatalf("expected reset at oldest+window, got %v", got)
	}
}

func TestMemoryTokenBucket(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	capacity := 2
	rate := 1.0 // tokens per second

	first, err := s.TokenBucket(ctx, "k", capacity, rate, time.Minute, now)
	if err != nil || !first.Allowed || first.Remaining != 1 {
		t.Fatalf("unexpected first decision: %+v %v", first, err)
	}
	second, err := s.TokenBucket(ctx, "k", capacity, rate, time.Minute, now)
	if err != nil || !second.Allowed || second.Remaining != 0 {
		t.Fatalf("unexpected second decision: %+v %v", second, err)
	}
	third, err := s.TokenBucket(ctx, "k", capacity, rate, time.Minute, now)
	if err != nil || third.Allowed {
		t.Fatalf("expected empty bucket to deny: %+v %v", third, err)
	}
	if third.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", third.RetryAfter)
	}

	// One second refills one token.
	refilled, err := s.TokenBucket(ctx, "k", capacity, rate, time.Minute, now.Add(time.Second))
	if err != nil || !refilled.Allowed {
		t.Fatalf("expected refill to admit: %+v %v", refilled, err)
	}

	// Idle time beyond capacity/rate fully refills, never exceeding capacity.
	full, err := s.TokenBucket(ctx, "k", capacity, rate, time.Minute, now.Add(time.Hour))
	if err != nil || !full.Allowed || full.Remaining != int64(capacity-1) {
		t.Fatalf("expected full bucket minus one: %+v %v", full, err)
	}
}

func TestMemoryFixedWindowBoundary(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	window := 10 * time.Second
	// Align to a window boundary so the test controls bucket membership.
	base := time.UnixMilli(1_700_000_000_000).Truncate(window)

	for i := 0; i < 2; i++ {
		d, err := s.FixedWindow(ctx, "k", 2, window, base.Add(time.Second))
		if err != nil || !d.Allowed {
			t.Fatalf("unexpected decision %d: %+v %v", i, d, err)
		}
	}
	denied, err := s.FixedWindow(ctx, "k", 2, window, base.Add(2*time.Second))
	if err != nil || denied.Allowed || denied.Count != 3 {
		t.Fatalf("expected third request denied: %+v %v", denied, err)
	}
	if denied.ResetAt != base.Add(window) {
		t.Fatalf("expected reset at window boundary, got %v", denied.ResetAt)
	}

	// Adjacent windows never share a counter.
	next, err := s.FixedWindow(ctx, "k", 2, window, base.Add(window).Add(time.Millisecond))
	if err != nil || !next.Allowed || next.Count != 1 {
		t.Fatalf("expected fresh counter in next window: %+v %v", next, err)
	}
}

func TestLimiterFallsBackOnStoreError(t *testing.T) {
	lim := New(failingStore{})
	now := time.UnixMilli(1_700_000_000_000)
	lim.Now = func() time.Time { return now }
	rule := models.Rule{
		ID: "r1",
		Config: models.Configuration{
			Limit:     1,
			Window:    time.Minute,
			Algorithm: models.AlgorithmFixedWindow,
		},
	}
	d, err := lim.Check(context.Background(), "c1", rule)
	if err != nil || !d.Allowed {
		t.Fatalf("expected fallback admission: %+v %v", d, err)
	}
	d, err = lim.Check(context.Background(), "c1", rule)
	if err != nil || d.Allowed {
		t.Fatalf("expected fallback to keep enforcing the limit: %+v %v", d, err)
	}
}

func TestLimiterSurfacesErrorWithoutFallback(t *testing.T) {
	lim := New(failingStore{})
	lim.Fallback = nil
	rule := models.Rule{
		ID:     "r1",
		Config: models.Configuration{Limit: 1, Window: time.Minute, Algorithm: models.AlgorithmSlidingWindow},
	}
	if _, err := lim.Check(context.Background(), "c1", rule); err == nil {
		t.Fatal("expected store error to surface")
	}
}

type failingStore struct{}

func (failingStore) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	return Decision{}, context.DeadlineExceeded
}

func (failingStore) TokenBucket(ctx context.Context, key string, capacity int, refillRate float64, ttl time.Duration, now time.Time) (Decision, error) {
	return Decision{}, context.DeadlineExceeded
}

func (failingStore) FixedWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	return Decision{}, context.DeadlineExceeded
}
