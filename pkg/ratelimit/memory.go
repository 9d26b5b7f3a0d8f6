package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore mirrors the Redis algorithms under one process-local mutex.
// Single-process only: counters are not shared across service instances.
type MemoryStore struct {
	mu      sync.Mutex
	sliding map[string][]int64
	buckets map[string]bucketState
	fixed   map[string]fixedState
}

type bucketState struct {
	tokens float64
	ts     int64
}

type fixedState struct {
	bucket int64
	count  int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		sliding: map[string][]int64{},
		buckets: map[string]bucketState{},
		fixed:   map[string]fixedState{},
	}
}

func (s *MemoryStore) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sliding[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	count := int64(len(kept))
	allowed := count < int64(limit)
	resetMs := nowMs + window.Milliseconds()
	if allowed {
		kept = append(kept, nowMs)
		count++
	} else if len(kept) > 0 {
		resetMs = kept[0] + window.Milliseconds()
	}
	s.sliding[key] = kept
	return finishDecision(allowed, count, limit, time.UnixMilli(resetMs), now), nil
}

func (s *MemoryStore) TokenBucket(ctx context.Context, key string, capacity int, refillRate float64, ttl time.Duration, now time.Time) (Decision, error) {
	nowMs := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.buckets[key]
	if !ok {
		state = bucketState{tokens: float64(capacity), ts: nowMs}
	}
	elapsed := nowMs - state.ts
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := state.tokens + float64(elapsed)*refillRate/1000.0
	if tokens > float64(capacity) {
		tokens = float64(capacity)
	}
	allowed := tokens >= 1
	if allowed {
		tokens--
	}
	s.buckets[key] = bucketState{tokens: tokens, ts: nowMs}
	return bucketDecision(allowed, tokens, capacity, refillRate, now), nil
}

func (s *MemoryStore) FixedWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	bucket := now.UnixMilli() / window.Milliseconds()
	boundary := time.UnixMilli((bucket + 1) * window.Milliseconds())
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.fixed[key]
	if state.bucket != bucket {
		state = fixedState{bucket: bucket}
	}
	state.count++
	s.fixed[key] = state
	return finishDecision(state.count <= int64(limit), state.count, limit, boundary, now), nil
}
