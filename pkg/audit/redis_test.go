package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"skillswap/pkg/models"
)

func newRedisLogger(t *testing.T) (*Logger, *RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	l, err := NewLogger(store, testKey)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return l, store, mr
}

func TestRedisStoreChainAndIndices(t *testing.T) {
	l, _, _ := newRedisLogger(t)
	logEvent(t, l, "login", "alice", models.SeverityLow)
	logEvent(t, l, "breach", "bob", models.SeverityCritical)
	logEvent(t, l, "logout", "alice", models.SeverityLow)

	events, err := l.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].PreviousEventHash != events[i-1].EventHash {
			t.Fatalf("event %d not linked to predecessor", i)
		}
	}

	byUser, err := l.Query(context.Background(), Filter{UserID: "alice"})
	if err != nil {
		t.Fatalf("query by user: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(byUser))
	}

	crit := models.SeverityCritical
	bySev, err := l.Query(context.Background(), Filter{Severity: &crit})
	if err != nil {
		t.Fatalf("query by severity: %v", err)
	}
	if len(bySev) != 1 || bySev[0].Type != "breach" {
		t.Fatalf("expected the breach event, got %+v", bySev)
	}

	res, err := l.VerifyIntegrity(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.IsIntact || res.EventsVerified != 3 {
		t.Fatalf("expected intact chain of 3, got %+v", res)
	}
}

func TestRedisStoreArchiveMovesRecords(t *testing.T) {
	l, store, mr := newRedisLogger(t)
	now := time.Now().UTC()
	clock := now.Add(-48 * time.Hour)
	l.Now = func() time.Time {
		clock = clock.Add(24 * time.Hour)
		return clock
	}
	staleID := logEvent(t, l, "stale", "u1", models.SeverityLow)
	logEvent(t, l, "fresh", "u1", models.SeverityLow)

	moved, err := store.Archive(context.Background(), now.Add(-12*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(moved) != 1 || moved[0].Type != "stale" {
		t.Fatalf("expected the stale event archived, got %+v", moved)
	}
	if !mr.Exists(archiveKey(staleID)) {
		t.Fatal("archived record missing from archive namespace")
	}
	if mr.Exists(eventKey(staleID)) {
		t.Fatal("archived record still in live namespace")
	}

	live, err := l.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(live) != 1 || live[0].Type != "fresh" {
		t.Fatalf("expected only the fresh event live, got %+v", live)
	}
}

func TestRedisStoreRetentionTTL(t *testing.T) {
	l, _, mr := newRedisLogger(t)
	if _, err := l.Log(context.Background(), models.AuditEvent{
		Type:          "short_lived",
		Description:   "retention check",
		RetentionDays: 1,
	}); err != nil {
		t.Fatalf("log: %v", err)
	}

	mr.FastForward(25 * time.Hour)

	events, err := l.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected record expired by retention, got %+v", events)
	}
}
