package violations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"skillswap/pkg/models"
)

func recordAt(t *testing.T, r *Recorder, ts time.Time, clientID, endpoint, ruleID string) {
	t.Helper()
	r.Now = func() time.Time { return ts }
	rc := models.RequestContext{ClientID: clientID, Endpoint: endpoint, Method: "GET", IP: "10.0.0.1"}
	rule := models.Rule{ID: ruleID, Name: ruleID}
	if err := r.Record(context.Background(), rc, rule); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestStatsAggregation(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		recordAt(t, rec, base.Add(time.Duration(i)*time.Minute), "noisy", "GET /api/matches", "r-burst")
	}
	recordAt(t, rec, base.Add(10*time.Minute), "quiet", "GET /api/skills", "r-burst")
	recordAt(t, rec, base.Add(11*time.Minute), "quiet", "GET /api/matches", "r-login")

	rec.Now = time.Now
	stats, err := rec.Stats(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalViolations != 7 {
		t.Fatalf("expected 7 violations, got %d", stats.TotalViolations)
	}
	if len(stats.TopClients) != 2 || stats.TopClients[0].ClientID != "noisy" || stats.TopClients[0].Count != 5 {
		t.Fatalf("unexpected top clients: %+v", stats.TopClients)
	}
	if stats.TopEndpoints[0].Endpoint != "GET /api/matches" || stats.TopEndpoints[0].Count != 6 {
		t.Fatalf("unexpected top endpoints: %+v", stats.TopEndpoints)
	}
	if stats.ByRule["r-burst"] != 6 || stats.ByRule["r-login"] != 1 {
		t.Fatalf("unexpected by-rule counts: %+v", stats.ByRule)
	}
}

func TestStatsDateRange(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())
	base := time.Now().Add(-2 * time.Hour)
	recordAt(t, rec, base, "early", "GET /a", "r1")
	recordAt(t, rec, base.Add(time.Hour), "late", "GET /b", "r1")

	rec.Now = time.Now
	stats, err := rec.Stats(context.Background(), base.Add(30*time.Minute), time.Now())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalViolations != 1 || stats.TopClients[0].ClientID != "late" {
		t.Fatalf("expected only the late violation, got %+v", stats)
	}
}

func TestTopListsCapAtTen(t *testing.T) {
	rec := NewRecorder(NewMemoryStore())
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		recordAt(t, rec, base.Add(time.Duration(i)*time.Second), fmt.Sprintf("client-%02d", i), fmt.Sprintf("GET /e/%02d", i), "r1")
	}
	rec.Now = time.Now
	stats, err := rec.Stats(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats.TopClients) != 10 || len(stats.TopEndpoints) != 10 {
		t.Fatalf("expected capped top lists, got %d clients %d endpoints", len(stats.TopClients), len(stats.TopEndpoints))
	}
}

func TestRedisStoreRetentionPrune(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rec := NewRecorder(NewRedisStore(client))
	rec.Retention = time.Hour

	old := time.Now().Add(-2 * time.Hour)
	recordAt(t, rec, old, "stale", "GET /old", "r1")
	recent := time.Now().Add(-time.Minute)
	recordAt(t, rec, recent, "fresh", "GET /new", "r1")

	rec.Now = time.Now
	stats, err := rec.Stats(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalViolations != 1 || stats.TopClients[0].ClientID != "fresh" {
		t.Fatalf("expected stale entry pruned on write, got %+v", stats)
	}
}
