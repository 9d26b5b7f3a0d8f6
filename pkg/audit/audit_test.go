package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"skillswap/pkg/models"
)

var testKey = []byte("unit-test-signing-key")

func newTestLogger(t *testing.T) (*Logger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l, err := NewLogger(store, testKey)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return l, store
}

func logEvent(t *testing.T, l *Logger, eventType, userID string, sev models.Severity) string {
	t.Helper()
	id, err := l.Log(context.Background(), models.AuditEvent{
		Type:        eventType,
		Description: eventType + " happened",
		Severity:    sev,
		Actor:       models.Actor{UserID: userID},
	})
	if err != nil {
		t.Fatalf("log %s: %v", eventType, err)
	}
	return id
}

func TestLoggerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewLogger(nil, testKey); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewLogger(NewMemoryStore(), nil); err == nil {
		t.Fatal("expected error for empty signing key")
	}
	l, _ := newTestLogger(t)
	if _, err := l.Log(context.Background(), models.AuditEvent{Type: "  "}); err == nil {
		t.Fatal("expected error for empty event type")
	}
}

func TestChainLinksSequentialEvents(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	logEvent(t, l, "login", "u1", models.SeverityLow)
	logEvent(t, l, "rule_update", "u2", models.SeverityMedium)
	logEvent(t, l, "blacklist_add", "u1", models.SeverityHigh)

	events, err := l.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].PreviousEventHash != "" {
		t.Fatalf("first event must anchor the chain, got %q", events[0].PreviousEventHash)
	}
	for i := 1; i < len(events); i++ {
		if events[i].PreviousEventHash != events[i-1].EventHash {
			t.Fatalf("event %d not linked to predecessor", i)
		}
	}
	for _, ev := range events {
		if ev.EventHash != EventHash(ev) {
			t.Fatalf("stored hash mismatch for %s", ev.ID)
		}
		if !validSignature(testKey, ev) {
			t.Fatalf("invalid signature for %s", ev.ID)
		}
	}
}

func TestVerifyIntegrityIntactChain(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	for i := 0; i < 5; i++ {
		logEvent(t, l, "login", "u1", models.SeverityInformation)
	}
	res, err := l.VerifyIntegrity(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.IsIntact || res.EventsVerified != 5 || len(res.Violations) != 0 {
		t.Fatalf("expected intact chain, got %+v", res)
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	t.Parallel()

	l, store := newTestLogger(t)
	logEvent(t, l, "login", "u1", models.SeverityLow)
	target := logEvent(t, l, "payment", "u2", models.SeverityMedium)
	logEvent(t, l, "logout", "u1", models.SeverityLow)

	if !store.Tamper(target, func(ev *models.AuditEvent) {
		ev.Description = "rewritten after the fact"
	}) {
		t.Fatal("tamper target not found")
	}

	res, err := l.VerifyIntegrity(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.IsIntact {
		t.Fatal("expected tampering to be detected")
	}
	kinds := map[string]bool{}
	for _, v := range res.Violations {
		if v.EventID == target {
			kinds[v.Kind] = true
		}
	}
	if !kinds[ViolationEventHash] {
		t.Fatalf("expected an event hash violation on the tampered event, got %+v", res.Violations)
	}
}

func TestVerifyIntegrityDetectsBrokenLink(t *testing.T) {
	t.Parallel()

	l, store := newTestLogger(t)
	logEvent(t, l, "a", "u1", models.SeverityLow)
	mid := logEvent(t, l, "b", "u1", models.SeverityLow)
	logEvent(t, l, "c", "u1", models.SeverityLow)

	store.Tamper(mid, func(ev *models.AuditEvent) {
		ev.PreviousEventHash = "forged"
		// Recompute hash and signature so only the link is wrong.
		ev.EventHash = EventHash(*ev)
		ev.Signature = Sign(testKey, ev.EventHash, ev.Timestamp)
	})

	res, err := l.VerifyIntegrity(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.IsIntact {
		t.Fatal("expected broken link to be detected")
	}
	found := false
	for _, v := range res.Violations {
		if v.Kind == ViolationChain {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a chain violation, got %+v", res.Violations)
	}
}

func TestVerifyIntegrityWindowed(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	now := time.Now().UTC()
	clock := now.Add(-3 * time.Hour)
	l.Now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}
	logEvent(t, l, "old", "u1", models.SeverityLow)
	logEvent(t, l, "recent1", "u1", models.SeverityLow)
	logEvent(t, l, "recent2", "u1", models.SeverityLow)

	res, err := l.VerifyIntegrity(context.Background(), now.Add(-90*time.Minute), now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.IsIntact || res.EventsVerified != 2 {
		t.Fatalf("expected 2 intact events in window, got %+v", res)
	}
}

func TestQueryFilters(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	logEvent(t, l, "login", "alice", models.SeverityLow)
	logEvent(t, l, "login", "bob", models.SeverityLow)
	logEvent(t, l, "breach", "bob", models.SeverityCritical)

	byUser, err := l.Query(context.Background(), Filter{UserID: "bob"})
	if err != nil {
		t.Fatalf("query by user: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 events for bob, got %d", len(byUser))
	}

	crit := models.SeverityCritical
	bySev, err := l.Query(context.Background(), Filter{Severity: &crit})
	if err != nil {
		t.Fatalf("query by severity: %v", err)
	}
	if len(bySev) != 1 || bySev[0].Type != "breach" {
		t.Fatalf("expected the breach event, got %+v", bySev)
	}

	limited, err := l.Query(context.Background(), Filter{Limit: 1})
	if err != nil {
		t.Fatalf("query limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestExportJSONRoundTrip(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	logEvent(t, l, "login", "u1", models.SeverityLow)
	logEvent(t, l, "logout", "u1", models.SeverityLow)

	var buf bytes.Buffer
	if err := l.Export(context.Background(), Filter{}, FormatJSON, &buf); err != nil {
		t.Fatalf("export json: %v", err)
	}
	var events []models.AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &events); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(events) != 2 || events[0].Type != "login" {
		t.Fatalf("unexpected export contents: %+v", events)
	}
	if events[1].PreviousEventHash != events[0].EventHash {
		t.Fatal("export must preserve the chain fields")
	}
}

func TestExportCSVAndXML(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	logEvent(t, l, "login", "u1", models.SeverityLow)

	var csvBuf bytes.Buffer
	if err := l.Export(context.Background(), Filter{}, FormatCSV, &csvBuf); err != nil {
		t.Fatalf("export csv: %v", err)
	}
	rows, err := csv.NewReader(&csvBuf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "id" || rows[1][2] != "login" {
		t.Fatalf("unexpected csv rows: %+v", rows)
	}

	var xmlBuf bytes.Buffer
	if err := l.Export(context.Background(), Filter{}, FormatXML, &xmlBuf); err != nil {
		t.Fatalf("export xml: %v", err)
	}
	out := xmlBuf.String()
	if !strings.Contains(out, "<auditEvents>") || !strings.Contains(out, "<type>login</type>") {
		t.Fatalf("unexpected xml output: %s", out)
	}

	if err := l.Export(context.Background(), Filter{}, "yaml", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestArchiveMovesOldEvents(t *testing.T) {
	t.Parallel()

	l, store := newTestLogger(t)
	now := time.Now().UTC()
	clock := now.Add(-48 * time.Hour)
	l.Now = func() time.Time {
		clock = clock.Add(24 * time.Hour)
		return clock
	}
	logEvent(t, l, "stale", "u1", models.SeverityLow)
	logEvent(t, l, "fresh", "u1", models.SeverityLow)

	cold := &captureArchive{}
	l.Cold = cold
	n, err := l.Archive(context.Background(), now.Add(-12*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived event, got %d", n)
	}
	if len(cold.events) != 1 || cold.events[0].Type != "stale" {
		t.Fatalf("cold archive did not receive the stale event: %+v", cold.events)
	}
	live, err := store.Events(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(live) != 1 || live[0].Type != "fresh" {
		t.Fatalf("expected only the fresh event to remain, got %+v", live)
	}
}

type captureArchive struct {
	events []models.AuditEvent
}

func (c *captureArchive) Store(ctx context.Context, events []models.AuditEvent) error {
	c.events = append(c.events, events...)
	return nil
}

func TestGenerateReport(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger(t)
	logEvent(t, l, "login", "alice", models.SeverityLow)
	logEvent(t, l, "login", "bob", models.SeverityLow)
	id, err := l.Log(context.Background(), models.AuditEvent{
		Type:        "breach",
		Description: "credential stuffing detected",
		Severity:    models.SeverityCritical,
		Category:    models.CategorySecurityIncident,
		Actor:       models.Actor{UserID: "bob"},
	})
	if err != nil {
		t.Fatalf("log breach: %v", err)
	}

	rep, err := l.GenerateReport(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.TotalEvents != 3 {
		t.Fatalf("expected 3 events, got %d", rep.TotalEvents)
	}
	if rep.BySeverity["CRITICAL"] != 1 || rep.ByType["login"] != 2 {
		t.Fatalf("unexpected report counts: %+v", rep)
	}
	if len(rep.HighRiskEvents) != 1 || rep.HighRiskEvents[0].ID != id {
		t.Fatalf("expected the breach flagged as high risk, got %+v", rep.HighRiskEvents)
	}
	if !rep.Integrity.IsIntact {
		t.Fatalf("expected intact integrity in report: %+v", rep.Integrity)
	}
	if rep.TopActors[0].UserID != "bob" || rep.TopActors[0].Count != 2 {
		t.Fatalf("unexpected top actors: %+v", rep.TopActors)
	}
}

func TestRiskScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ev   models.AuditEvent
		want int
	}{
		{models.AuditEvent{Severity: models.SeverityInformation}, 5},
		{models.AuditEvent{Severity: models.SeverityLow}, 25},
		{models.AuditEvent{Severity: models.SeverityHigh, Category: models.CategoryAuthentication}, 80},
		{models.AuditEvent{Severity: models.SeverityCritical, Category: models.CategorySecurityIncident, Resource: models.Resource{Result: "failure"}}, 100},
	}
	for _, tc := range cases {
		if got := RiskScore(tc.ev); got != tc.want {
			t.Fatalf("risk score for %+v: expected %d, got %d", tc.ev, tc.want, got)
		}
	}
}
