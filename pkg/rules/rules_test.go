package rules

import (
	"testing"
	"time"

	"skillswap/pkg/models"
)

func testRule(id string, priority int) models.Rule {
	return models.Rule{
		ID:       id,
		Name:     id,
		Enabled:  true,
		Priority: priority,
		Config: models.Configuration{
			Limit:     5,
			Window:    time.Minute,
			Algorithm: models.AlgorithmFixedWindow,
		},
	}
}

func TestRegistryReplaceAndRemove(t *testing.T) {
	reg := NewRegistry()
	rule := testRule("r1", 1)
	if err := reg.Register(rule); err != nil {
		t.Fatalf("register: %v", err)
	}
	rule.Name = "replaced"
	if err := reg.Register(rule); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	got, ok := reg.Get("r1")
	if !ok || got.Name != "replaced" {
		t.Fatalf("expected replacement, got %+v ok=%v", got, ok)
	}
	reg.Remove("r1")
	if _, ok := reg.Get("r1"); ok {
		t.Fatal("expected rule removed")
	}
}

func TestRegistryRejectsInvalidRule(t *testing.T) {
	reg := NewRegistry()
	bad := testRule("r1", 1)
	bad.Config.Limit = 0
	if err := reg.Register(bad); err == nil {
		t.Fatal("expected validation error")
	}
	withEval := testRule("r2", 1)
	withEval.Conditions.Evaluator = "nope"
	if err := reg.Register(withEval); err == nil {
		t.Fatal("expected unknown evaluator error")
	}
}

func TestApplicablePriorityOrder(t *testing.T) {
	reg := NewRegistry()
	for _, r := range []models.Rule{testRule("low", 1), testRule("high", 10), testRule("mid", 5)} {
		if err := reg.Register(r); err != nil {
			t.Fatalf("register %s: %v", r.ID, err)
		}
	}
	disabled := testRule("off", 99)
	disabled.Enabled = false
	if err := reg.Register(disabled); err != nil {
		t.Fatalf("register disabled: %v", err)
	}
	expired := testRule("expired", 99)
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := reg.Register(expired); err != nil {
		t.Fatalf("register expired: %v", err)
	}

	got := reg.Applicable(models.RequestContext{ClientID: "c1", Endpoint: "GET /x", Method: "GET"})
	if len(got) != 3 {
		t.Fatalf("expected 3 applicable rules, got %d", len(got))
	}
	if got[0].ID != "high" || got[1].ID != "mid" || got[2].ID != "low" {
		t.Fatalf("unexpected order: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMatchConditions(t *testing.T) {
	rc := models.RequestContext{
		ClientID:      "client-7",
		Roles:         []string{"member", "seller"},
		Endpoint:      "GET /api/skills/:id",
		Method:        "GET",
		IP:            "10.1.2.3",
		UserAgent:     "SkillSwap-Mobile/2.1",
		ContentLength: 512,
	}
	now := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC) // a Wednesday

	tests := []struct {
		name string
		cond models.Conditions
		want bool
	}{
		{"empty_matches_all", models.Conditions{}, true},
		{"client_exact", models.Conditions{ClientIDs: []string{"CLIENT-7"}}, true},
		{"client_miss", models.Conditions{ClientIDs: []string{"other"}}, false},
		{"role_overlap", models.Conditions{Roles: []string{"admin", "seller"}}, true},
		{"role_miss", models.Conditions{Roles: []string{"admin"}}, false},
		{"endpoint_glob", models.Conditions{EndpointPatterns: []string{"get /api/skills/*"}}, true},
		{"endpoint_question", models.Conditions{EndpointPatterns: []string{"GET /api/skills/:i?"}}, true},
		{"endpoint_miss", models.Conditions{EndpointPatterns: []string{"POST /api/*"}}, false},
		{"ip_glob", models.Conditions{IPPatterns: []string{"10.1.*"}}, true},
		{"ua_glob", models.Conditions{UserAgentPatterns: []string{"skillswap-mobile/*"}}, true},
		{"size_bounds_ok", models.Conditions{MinContentLength: 100, MaxContentLength: 1024}, true},
		{"size_too_big", models.Conditions{MaxContentLength: 100}, false},
		{"time_window_hit", models.Conditions{TimeWindow: &models.TimeWindow{Start: "09:00", End: "17:00"}}, true},
		{"time_window_miss", models.Conditions{TimeWindow: &models.TimeWindow{Start: "18:00", End: "22:00"}}, false},
		{"time_window_wraps", models.Conditions{TimeWindow: &models.TimeWindow{Start: "22:00", End: "15:00"}}, true},
		{"time_window_day_miss", models.Conditions{TimeWindow: &models.TimeWindow{Start: "09:00", End: "17:00", Days: []time.Weekday{time.Sunday}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchConditions(tt.cond, rc, now); got != tt.want {
				t.Fatalf("matchConditions=%v want %v", got, tt.want)
			}
		})
	}
}

func TestCustomEvaluatorVetoes(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterEvaluator("mobile-only", func(rc models.RequestContext) bool {
		return rc.UserAgent == "mobile"
	})
	rule := testRule("r1", 1)
	rule.Conditions.Evaluator = "mobile-only"
	if err := reg.Register(rule); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := reg.Applicable(models.RequestContext{ClientID: "c", UserAgent: "desktop"}); len(got) != 0 {
		t.Fatalf("expected evaluator veto, got %d rules", len(got))
	}
	if got := reg.Applicable(models.RequestContext{ClientID: "c", UserAgent: "mobile"}); len(got) != 1 {
		t.Fatalf("expected evaluator pass, got %d rules", len(got))
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"", "", true},
		{"", "x", false},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "abd", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*.example.com", "api.example.com", true},
		{"10.0.*.*", "10.0.1.200", true},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.s); got != tt.want {
			t.Fatalf("matchGlob(%q, %q)=%v want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
