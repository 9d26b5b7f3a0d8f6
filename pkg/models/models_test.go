package models

import (
	"testing"
	"time"
)

func TestRuleValidate(t *testing.T) {
	base := Rule{
		ID:      "r1",
		Name:    "login burst",
		Enabled: true,
		Config: Configuration{
			Limit:     10,
			Window:    time.Minute,
			Algorithm: AlgorithmSlidingWindow,
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"missing_id", func(r *Rule) { r.ID = "  " }},
		{"zero_limit", func(r *Rule) { r.Config.Limit = 0 }},
		{"zero_window", func(r *Rule) { r.Config.Window = 0 }},
		{"unknown_algorithm", func(r *Rule) { r.Config.Algorithm = "leaky_bucket" }},
		{"bucket_without_capacity", func(r *Rule) {
			r.Config.Algorithm = AlgorithmTokenBucket
			r.Config.RefillRate = 1
		}},
		{"bucket_without_rate", func(r *Rule) {
			r.Config.Algorithm = AlgorithmTokenBucket
			r.Config.BurstCapacity = 5
		}},
		{"negative_penalty", func(r *Rule) { r.Config.PenaltyFactor = -1 }},
		{"bad_time_window", func(r *Rule) {
			r.Conditions.TimeWindow = &TimeWindow{Start: "25:00", End: "26:00"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := base
			tt.mutate(&rule)
			if err := rule.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" critical ")
	if err != nil || sev != SeverityCritical {
		t.Fatalf("unexpected parse result: %v %v", sev, err)
	}
	if _, err := ParseSeverity("fatal"); err == nil {
		t.Fatal("expected error for unknown severity")
	}
	if SeverityInformation.String() != "INFORMATION" || SeverityHigh.String() != "HIGH" {
		t.Fatalf("unexpected severity names: %s %s", SeverityInformation, SeverityHigh)
	}
}

func TestParseClock(t *testing.T) {
	mins, err := ParseClock("09:30")
	if err != nil || mins != 570 {
		t.Fatalf("unexpected clock parse: %d %v", mins, err)
	}
	for _, bad := range []string{"9", "24:00", "12:60", "ab:cd"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCanonicalizeStableOrder(t *testing.T) {
	a, err := Canonicalize(map[string]interface{}{"b": 2, "a": []interface{}{1, "x", true}, "c": nil})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":[1,"x",true],"b":2,"c":null}`
	if string(a) != want {
		t.Fatalf("unexpected canonical form: %s", a)
	}
	b, err := CanonicalizeRaw([]byte(`{"c":null,"a":[1,"x",true],"b":2}`))
	if err != nil {
		t.Fatalf("canonicalize raw: %v", err)
	}
	if string(b) != want {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}
}

func TestCanonicalizePreservesFloats(t *testing.T) {
	out, err := CanonicalizeRaw([]byte(`{"ratio":0.25}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(out) != `{"ratio":0.25}` {
		t.Fatalf("unexpected canonical form: %s", out)
	}
}
