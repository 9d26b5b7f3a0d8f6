package rules

import (
	"strings"
	"time"

	"skillswap/pkg/models"
)

func matchConditions(c models.Conditions, rc models.RequestContext, now time.Time) bool {
	if !matchExact(c.ClientIDs, rc.ClientID) {
		return false
	}
	if !matchAnyRole(c.Roles, rc.Roles) {
		return false
	}
	if !matchExact(c.Methods, rc.Method) {
		return false
	}
	if !matchPatterns(c.EndpointPatterns, rc.Endpoint) {
		return false
	}
	if !matchPatterns(c.IPPatterns, rc.IP) {
		return false
	}
	if !matchPatterns(c.UserAgentPatterns, rc.UserAgent) {
		return false
	}
	if c.MinContentLength > 0 && rc.ContentLength < c.MinContentLength {
		return false
	}
	if c.MaxContentLength > 0 && rc.ContentLength > c.MaxContentLength {
		return false
	}
	if c.TimeWindow != nil && !matchTimeWindow(*c.TimeWindow, now) {
		return false
	}
	return true
}

func matchExact(values []string, got string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), got) {
			return true
		}
	}
	return false
}

func matchAnyRole(wanted, got []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, g := range got {
			if strings.EqualFold(strings.TrimSpace(w), g) {
				return true
			}
		}
	}
	return false
}

func matchPatterns(patterns []string, got string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchGlob(strings.ToLower(strings.TrimSpace(p)), strings.ToLower(got)) {
			return true
		}
	}
	return false
}

// matchGlob supports * (any run) and ? (any single byte); anything else is
// literal. Iterative with single backtrack point, so hostile patterns stay
// linear enough.
func matchGlob(pattern, s string) bool {
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

func matchTimeWindow(tw models.TimeWindow, now time.Time) bool {
	if len(tw.Days) > 0 {
		dayOK := false
		for _, d := range tw.Days {
			if d == now.Weekday() {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false
		}
	}
	start, err := models.ParseClock(tw.Start)
	if err != nil {
		return false
	}
	end, err := models.ParseClock(tw.End)
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	// window wraps past midnight
	return minute >= start || minute <= end
}
