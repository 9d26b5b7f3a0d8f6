package ratelimit

import (
	"errors"
	"math"
	"strconv"
	"time"
)

var errMalformedReply = errors.New("ratelimit: malformed store reply")

func finishDecision(allowed bool, count int64, limit int, resetAt, now time.Time) Decision {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   allowed,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		if retry := resetAt.Sub(now); retry > 0 {
			d.RetryAfter = retry
		}
	}
	return d
}

func bucketDecision(allowed bool, tokens float64, capacity int, refillRate float64, now time.Time) Decision {
	remaining := int64(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   allowed,
		Count:     int64(capacity) - remaining,
		Limit:     capacity,
		Remaining: remaining,
	}
	if refillRate > 0 {
		toFull := (float64(capacity) - tokens) / refillRate
		d.ResetAt = now.Add(time.Duration(toFull * float64(time.Second)))
		if !allowed {
			toOne := (1 - tokens) / refillRate
			if toOne > 0 {
				d.RetryAfter = time.Duration(toOne * float64(time.Second))
			}
		}
	}
	return d
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}
