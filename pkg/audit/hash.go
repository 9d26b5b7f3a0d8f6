package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"skillswap/pkg/models"
)

// EventHash covers the immutable identity of an event plus the previous
// event's hash, which is what links the chain.
func EventHash(ev models.AuditEvent) string {
	payload := strings.Join([]string{
		ev.ID,
		ev.Type,
		ev.Description,
		ev.Actor.UserID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.PreviousEventHash,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Sign binds an event hash to its timestamp under the audit signing key.
func Sign(key []byte, eventHash string, ts time.Time) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(eventHash))
	mac.Write([]byte("|"))
	mac.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(key []byte, ev models.AuditEvent) bool {
	expected := Sign(key, ev.EventHash, ev.Timestamp)
	return hmac.Equal([]byte(expected), []byte(ev.Signature))
}

// RiskScore estimates 0-100 from severity, category and outcome.
func RiskScore(ev models.AuditEvent) int {
	score := 5
	switch ev.Severity {
	case models.SeverityLow:
		score = 25
	case models.SeverityMedium:
		score = 50
	case models.SeverityHigh:
		score = 75
	case models.SeverityCritical:
		score = 90
	}
	switch ev.Category {
	case models.CategorySecurityIncident:
		score += 10
	case models.CategoryAuthentication, models.CategoryAuthorization:
		score += 5
	}
	if strings.EqualFold(ev.Resource.Result, "failure") || strings.EqualFold(ev.Resource.Result, "denied") {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}
