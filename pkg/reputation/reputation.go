// Package reputation tracks per-client standing: whitelist, blacklist and
// an escalating penalty level. Precedence at admission time is whitelist
// over blacklist over rule checks.
package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skillswap/pkg/models"
	"skillswap/pkg/store"
)

const (
	maxPenaltyLevel       = 10.0
	defaultPenaltyDecay   = time.Hour
	recentViolationsLimit = 20
)

type Service struct {
	KV  store.KV
	Now func() time.Time
}

func New(kv store.KV) *Service {
	return &Service{KV: kv, Now: time.Now}
}

type whitelistRecord struct {
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type blacklistRecord struct {
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type penaltyRecord struct {
	Level            float64     `json:"level"`
	ResetAt          time.Time   `json:"reset_at"`
	RecentViolations []time.Time `json:"recent_violations,omitempty"`
}

func whitelistKey(clientID string) string { return "whitelist:" + clientID }
func blacklistKey(clientID string) string { return "blacklist:" + clientID }
func penaltyKey(clientID string) string   { return "penalty:" + clientID }

// Whitelist admits clientID unconditionally for the given duration.
// A non-positive duration whitelists until explicitly removed.
func (s *Service) Whitelist(ctx context.Context, clientID string, duration time.Duration) error {
	rec := whitelistRecord{}
	if duration > 0 {
		rec.ExpiresAt = s.Now().Add(duration)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.KV.Set(ctx, whitelistKey(clientID), string(raw), duration)
}

func (s *Service) Unwhitelist(ctx context.Context, clientID string) error {
	return s.KV.Del(ctx, whitelistKey(clientID))
}

// Blacklist denies clientID (unless whitelisted) for the given duration.
func (s *Service) Blacklist(ctx context.Context, clientID string, duration time.Duration, reason string) error {
	rec := blacklistRecord{Reason: reason}
	if duration > 0 {
		rec.ExpiresAt = s.Now().Add(duration)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.KV.Set(ctx, blacklistKey(clientID), string(raw), duration)
}

func (s *Service) Unblacklist(ctx context.Context, clientID string) error {
	return s.KV.Del(ctx, blacklistKey(clientID))
}

func (s *Service) IsWhitelisted(ctx context.Context, clientID string) (bool, error) {
	_, err := s.KV.Get(ctx, whitelistKey(clientID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) IsBlacklisted(ctx context.Context, clientID string) (bool, error) {
	_, err := s.KV.Get(ctx, blacklistKey(clientID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApplyPenalty escalates the stored penalty level by the rule's penalty
// factor, capped at 10.0, and restarts the decay timer. The level is
// informational: it is reported in status but does not gate admissions.
func (s *Service) ApplyPenalty(ctx context.Context, clientID string, rule models.Rule) (float64, error) {
	factor := rule.Config.PenaltyFactor
	if factor <= 0 {
		factor = 1.0
	}
	decay := rule.Config.MaxPenaltyDuration
	if decay <= 0 {
		decay = defaultPenaltyDecay
	}
	now := s.Now()

	rec := penaltyRecord{Level: 1.0}
	raw, err := s.KV.Get(ctx, penaltyKey(clientID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	if err == nil {
		if unmarshalErr := json.Unmarshal([]byte(raw), &rec); unmarshalErr != nil {
			rec = penaltyRecord{Level: 1.0}
		}
		if rec.Level < 1.0 {
			rec.Level = 1.0
		}
	}

	rec.Level *= factor
	if rec.Level > maxPenaltyLevel {
		rec.Level = maxPenaltyLevel
	}
	rec.ResetAt = now.Add(decay)
	rec.RecentViolations = append(rec.RecentViolations, now)
	if len(rec.RecentViolations) > recentViolationsLimit {
		rec.RecentViolations = rec.RecentViolations[len(rec.RecentViolations)-recentViolationsLimit:]
	}

	out, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if err := s.KV.Set(ctx, penaltyKey(clientID), string(out), decay); err != nil {
		return 0, fmt.Errorf("persist penalty: %w", err)
	}
	return rec.Level, nil
}

// Status reports the full stored standing of clientID.
func (s *Service) Status(ctx context.Context, clientID string) (models.ReputationStatus, error) {
	status := models.ReputationStatus{ClientID: clientID}

	if raw, err := s.KV.Get(ctx, whitelistKey(clientID)); err == nil {
		var rec whitelistRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			status.Whitelisted = true
			status.WhitelistExpiresAt = rec.ExpiresAt
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return status, err
	}

	if raw, err := s.KV.Get(ctx, blacklistKey(clientID)); err == nil {
		var rec blacklistRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			status.Blacklisted = true
			status.BlacklistExpiresAt = rec.ExpiresAt
			status.BlacklistReason = rec.Reason
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return status, err
	}

	if raw, err := s.KV.Get(ctx, penaltyKey(clientID)); err == nil {
		var rec penaltyRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			status.PenaltyLevel = rec.Level
			status.PenaltyResetAt = rec.ResetAt
			status.RecentViolations = rec.RecentViolations
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return status, err
	}

	return status, nil
}
