// Package violations keeps the global time-ordered log of denied requests
// and derives the statistics the maintenance loop acts on.
package violations

import (
	"context"
	"sort"
	"time"

	"skillswap/pkg/models"
)

const (
	defaultRetention = 30 * 24 * time.Hour
	topListSize      = 10
)

// Store holds the time-ordered violation log. Add prunes entries older
// than the retention horizon as part of the same write.
type Store interface {
	Add(ctx context.Context, v models.Violation, retainAfter time.Time) error
	Range(ctx context.Context, from, to time.Time) ([]models.Violation, error)
}

type Recorder struct {
	Store     Store
	Retention time.Duration
	Now       func() time.Time
}

func NewRecorder(s Store) *Recorder {
	return &Recorder{Store: s, Retention: defaultRetention, Now: time.Now}
}

// Record appends one denied request to the log.
func (r *Recorder) Record(ctx context.Context, rc models.RequestContext, rule models.Rule) error {
	now := r.Now()
	v := models.Violation{
		ClientID:  rc.ClientID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Endpoint:  rc.Endpoint,
		Method:    rc.Method,
		IP:        rc.IP,
		Timestamp: now,
	}
	return r.Store.Add(ctx, v, now.Add(-r.Retention))
}

// Stats aggregates the log over [from, to]; zero bounds widen to the full
// retention window.
func (r *Recorder) Stats(ctx context.Context, from, to time.Time) (models.ViolationStats, error) {
	now := r.Now()
	if from.IsZero() {
		from = now.Add(-r.Retention)
	}
	if to.IsZero() {
		to = now
	}
	entries, err := r.Store.Range(ctx, from, to)
	if err != nil {
		return models.ViolationStats{}, err
	}

	stats := models.ViolationStats{
		TotalViolations: int64(len(entries)),
		ByRule:          map[string]int64{},
	}
	clients := map[string]int64{}
	endpoints := map[string]int64{}
	for _, v := range entries {
		clients[v.ClientID]++
		endpoints[v.Endpoint]++
		stats.ByRule[v.RuleID]++
	}
	stats.TopClients = topClients(clients)
	stats.TopEndpoints = topEndpoints(endpoints)
	return stats, nil
}

func topClients(counts map[string]int64) []models.ClientViolations {
	out := make([]models.ClientViolations, 0, len(counts))
	for id, n := range counts {
		out = append(out, models.ClientViolations{ClientID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ClientID < out[j].ClientID
	})
	if len(out) > topListSize {
		out = out[:topListSize]
	}
	return out
}

func topEndpoints(counts map[string]int64) []models.EndpointViolations {
	out := make([]models.EndpointViolations, 0, len(counts))
	for ep, n := range counts {
		out = append(out, models.EndpointViolations{Endpoint: ep, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	if len(out) > topListSize {
		out = out[:topListSize]
	}
	return out
}
