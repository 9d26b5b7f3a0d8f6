package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"skillswap/pkg/models"
)

// Report summarizes a window of the audit log for compliance review.
type Report struct {
	From           time.Time               `json:"from"`
	To             time.Time               `json:"to"`
	GeneratedAt    time.Time               `json:"generatedAt"`
	TotalEvents    int                     `json:"totalEvents"`
	BySeverity     map[string]int          `json:"bySeverity"`
	ByCategory     map[models.Category]int `json:"byCategory"`
	ByType         map[string]int          `json:"byType"`
	HighRiskEvents []models.AuditEvent     `json:"highRiskEvents,omitempty"`
	TopActors      []ActorActivity         `json:"topActors,omitempty"`
	Integrity      IntegrityResult         `json:"integrity"`
}

type ActorActivity struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

const (
	highRiskThreshold = 75
	reportTopActors   = 10
)

// GenerateReport aggregates the window and runs an integrity check over
// it, so a report always states whether the data it summarizes is intact.
func (l *Logger) GenerateReport(ctx context.Context, from, to time.Time) (Report, error) {
	events, err := l.store.Events(ctx, Filter{From: from, To: to})
	if err != nil {
		return Report{}, fmt.Errorf("audit: load events for report: %w", err)
	}
	rep := Report{
		From:        from,
		To:          to,
		GeneratedAt: l.Now().UTC(),
		TotalEvents: len(events),
		BySeverity:  make(map[string]int),
		ByCategory:  make(map[models.Category]int),
		ByType:      make(map[string]int),
	}
	byActor := make(map[string]int)
	for _, ev := range events {
		rep.BySeverity[ev.Severity.String()]++
		rep.ByCategory[ev.Category]++
		rep.ByType[ev.Type]++
		if ev.Actor.UserID != "" {
			byActor[ev.Actor.UserID]++
		}
		if ev.RiskScore >= highRiskThreshold {
			rep.HighRiskEvents = append(rep.HighRiskEvents, ev)
		}
	}
	for id, n := range byActor {
		rep.TopActors = append(rep.TopActors, ActorActivity{UserID: id, Count: n})
	}
	sort.Slice(rep.TopActors, func(i, j int) bool {
		if rep.TopActors[i].Count != rep.TopActors[j].Count {
			return rep.TopActors[i].Count > rep.TopActors[j].Count
		}
		return rep.TopActors[i].UserID < rep.TopActors[j].UserID
	})
	if len(rep.TopActors) > reportTopActors {
		rep.TopActors = rep.TopActors[:reportTopActors]
	}
	integrity, err := l.VerifyIntegrity(ctx, from, to)
	if err != nil {
		return Report{}, err
	}
	rep.Integrity = integrity
	return rep, nil
}
