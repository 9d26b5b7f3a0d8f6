package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"skillswap/pkg/models"
)

type archiveDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGArchive is the cold compliance store. Archived events keep their full
// JSON body and their integrity fields, so the chain can still be audited
// after events leave the live store.
type PGArchive struct {
	DB archiveDB
}

func NewPGArchive(db archiveDB) *PGArchive {
	return &PGArchive{DB: db}
}

func (a *PGArchive) Store(ctx context.Context, events []models.AuditEvent) error {
	for _, ev := range events {
		// Canonical bytes keep archived rows byte-stable across re-archival.
		body, err := models.Canonicalize(ev)
		if err != nil {
			return err
		}
		_, err = a.DB.Exec(ctx, `
			INSERT INTO audit_archive
			(event_id, event_type, severity, category, user_id, event_hash, previous_event_hash, signature, occurred_at, body)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (event_id) DO NOTHING
		`, ev.ID, ev.Type, ev.Severity.String(), string(ev.Category), ev.Actor.UserID, ev.EventHash, ev.PreviousEventHash, ev.Signature, ev.Timestamp, body)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *PGArchive) Get(ctx context.Context, eventID string) (models.AuditEvent, error) {
	var (
		ev   models.AuditEvent
		body []byte
		ts   time.Time
	)
	row := a.DB.QueryRow(ctx, `SELECT occurred_at, body FROM audit_archive WHERE event_id=$1`, eventID)
	if err := row.Scan(&ts, &body); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
