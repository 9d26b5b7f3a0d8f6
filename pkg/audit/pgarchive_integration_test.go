//go:build integration

package audit

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"skillswap/pkg/models"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS audit_archive (
	event_id            TEXT PRIMARY KEY,
	event_type          TEXT NOT NULL,
	severity            TEXT NOT NULL,
	category            TEXT NOT NULL,
	user_id             TEXT,
	event_hash          TEXT NOT NULL,
	previous_event_hash TEXT NOT NULL DEFAULT '',
	signature           TEXT NOT NULL,
	occurred_at         TIMESTAMPTZ NOT NULL,
	body                JSONB NOT NULL
);`

// TestPGArchiveWithRealPostgres exercises the cold archive against real PostgreSQL
// Run with: go test -tags=integration -timeout 120s -run TestPGArchiveWithRealPostgres ./pkg/audit/...
func TestPGArchiveWithRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, archiveSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	l, err := NewLogger(NewMemoryStore(), testKey)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	id, err := l.Log(ctx, models.AuditEvent{
		Type:        "session_booked",
		Description: "skill session booked",
		Severity:    models.SeverityMedium,
		Actor:       models.Actor{UserID: "alice"},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	events, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	arch := NewPGArchive(pool)
	if err := arch.Store(ctx, events); err != nil {
		t.Fatalf("store archive: %v", err)
	}
	// Idempotent on replay.
	if err := arch.Store(ctx, events); err != nil {
		t.Fatalf("second store archive: %v", err)
	}

	got, err := arch.Get(ctx, id)
	if err != nil {
		t.Fatalf("get archived event: %v", err)
	}
	if got.ID != id || got.Type != "session_booked" {
		t.Fatalf("unexpected archived event: %+v", got)
	}
	if got.EventHash != EventHash(got) || !validSignature(testKey, got) {
		t.Fatal("archived event lost its integrity fields")
	}
}
