// Package audit implements the tamper-evident security event log: an
// append-only, hash-chained, HMAC-signed sequence with integrity
// verification, retention archival and export.
package audit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillswap/pkg/models"
	"skillswap/pkg/stream"
)

const defaultRetentionDays = 2555 // ~7 years

// Filter narrows queries, reports and exports.
type Filter struct {
	From     time.Time
	To       time.Time
	Severity *models.Severity
	Category models.Category
	Type     string
	UserID   string
	Limit    int
}

// Store persists chained events. Append must write the record, the
// indices and the chain-tail pointer together; Events returns records in
// insertion order.
type Store interface {
	Append(ctx context.Context, ev models.AuditEvent) error
	Tail(ctx context.Context) (string, error)
	Events(ctx context.Context, f Filter) ([]models.AuditEvent, error)
	Archive(ctx context.Context, before time.Time) ([]models.AuditEvent, error)
}

// Publisher forwards events to external consumers, best effort.
type Publisher interface {
	Publish(ctx context.Context, ev models.AuditEvent) error
}

// ColdArchive receives archived events for long-term compliance storage.
type ColdArchive interface {
	Store(ctx context.Context, events []models.AuditEvent) error
}

// Logger serializes all chain writes through one mutex. The chain is a
// strict total order across all events, so the lock spans reading the
// tail, computing hashes and the store write; it is never held across
// any other I/O.
type Logger struct {
	store      Store
	signingKey []byte
	mu         sync.Mutex
	Now        func() time.Time
	Hub        *stream.Hub
	Bus        Publisher
	Cold       ColdArchive
}

func NewLogger(store Store, signingKey []byte) (*Logger, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: store required")
	}
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("audit: signing key required")
	}
	return &Logger{store: store, signingKey: signingKey, Now: time.Now}, nil
}

// Log chains, signs and persists one event, returning its id. A write
// failure is surfaced to the caller, never retried blindly: a blind retry
// after an ambiguous failure could fork the chain.
func (l *Logger) Log(ctx context.Context, ev models.AuditEvent) (string, error) {
	if strings.TrimSpace(ev.Type) == "" {
		return "", fmt.Errorf("audit: event type required")
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = l.Now().UTC()
	if ev.Category == "" {
		ev.Category = models.CategoryGeneral
	}
	if ev.RetentionDays <= 0 {
		ev.RetentionDays = defaultRetentionDays
	}
	if ev.RiskScore == 0 {
		ev.RiskScore = RiskScore(ev)
	}

	l.mu.Lock()
	tail, err := l.store.Tail(ctx)
	if err != nil {
		l.mu.Unlock()
		return "", fmt.Errorf("audit: read chain tail: %w", err)
	}
	ev.PreviousEventHash = tail
	ev.EventHash = EventHash(ev)
	ev.Signature = Sign(l.signingKey, ev.EventHash, ev.Timestamp)
	if err := l.store.Append(ctx, ev); err != nil {
		l.mu.Unlock()
		return "", fmt.Errorf("audit: append event: %w", err)
	}
	l.mu.Unlock()

	l.notify(ctx, ev)
	return ev.ID, nil
}

func (l *Logger) notify(ctx context.Context, ev models.AuditEvent) {
	if l.Hub != nil {
		l.Hub.Publish(stream.NewEvent("audit."+ev.Type, ev))
	}
	if l.Bus != nil {
		if err := l.Bus.Publish(ctx, ev); err != nil {
			log.Printf("audit: event fan-out failed: %v", err)
		}
	}
}

// Query returns events matching f in insertion order.
func (l *Logger) Query(ctx context.Context, f Filter) ([]models.AuditEvent, error) {
	return l.store.Events(ctx, f)
}

// Archive moves events older than before out of the live index and hands
// them to the cold archive when one is configured. The archival itself is
// recorded as an audit event by the caller (the maintenance loop).
func (l *Logger) Archive(ctx context.Context, before time.Time) (int, error) {
	archived, err := l.store.Archive(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("audit: archive: %w", err)
	}
	if l.Cold != nil && len(archived) > 0 {
		if err := l.Cold.Store(ctx, archived); err != nil {
			return len(archived), fmt.Errorf("audit: cold archive: %w", err)
		}
	}
	return len(archived), nil
}
