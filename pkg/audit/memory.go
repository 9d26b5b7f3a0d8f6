package audit

import (
	"context"
	"sync"
	"time"

	"skillswap/pkg/models"
)

// MemoryStore keeps the chain in insertion order in process memory.
// Single-process only; it exists for environments without a shared store.
type MemoryStore struct {
	mu       sync.Mutex
	events   []models.AuditEvent
	archived []models.AuditEvent
	tail     string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.tail = ev.EventHash
	return nil
}

func (s *MemoryStore) Tail(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tail, nil
}

func (s *MemoryStore) Events(ctx context.Context, f Filter) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range s.events {
		if matchesFilter(ev, f) {
			out = append(out, ev)
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Archive(ctx context.Context, before time.Time) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var moved []models.AuditEvent
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.Timestamp.Before(before) {
			moved = append(moved, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	s.archived = append(s.archived, moved...)
	return moved, nil
}

// Tamper replaces a stored event in place. Test-only: it exists so
// integrity verification has something real to catch.
func (s *MemoryStore) Tamper(id string, mutate func(*models.AuditEvent)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			mutate(&s.events[i])
			return true
		}
	}
	return false
}

func matchesFilter(ev models.AuditEvent, f Filter) bool {
	if !f.From.IsZero() && ev.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.Timestamp.After(f.To) {
		return false
	}
	if f.Severity != nil && ev.Severity != *f.Severity {
		return false
	}
	if f.Category != "" && ev.Category != f.Category {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.UserID != "" && ev.Actor.UserID != f.UserID {
		return false
	}
	return true
}
