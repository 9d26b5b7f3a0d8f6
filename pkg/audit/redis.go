package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"skillswap/pkg/models"
)

const (
	keySeq       = "audit:seq"
	keyIndex     = "audit:index"
	keyChainTail = "audit:chain"
)

// RedisStore lays events out as audit:event:{id} records with a retention
// TTL, a chronological index scored by insertion sequence, severity/type/
// user secondary indices, the chain-tail pointer and an archive namespace.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func eventKey(id string) string   { return "audit:event:" + id }
func archiveKey(id string) string { return "audit:archive:" + id }

func (s *RedisStore) Append(ctx context.Context, ev models.AuditEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	seq, err := s.Client.Incr(ctx, keySeq).Result()
	if err != nil {
		return err
	}
	ttl := time.Duration(ev.RetentionDays) * 24 * time.Hour
	pipe := s.Client.TxPipeline()
	pipe.Set(ctx, eventKey(ev.ID), string(raw), ttl)
	pipe.ZAdd(ctx, keyIndex, redis.Z{Score: float64(seq), Member: ev.ID})
	pipe.ZAdd(ctx, "audit:sev:"+ev.Severity.String(), redis.Z{Score: float64(seq), Member: ev.ID})
	pipe.ZAdd(ctx, "audit:type:"+ev.Type, redis.Z{Score: float64(seq), Member: ev.ID})
	if ev.Actor.UserID != "" {
		pipe.ZAdd(ctx, "audit:user:"+ev.Actor.UserID, redis.Z{Score: float64(seq), Member: ev.ID})
	}
	pipe.Set(ctx, keyChainTail, ev.EventHash, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Tail(ctx context.Context) (string, error) {
	tail, err := s.Client.Get(ctx, keyChainTail).Result()
	if err == redis.Nil {
		return "", nil
	}
	return tail, err
}

func (s *RedisStore) Events(ctx context.Context, f Filter) ([]models.AuditEvent, error) {
	index := keyIndex
	if f.Severity != nil {
		index = "audit:sev:" + f.Severity.String()
	} else if f.UserID != "" {
		index = "audit:user:" + f.UserID
	} else if f.Type != "" {
		index = "audit:type:" + f.Type
	}
	ids, err := s.Client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []models.AuditEvent
	for _, id := range ids {
		raw, err := s.Client.Get(ctx, eventKey(id)).Result()
		if err == redis.Nil {
			continue // expired by retention TTL
		}
		if err != nil {
			return nil, err
		}
		var ev models.AuditEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("audit: skipping corrupt event %s: %v", id, err)
			continue
		}
		if !matchesFilter(ev, f) {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Archive(ctx context.Context, before time.Time) ([]models.AuditEvent, error) {
	ids, err := s.Client.ZRange(ctx, keyIndex, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var moved []models.AuditEvent
	for _, id := range ids {
		raw, err := s.Client.Get(ctx, eventKey(id)).Result()
		if err == redis.Nil {
			_ = s.Client.ZRem(ctx, keyIndex, id).Err()
			continue
		}
		if err != nil {
			return moved, err
		}
		var ev models.AuditEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			log.Printf("audit: skipping corrupt event %s during archive: %v", id, err)
			continue
		}
		if !ev.Timestamp.Before(before) {
			continue
		}
		pipe := s.Client.TxPipeline()
		pipe.Rename(ctx, eventKey(id), archiveKey(id))
		pipe.ZRem(ctx, keyIndex, id)
		pipe.ZRem(ctx, "audit:sev:"+ev.Severity.String(), id)
		pipe.ZRem(ctx, "audit:type:"+ev.Type, id)
		if ev.Actor.UserID != "" {
			pipe.ZRem(ctx, "audit:user:"+ev.Actor.UserID, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		moved = append(moved, ev)
	}
	return moved, nil
}
