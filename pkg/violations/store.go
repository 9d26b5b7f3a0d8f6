package violations

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"skillswap/pkg/models"
)

const violationsKey = "violations"

// RedisStore keeps the log in one sorted set scored by unix milliseconds.
type RedisStore struct {
	Client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) Add(ctx context.Context, v models.Violation, retainAfter time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := s.Client.TxPipeline()
	pipe.ZAdd(ctx, violationsKey, redis.Z{Score: float64(v.Timestamp.UnixMilli()), Member: string(raw)})
	pipe.ZRemRangeByScore(ctx, violationsKey, "-inf", formatScore(retainAfter))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Range(ctx context.Context, from, to time.Time) ([]models.Violation, error) {
	raws, err := s.Client.ZRangeByScore(ctx, violationsKey, &redis.ZRangeBy{
		Min: formatScore(from),
		Max: formatScore(to),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Violation, 0, len(raws))
	for _, raw := range raws {
		var v models.Violation
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			log.Printf("violations: skipping corrupt entry: %v", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// MemoryStore is the single-process variant of the violation log.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.Violation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Add(ctx context.Context, v models.Violation, retainAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Timestamp.After(retainAfter) {
			kept = append(kept, e)
		}
	}
	s.entries = append(kept, v)
	sort.Slice(s.entries, func(i, j int) bool {
		return s.entries[i].Timestamp.Before(s.entries[j].Timestamp)
	})
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, from, to time.Time) ([]models.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Violation
	for _, e := range s.entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
