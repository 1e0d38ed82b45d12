package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps saga records as JSON strings with a TTL. Writes overwrite.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = TTLSaga
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Save writes v under {kind}_saga:{id}. A non-positive ttl means the store default.
func (s *Store) Save(ctx context.Context, kind, id string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s saga: %w", kind, err)
	}
	key := SagaKey(kind, id)
	if err := s.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get decodes the record into out. found is false when the key is absent or expired.
func (s *Store) Get(ctx context.Context, kind, id string, out any) (bool, error) {
	key := SagaKey(kind, id)
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, kind, id string) error {
	key := SagaKey(kind, id)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// ---- active index ----

func (s *Store) MarkActive(ctx context.Context, id string, at time.Time) error {
	err := s.rdb.ZAdd(ctx, KeyActiveSagas, redis.Z{Score: float64(at.Unix()), Member: id}).Err()
	if err != nil {
		return fmt.Errorf("zadd %s: %w", KeyActiveSagas, err)
	}
	return nil
}

func (s *Store) ClearActive(ctx context.Context, id string) error {
	if err := s.rdb.ZRem(ctx, KeyActiveSagas, id).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", KeyActiveSagas, err)
	}
	return nil
}

// Stale returns up to limit ids whose last update is at or before the cutoff, oldest first.
func (s *Store) Stale(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRangeByScore(ctx, KeyActiveSagas, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", KeyActiveSagas, err)
	}
	return ids, nil
}
