package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each draft as a JSON value plus a per-terminal sorted set
// scored by save time. Both expire after TTL of inactivity.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, terminal string, d Draft) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	key := fmt.Sprintf(redisx.KeyDraft, terminal, d.ID)
	idx := fmt.Sprintf(redisx.KeyDraftIndex, terminal)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, b, s.ttl)
		p.ZAdd(ctx, idx, redis.Z{Score: float64(d.Timestamp.UnixMilli()), Member: d.ID})
		p.Expire(ctx, idx, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put draft: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, terminal, id string) (Draft, error) {
	b, err := s.rdb.Get(ctx, fmt.Sprintf(redisx.KeyDraft, terminal, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, fmt.Errorf("%s: %w", id, ErrDraftNotFound)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("redis get draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(b, &d); err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return d, nil
}

func (s *RedisStore) Delete(ctx context.Context, terminal, id string) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, fmt.Sprintf(redisx.KeyDraft, terminal, id))
		p.ZRem(ctx, fmt.Sprintf(redisx.KeyDraftIndex, terminal), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete draft: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%s: %w", id, ErrDraftNotFound)
	}
	return nil
}

// List drops index entries whose draft value has already expired.
func (s *RedisStore) List(ctx context.Context, terminal string) ([]Draft, error) {
	idx := fmt.Sprintf(redisx.KeyDraftIndex, terminal)
	ids, err := s.rdb.ZRevRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list drafts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(redisx.KeyDraft, terminal, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget drafts: %w", err)
	}

	out := make([]Draft, 0, len(ids))
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var d Draft
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, d)
	}
	if len(stale) > 0 {
		_ = s.rdb.ZRem(ctx, idx, stale...).Err()
	}
	return out, nil
}
