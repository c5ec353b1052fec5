package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrUnavailable = errors.New("catalog unavailable")

// Cache is a read-through Redis cache in front of another Catalog. Misses for
// the same key share one backend call, and backend calls go through a circuit
// breaker so a failing database fails lookups fast.
type Cache struct {
	backend Catalog
	rdb     *redis.Client
	ttl     time.Duration
	log     *zap.Logger
	sfg     singleflight.Group
	cb      *gobreaker.CircuitBreaker[[]Product]
}

func NewCache(backend Catalog, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Cache {
	c := &Cache{backend: backend, rdb: rdb, ttl: ttl, log: log}
	c.cb = gobreaker.NewCircuitBreaker[[]Product](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

func (c *Cache) Product(ctx context.Context, id string) (Product, error) {
	key := fmt.Sprintf(redisx.KeyCatalogProduct, id)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p Product
		if err := json.Unmarshal(b, &p); err == nil {
			return p, nil
		}
		c.log.Warn("drop undecodable cached product", zap.String("product_id", id))
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.sfg.Do(key, func() (any, error) {
		ps, err := c.cb.Execute(func() ([]Product, error) {
			p, err := c.backend.Product(ctx, id)
			if err != nil {
				return nil, err
			}
			return []Product{p}, nil
		})
		if err != nil {
			return nil, breakerErr(err)
		}
		c.store(ctx, ps[0])
		return ps[0], nil
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

func (c *Cache) Search(ctx context.Context, code string) ([]Product, error) {
	norm := strings.ToLower(strings.TrimSpace(code))
	key := fmt.Sprintf(redisx.KeyCatalogCode, norm)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var ids []string
		if err := json.Unmarshal(b, &ids); err == nil {
			out := make([]Product, 0, len(ids))
			for _, id := range ids {
				p, err := c.Product(ctx, id)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				out = append(out, p)
			}
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("catalog cache get failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.sfg.Do(key, func() (any, error) {
		ps, err := c.cb.Execute(func() ([]Product, error) {
			return c.backend.Search(ctx, code)
		})
		if err != nil {
			return nil, breakerErr(err)
		}
		if len(ps) == 0 {
			return ps, nil
		}
		ids := make([]string, 0, len(ps))
		for _, p := range ps {
			ids = append(ids, p.ID)
			c.store(ctx, p)
		}
		if b, err := json.Marshal(ids); err == nil {
			if err := c.rdb.Set(ctx, key, b, redisx.TTLCatalogCode).Err(); err != nil {
				c.log.Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return ps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Product), nil
}

// Evict drops cached products so the next lookup reads fresh stock.
func (c *Cache) Evict(ctx context.Context, productIDs ...string) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, fmt.Sprintf(redisx.KeyCatalogProduct, id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *Cache) store(ctx context.Context, p Product) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyCatalogProduct, p.ID)
	if err := c.rdb.Set(ctx, key, b, redisx.Jitter(c.ttl)).Err(); err != nil {
		c.log.Warn("catalog cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
