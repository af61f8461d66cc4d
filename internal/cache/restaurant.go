// Package cache provides Redis read-through caching for restaurant metadata.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/restaurant"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = time.Minute

const keyPrefix = "restaurant:"

// Store is the subset of the Redis API the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// NewRedisStore adapts a go-redis client to Store. A missing key is
// reported as redis.Nil.
func NewRedisStore(c redis.UniversalClient) Store {
	return redisStore{c: c}
}

type redisStore struct {
	c redis.UniversalClient
}

func (s redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.c.Get(ctx, key).Bytes()
}

func (s redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.c.Set(ctx, key, value, ttl).Err()
}

func (s redisStore) Del(ctx context.Context, key string) error {
	return s.c.Del(ctx, key).Err()
}

var _ restaurant.Repository = (*Restaurants)(nil)

// Restaurants is a read-through cache in front of a restaurant.Repository.
// Cache failures are logged and the backing repository is used instead.
type Restaurants struct {
	next  restaurant.Repository
	store Store
	ttl   time.Duration
}

// NewRestaurants wraps next with a cache held in store for ttl.
func NewRestaurants(next restaurant.Repository, store Store, ttl time.Duration) *Restaurants {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Restaurants{next: next, store: store, ttl: ttl}
}

// GetByID returns the cached restaurant or loads and caches it.
func (c *Restaurants) GetByID(ctx context.Context, id string) (*restaurant.Restaurant, error) {
	lg := zctx.From(ctx).With(zap.String("restaurant_id", id))
	key := keyPrefix + id

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var r restaurant.Restaurant
		decodeErr := json.Unmarshal(data, &r)
		if decodeErr == nil {
			return &r, nil
		}
		lg.Warn("Dropping undecodable cache entry", zap.Error(decodeErr))
		_ = c.store.Del(ctx, key)
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Restaurant cache read failed", zap.Error(err))
	}

	r, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode restaurant")
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		lg.Warn("Restaurant cache write failed", zap.Error(err))
	}
	return r, nil
}

// Invalidate removes the cached entry for id.
func (c *Restaurants) Invalidate(ctx context.Context, id string) error {
	if err := c.store.Del(ctx, keyPrefix+id); err != nil {
		return errors.Wrapf(err, "invalidate restaurant %q", id)
	}
	return nil
}
