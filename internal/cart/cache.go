package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

const (
	DefaultCacheTTL    = 15 * time.Minute
	DefaultCacheJitter = 5 * time.Minute
)

type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	jitter time.Duration
	prefix string
}

type CacheOption func(*RedisCache)

// WithTTL sets the base lifetime of a cached cart.
func WithTTL(d time.Duration) CacheOption {
	return func(r *RedisCache) { r.ttl = d }
}

// WithJitter adds a random extra lifetime in [0, d) to every entry. Zero
// turns it off.
func WithJitter(d time.Duration) CacheOption {
	return func(r *RedisCache) { r.jitter = d }
}

func WithKeyPrefix(prefix string) CacheOption {
	return func(r *RedisCache) { r.prefix = prefix }
}

func NewRedisCache(client redis.UniversalClient, opts ...CacheOption) *RedisCache {
	r := &RedisCache{
		client: client,
		ttl:    DefaultCacheTTL,
		jitter: DefaultCacheJitter,
		prefix: "cart:",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.ttl <= 0 {
		r.ttl = DefaultCacheTTL
	}
	return r
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c domain.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &c, nil
}

// Set stores the cart for the base TTL plus jitter.
func (r *RedisCache) Set(ctx context.Context, userID string, c *domain.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, r.key(userID), data, r.expiry()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) key(userID string) string {
	return r.prefix + userID
}

func (r *RedisCache) expiry() time.Duration {
	if r.jitter <= 0 {
		return r.ttl
	}
	return r.ttl + time.Duration(rand.Int63n(int64(r.jitter)))
}

// NopCache is used when no Redis is configured; every read misses.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NopCache) Set(context.Context, string, *domain.Cart) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
