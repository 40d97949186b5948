package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Second

// ErrCheckoutInProgress is returned while another checkout holds the user's lock.
var ErrCheckoutInProgress = domain.Conflict("A checkout for this cart is already in progress")

// UnlockFunc releases a lock taken by Locker.Acquire.
type UnlockFunc func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// unlockScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another request is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrCheckoutInProgress
	}
	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{lockKey(key)}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

func lockKey(key string) string {
	return "lock:" + key
}

// MemoryLocker is the single-process Locker used with the memory storage driver.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLock
	clock func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLock), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrCheckoutInProgress
	}
	token := uuid.NewString()
	l.held[key] = memoryLock{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
