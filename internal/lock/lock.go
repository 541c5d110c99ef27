package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "picktrend:lock:"

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock held by another runner")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out named, expiring locks backed by Redis.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

// Lock is a held lock. Release it exactly once.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes the named lock or fails with ErrNotAcquired.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := keyPrefix + name
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, nil
}

// Release frees the lock if it has not expired and been taken over.
func (lk *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", lk.key, err)
	}
	return nil
}
