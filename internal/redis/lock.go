package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

const retryEvery = 25 * time.Millisecond

// Locker guards critical sections keyed by slot or job name.
type Locker interface {
	// WithSlotLock waits up to the locker's wait budget for key, then runs fn.
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	// WithJobLock runs fn only if key is free right now.
	WithJobLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// SlotKey names the lock for one availability window on one calendar date.
func SlotKey(windowID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%s", windowID, date.Format("2006-01-02"))
}

// JobKey names the lock for one reconciliation job.
func JobKey(name string) string {
	return "lock:job:" + name
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisSlotLocker creates a locker that uses a per key Redis entry
func NewRedisSlotLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, key, l.wait, l.ttl, fn)
}

func (l *redisLocker) WithJobLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	// Jobs may legitimately run longer than a booking, so the job lock lives
	// until fn returns or the context ends; the TTL only covers crashed holders.
	ttl := l.ttl
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > ttl {
			ttl = d
		}
	}
	return l.withLock(ctx, key, 0, ttl, fn)
}

func (l *redisLocker) withLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token, wait, ttl); err != nil {
		return err
	}

	defer func() {
		// Release on a fresh context so a cancelled caller still frees the key.
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string, wait, ttl time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
