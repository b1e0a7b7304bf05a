package redisclient

import (
	"context"
	"sync"
	"time"
)

// localLocker is the single-process Locker used when Redis is not configured.
// Each key maps to a one-slot channel acting as a mutex that supports timeouts.
type localLocker struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
	wait time.Duration
}

func NewLocalLocker(wait time.Duration) Locker {
	return &localLocker{
		keys: make(map[string]chan struct{}),
		wait: wait,
	}
}

func (l *localLocker) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.keys[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.keys[key] = ch
	}
	return ch
}

func (l *localLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ch := l.sem(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()

	return fn(ctx)
}

func (l *localLocker) WithJobLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ch := l.sem(key)

	select {
	case ch <- struct{}{}:
	default:
		return ErrLockNotAcquired
	}
	defer func() { <-ch }()

	return fn(ctx)
}
