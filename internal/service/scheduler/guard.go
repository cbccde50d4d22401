package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

const (
	// DefaultLockKey — ключ блокировки цикла в redis.
	DefaultLockKey     = "ordersync:cycle"
	defaultLockTTL     = 10 * time.Minute
	defaultLockRefresh = 30 * time.Second
)

// ErrLockNotObtained — блокировку держит другая реплика.
var ErrLockNotObtained = errors.New("cycle lock is held by another instance")

// ReleaseFunc освобождает блокировку.
type ReleaseFunc func(ctx context.Context) error

// Guard — блокировка, которую нужно взять перед запуском цикла.
type Guard interface {
	Acquire(ctx context.Context) (ReleaseFunc, error)
}

// LockObtainer — часть *redislock.Client, используемая RedisGuard.
type LockObtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// RedisGuard берёт блокировку через bsm/redislock без ожидания: если ключ занят,
// запуск пропускается.
type RedisGuard struct {
	locker LockObtainer
	key    string
	ttl    time.Duration
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard создаёт guard; пустой key и ttl<=0 заменяются значениями по умолчанию.
func NewRedisGuard(locker LockObtainer, key string, ttl time.Duration) *RedisGuard {
	if key == "" {
		key = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisGuard{locker: locker, key: key, ttl: ttl}
}

// Acquire берёт блокировку и, пока она удерживается, продлевает её TTL.
func (g *RedisGuard) Acquire(ctx context.Context) (ReleaseFunc, error) {
	lock, err := g.locker.Obtain(ctx, g.key, g.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLockNotObtained
		}
		return nil, fmt.Errorf("obtain cycle lock: %w", err)
	}

	refreshCtx, stopRefresh := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.keepAlive(refreshCtx, lock)
	}()

	return func(ctx context.Context) error {
		stopRefresh()
		<-done
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release cycle lock: %w", err)
		}
		return nil
	}, nil
}

func (g *RedisGuard) keepAlive(ctx context.Context, lock *redislock.Lock) {
	interval := defaultLockRefresh
	if g.ttl/3 < interval {
		interval = g.ttl / 3
	}
	if interval <= 0 {
		interval = g.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx, g.ttl, nil); err != nil {
				return
			}
		}
	}
}
