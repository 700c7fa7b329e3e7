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
	// ErrLeaseLost is the cancel cause seen by fn when the lease could not be renewed.
	ErrLeaseLost = errors.New("lease lost")
)

// Locker guards work that must run on a single replica at a time.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// leaseLocker holds a Redis key per lease name and renews it every ttl/3 while
// fn runs, so a sweep longer than ttl keeps exclusive ownership.
type leaseLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &leaseLocker{client: client, ttl: ttl}
}

func leaseKey(name string) string {
	return "lease:" + name
}

// WithLock runs fn while holding the lease. fn's context is cancelled with
// ErrLeaseLost as its cause if another owner took the key.
func (l *leaseLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := leaseKey(name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.renew(leaseCtx, key, token, cancel)
	}()

	defer func() {
		cancel(nil)
		<-renewed
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	return fn(leaseCtx)
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (l *leaseLocker) renew(ctx context.Context, key, token string, cancel context.CancelCauseFunc) {
	every := l.ttl / 3
	if every <= 0 {
		every = l.ttl
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil && ctx.Err() != nil {
				return
			}
			// A transient error is retried on the next tick while the key still has TTL left.
			if err == nil && n == 0 {
				cancel(ErrLeaseLost)
				return
			}
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

func (l *leaseLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
