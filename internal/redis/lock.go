package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// Locker is used by the scheduling service to guard check-then-write sections.
// Keys are acquired in sorted order so overlapping key sets cannot deadlock.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

const lockRetryInterval = 25 * time.Millisecond

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker creates a locker that holds one Redis key per lock name.
// wait bounds how long acquisition retries before giving up.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = normalizeKeys(keys)
	token := uuid.NewString()

	var held []string
	defer func() {
		for _, k := range held {
			_ = l.release(context.WithoutCancel(ctx), k, token)
		}
	}()

	deadline := time.Now().Add(l.wait)
	for _, k := range keys {
		if err := l.acquire(ctx, k, token, deadline); err != nil {
			return err
		}
		held = append(held, k)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string, deadline time.Time) error {
	for {
		ok, err := l.client.SetNX(ctx, lockKey(key), token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ErrLockNotAcquired
		case <-time.After(lockRetryInterval):
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
	_, err := unlockScript.Run(ctx, l.client, []string{lockKey(key)}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func lockKey(name string) string {
	return "lock:" + name
}

func normalizeKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	uniq := out[:0]
	for i, k := range out {
		if i > 0 && k == out[i-1] {
			continue
		}
		uniq = append(uniq, k)
	}
	return uniq
}
