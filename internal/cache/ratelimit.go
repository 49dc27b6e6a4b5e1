// Rate limiting for the portfolio API calls the batch workers issue, as a
// token bucket over redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/benny-conn/limiters"
	"github.com/bsm/redislock"

	"github.com/mikeydub/curation-recs/internal/logger"
)

// KeyRateLimiter limits per-key operation rate using a redis-backed token
// bucket, guarded by a short-lived distributed lock so multiple processes
// share one limit.
type KeyRateLimiter struct {
	cache        *Cache
	name         string
	capacity     int64
	refillRate   time.Duration
	timeToRefill time.Duration
	clock        *limiters.SystemClock
	logger       limiters.Logger
	lock         *distributedLock
}

// NewKeyRateLimiter limits to `amount` operations every `every` duration,
// namespaced by name within cache.
func NewKeyRateLimiter(cache *Cache, name string, amount int64, every time.Duration) *KeyRateLimiter {
	return &KeyRateLimiter{
		cache:        cache,
		name:         name,
		capacity:     amount,
		refillRate:   time.Duration(float64(every) / float64(amount)),
		timeToRefill: every,
		clock:        limiters.NewSystemClock(),
		logger:       logAdapter{},
		lock:         newDistributedLock(cache, name),
	}
}

// ForKey reports whether the given key is still within its rate limit.
func (l *KeyRateLimiter) ForKey(ctx context.Context, key string) (bool, time.Duration, error) {
	prefixedKey := l.cache.Prefix() + ":" + l.name + ":" + key
	backend := limiters.NewTokenBucketRedis(l.cache.Client(), prefixedKey, l.timeToRefill, false)
	bucket := limiters.NewTokenBucket(l.capacity, l.refillRate, l.lock, backend, l.clock, l.logger)

	w, err := bucket.Limit(ctx)
	switch err {
	case nil:
		return true, 0, nil
	case limiters.ErrLimitExhausted:
		return false, w, nil
	case redislock.ErrNotObtained:
		return false, 0, nil
	default:
		rateErr := fmt.Errorf("rate limiting err: %w", err)
		logger.For(ctx).Warn(rateErr)
		return false, 0, rateErr
	}
}

func (l *KeyRateLimiter) Name() string { return l.name }

type logAdapter struct{}

func (logAdapter) Log(v ...interface{}) { logger.For(context.Background()).Info(v...) }

type distributedLock struct {
	client  *redislock.Client
	lock    *redislock.Lock
	key     string
	ttl     time.Duration
	options *redislock.Options
}

func newDistributedLock(cache *Cache, limiterName string) *distributedLock {
	return &distributedLock{
		client: NewLockClient(cache),
		key:    limiterName + ":lock",
		ttl:    time.Second,
		options: &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(500*time.Millisecond), 10),
		},
	}
}

func (l *distributedLock) Lock(ctx context.Context) error {
	lock, err := l.client.Obtain(ctx, l.key, l.ttl, l.options)
	if err != nil {
		return err
	}
	l.lock = lock
	return nil
}

func (l *distributedLock) Unlock(ctx context.Context) error {
	return l.lock.Release(ctx)
}
