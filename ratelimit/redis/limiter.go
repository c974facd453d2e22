// Package redislimiter implements per-bucket fixed-window rate limits
// shared across instances via Redis.
package redislimiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit configures one named bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter counts hits per key with INCR + EXPIRE. Buckets without an
// explicit limit fall back to the "default" bucket.
type Limiter struct {
	rdb    *redis.Client
	limits map[string]Limit
}

func New(rdb *redis.Client, limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{rdb: rdb, limits: limits}
}

// AllowNamed reports whether the key may proceed under the bucket's limit.
// Errors are returned to the caller, which typically fails open.
func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
	}
	if !ok || lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if n == 1 {
		_ = l.rdb.Expire(ctx, key, lim.Window).Err()
	}
	return n <= int64(lim.Limit), nil
}
