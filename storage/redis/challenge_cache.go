package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-rails/phonekit/challenge"
)

// ChallengeCache stores pending anti-abuse challenges in Redis so any
// instance can consume a challenge issued by another.
type ChallengeCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewChallengeCache creates a Redis challenge cache. An empty prefix
// defaults to "auth:challenge:".
func NewChallengeCache(rdb *redis.Client, prefix string, ttl time.Duration) *ChallengeCache {
	if prefix == "" {
		prefix = "auth:challenge:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ChallengeCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *ChallengeCache) Put(ctx context.Context, nonce string, ch challenge.Challenge) error {
	b, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+nonce, b, c.ttl).Err()
}

func (c *ChallengeCache) Get(ctx context.Context, nonce string) (challenge.Challenge, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+nonce).Bytes()
	if err == redis.Nil {
		return challenge.Challenge{}, false, nil
	}
	if err != nil {
		return challenge.Challenge{}, false, err
	}
	var ch challenge.Challenge
	if err := json.Unmarshal(b, &ch); err != nil {
		return challenge.Challenge{}, false, err
	}
	return ch, true, nil
}

func (c *ChallengeCache) Del(ctx context.Context, nonce string) error {
	return c.rdb.Del(ctx, c.prefix+nonce).Err()
}
