package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/open-rails/phonekit/challenge"
)

// ChallengeCache stores pending anti-abuse challenges in memory.
// This is only suitable for single-node deployments or local development.
type ChallengeCache struct {
	mu   sync.RWMutex
	data map[string]challengeEntry
	ttl  time.Duration
}

type challengeEntry struct {
	c         challenge.Challenge
	expiresAt time.Time
}

// NewChallengeCache creates a new in-memory challenge cache. Entries expire
// after ttl regardless of the challenge's own deadline.
func NewChallengeCache(ttl time.Duration) *ChallengeCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &ChallengeCache{
		data: make(map[string]challengeEntry),
		ttl:  ttl,
	}
	go c.cleanupLoop()
	return c
}

func (c *ChallengeCache) Put(ctx context.Context, nonce string, ch challenge.Challenge) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[nonce] = challengeEntry{c: ch, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

func (c *ChallengeCache) Get(ctx context.Context, nonce string) (challenge.Challenge, bool, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.data[nonce]
	if !ok {
		return challenge.Challenge{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		return challenge.Challenge{}, false, nil
	}
	return entry.c, true, nil
}

func (c *ChallengeCache) Del(ctx context.Context, nonce string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, nonce)
	return nil
}

// cleanupLoop periodically removes expired entries.
func (c *ChallengeCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.cleanup()
	}
}

func (c *ChallengeCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range c.data {
		if now.After(v.expiresAt) {
			delete(c.data, k)
		}
	}
}
