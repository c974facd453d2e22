// Package memorystore provides in-process backends for phonekit's ephemeral
// state: verification records, quotas, and pending challenges. Suitable for
// tests and single-node deployments only.
package memorystore

import (
	"context"
	"sync"
	"time"
)

type kvItem struct {
	value   []byte
	expires time.Time
}

// KV is an in-memory key-value store with TTL support. Expired entries are
// dropped lazily on read and swept opportunistically on write.
type KV struct {
	mu    sync.Mutex
	items map[string]kvItem
	sweep time.Time
}

func NewKV() *KV {
	return &KV{items: make(map[string]kvItem)}
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	it, ok := k.items[key]
	if !ok {
		return nil, false, nil
	}
	if expired(it.expires, time.Now()) {
		delete(k.items, key)
		return nil, false, nil
	}
	return it.value, true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	now := time.Now()
	if now.After(k.sweep) {
		for key, it := range k.items {
			if expired(it.expires, now) {
				delete(k.items, key)
			}
		}
		k.sweep = now.Add(time.Minute)
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	k.items[key] = kvItem{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (k *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, key)
	return nil
}

func expired(at, now time.Time) bool {
	return !at.IsZero() && now.After(at)
}
