package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EphemeralStore is the KV contract for short-lived state: verification
// codes, send quotas, and the KV session fallback. A missing key is
// (nil, false, nil), never an error. ttl == 0 means no expiry.
type EphemeralStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// EphemeralMode describes the backing of the configured EphemeralStore.
// Single-process memory stores cannot serve multi-node deployments.
type EphemeralMode string

const (
	EphemeralMemory EphemeralMode = "memory"
	EphemeralRedis  EphemeralMode = "redis"
)

// WithEphemeralStore attaches the short-lived KV store.
func (s *Service) WithEphemeralStore(store EphemeralStore, mode EphemeralMode) *Service {
	s.ephemeralStore = store
	s.ephemeralMode = mode
	return s
}

func (s *Service) useEphemeralStore() bool { return s.ephemeralStore != nil }

func (s *Service) ephemSetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.ephemeralStore.Set(ctx, key, raw, ttl)
}

func (s *Service) ephemGetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, found, err := s.ephemeralStore.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *Service) ephemSetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.ephemeralStore.Set(ctx, key, []byte(value), ttl)
}

func (s *Service) ephemGetString(ctx context.Context, key string) (string, bool, error) {
	raw, found, err := s.ephemeralStore.Get(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	return string(raw), true, nil
}

func (s *Service) ephemDel(ctx context.Context, key string) error {
	return s.ephemeralStore.Del(ctx, key)
}
