// Package challenge implements the anti-abuse gate placed in front of code
// requests: a short-lived, single-use puzzle the caller must solve before
// the service will dispatch an SMS.
//
// A challenge is a base58 nonce plus a salt and public argon2id parameters.
// The caller derives the answer client-side; the broker verifies it by
// recomputation and consumes the nonce so it cannot be replayed.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/argon2"
)

// Params are the public argon2id parameters for deriving an answer.
// They are sized as a deterrent rather than a wall; rate limiting does the
// rest.
type Params struct {
	Time     uint32 `json:"time"`
	MemoryKB uint32 `json:"memory_kb"`
	Threads  uint8  `json:"threads"`
	KeyLen   uint32 `json:"key_len"`
}

// DefaultParams returns the broker's default puzzle cost.
func DefaultParams() Params {
	return Params{Time: 1, MemoryKB: 8 * 1024, Threads: 1, KeyLen: 32}
}

// Challenge is one issued puzzle. Nonce identifies it; Salt and Params are
// everything a caller needs to derive the answer.
type Challenge struct {
	Nonce     string    `json:"nonce"`
	Salt      []byte    `json:"salt"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Params    Params    `json:"params"`
}

// Answer is a solved challenge presented back to the broker.
type Answer struct {
	Nonce  string `json:"nonce"`
	Digest []byte `json:"digest"`
}

// Solve derives the answer for a challenge.
func Solve(c Challenge) Answer {
	p := c.Params
	digest := argon2.IDKey([]byte(c.Nonce), c.Salt, p.Time, p.MemoryKB, p.Threads, p.KeyLen)
	return Answer{Nonce: c.Nonce, Digest: digest}
}

// Cache stores pending challenges keyed by nonce.
// Implementations must treat missing nonces as (found=false, err=nil).
type Cache interface {
	Put(ctx context.Context, nonce string, c Challenge) error
	Get(ctx context.Context, nonce string) (Challenge, bool, error)
	Del(ctx context.Context, nonce string) error
}

// ErrInvalid is returned when an answer does not verify: unknown or expired
// nonce, or a wrong digest.
var ErrInvalid = errors.New("challenge invalid or expired")

// Broker issues challenges and consumes answers. Each nonce verifies at
// most once.
type Broker struct {
	cache  Cache
	params Params
	ttl    time.Duration
}

// NewBroker creates a broker over the given cache. Zero params and ttl fall
// back to DefaultParams and 15 minutes.
func NewBroker(cache Cache, params Params, ttl time.Duration) *Broker {
	if params == (Params{}) {
		params = DefaultParams()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Broker{cache: cache, params: params, ttl: ttl}
}

// Issue creates and stores a new challenge.
func (b *Broker) Issue(ctx context.Context) (Challenge, error) {
	nonce, err := randNonce()
	if err != nil {
		return Challenge{}, err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return Challenge{}, fmt.Errorf("challenge salt: %w", err)
	}
	now := time.Now()
	c := Challenge{
		Nonce:     nonce,
		Salt:      salt,
		IssuedAt:  now,
		ExpiresAt: now.Add(b.ttl),
		Params:    b.params,
	}
	if err := b.cache.Put(ctx, nonce, c); err != nil {
		return Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return c, nil
}

// Consume verifies an answer and deletes the nonce. A wrong digest also
// burns the nonce so answers cannot be brute-forced against one challenge.
func (b *Broker) Consume(ctx context.Context, ans Answer) error {
	if ans.Nonce == "" {
		return ErrInvalid
	}
	c, ok, err := b.cache.Get(ctx, ans.Nonce)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalid
	}
	_ = b.cache.Del(ctx, ans.Nonce)
	if time.Now().After(c.ExpiresAt) {
		return ErrInvalid
	}
	want := Solve(c)
	if subtle.ConstantTimeCompare(want.Digest, ans.Digest) != 1 {
		return ErrInvalid
	}
	return nil
}

// Dispose discards an issued challenge without verifying it.
func (b *Broker) Dispose(ctx context.Context, nonce string) error {
	if nonce == "" {
		return nil
	}
	return b.cache.Del(ctx, nonce)
}

func randNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge nonce: %w", err)
	}
	return base58.Encode(buf), nil
}
