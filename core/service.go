// Package core implements the phonekit identity provider: one-time code
// issuance and confirmation, anti-abuse challenge gating, and JWT-backed
// sessions. HTTP adapters and the flow state machine sit on top of it.
package core

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	stdlog "log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/phonekit/challenge"
	jwtkit "github.com/open-rails/phonekit/jwt"
)

var reE164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Options configures issued codes, sessions, and tokens.
type Options struct {
	Issuer   string
	Audience string

	// Verification codes
	CodeTTL            time.Duration // default 5m
	CodeLength         int           // default 6
	MaxConfirmAttempts int           // default 5
	MaxCodesPerHour    int           // default 5, per phone number

	// Sessions
	AccessTokenTTL time.Duration // default 1h
	SessionTTL     time.Duration // default 30 days
}

func (o Options) withDefaults() Options {
	if o.CodeTTL <= 0 {
		o.CodeTTL = 5 * time.Minute
	}
	if o.CodeLength <= 0 {
		o.CodeLength = 6
	}
	if o.MaxConfirmAttempts <= 0 {
		o.MaxConfirmAttempts = 5
	}
	if o.MaxCodesPerHour <= 0 {
		o.MaxCodesPerHour = 5
	}
	if o.AccessTokenTTL <= 0 {
		o.AccessTokenTTL = time.Hour
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 30 * 24 * time.Hour
	}
	return o
}

// Keyset holds the active signer and the public keys exposed via JWKS.
type Keyset struct {
	Active     jwtkit.Signer
	PublicKeys map[string]*rsa.PublicKey // kid -> pub
}

// SMSSender delivers verification codes. Implementations wrap a carrier
// API (Twilio etc.); when absent in a dev environment, codes are logged.
type SMSSender interface {
	SendVerificationCode(ctx context.Context, phoneNumber, code string) error
}

// Service is the provider core used by adapters and clients.
type Service struct {
	opts           Options
	keys           Keyset
	sms            SMSSender
	pg             *pgxpool.Pool
	broker         *challenge.Broker
	events         EventLogger
	ephemeralStore EphemeralStore
	ephemeralMode  EphemeralMode
}

func NewService(opts Options, keys Keyset) *Service {
	return &Service{opts: opts.withDefaults(), keys: keys, ephemeralMode: EphemeralMemory}
}

// Options exposes immutable configuration for callers that need to
// validate claims.
func (s *Service) Options() Options { return s.opts }

// WithPostgres attaches a pgx pool for durable users and sessions.
func (s *Service) WithPostgres(pool *pgxpool.Pool) *Service { s.pg = pool; return s }

// Postgres returns the attached pgx pool (may be nil).
func (s *Service) Postgres() *pgxpool.Pool { return s.pg }

// WithSMSSender sets the SMS sender dependency.
func (s *Service) WithSMSSender(sender SMSSender) *Service { s.sms = sender; return s }

// HasSMSSender returns true if an SMS sender is configured.
func (s *Service) HasSMSSender() bool { return s.sms != nil }

// WithChallenges gates code requests behind the given broker. Without a
// broker, requests are accepted unchallenged (dev/test only).
func (s *Service) WithChallenges(b *challenge.Broker) *Service { s.broker = b; return s }

// RequiresChallenge reports whether code requests must carry a solved
// challenge.
func (s *Service) RequiresChallenge() bool { return s.broker != nil }

// IssueChallenge creates a new anti-abuse challenge.
func (s *Service) IssueChallenge(ctx context.Context) (challenge.Challenge, error) {
	if s.broker == nil {
		return challenge.Challenge{}, errChallengeUnavailable
	}
	return s.broker.Issue(ctx)
}

// DisposeChallenge discards an issued challenge without verifying it.
func (s *Service) DisposeChallenge(ctx context.Context, nonce string) error {
	if s.broker == nil {
		return nil
	}
	return s.broker.Dispose(ctx, nonce)
}

// JWKSJSON renders the keyset's public keys as a JWKS document.
func (s *Service) JWKSJSON() ([]byte, error) {
	return jwtkit.JWKSJSON(s.keys.PublicKeys)
}

// WithEventLogger sets the sign-in event sink.
func (s *Service) WithEventLogger(l EventLogger) *Service { s.events = l; return s }

func (s *Service) dispatchCode(ctx context.Context, phoneNumber, code string) error {
	if s.sms != nil {
		return s.sms.SendVerificationCode(ctx, phoneNumber, code)
	}
	if !isDevEnvironment(getEnvironment()) {
		return errSMSUnavailable
	}
	// Dev mode: log code to stdout.
	stdlog.Printf("[phonekit/dev-sms] verification code phone=%s code=%s", phoneNumber, code)
	return nil
}

// helpers

func randB64(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func randInt(max int) int {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	n := int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
	if n < 0 {
		n = -n
	}
	return n % max
}

// randDigits generates a random numeric code of length n. Numeric codes
// type easily and survive voice readout.
func randDigits(n int) string {
	code := ""
	for i := 0; i < n; i++ {
		code += string('0' + byte(randInt(10)))
	}
	return code
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// getEnvironment reads the environment from ENV, APP_ENV, or ENVIRONMENT.
func getEnvironment() string {
	for _, key := range []string{"ENV", "APP_ENV", "ENVIRONMENT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// isDevEnvironment returns true unless the environment is explicitly set
// to prod/production.
func isDevEnvironment(env string) bool {
	switch strings.ToLower(env) {
	case "prod", "production":
		return false
	}
	return true
}

// IsDevEnvironment reports whether the current ENV/APP_ENV/ENVIRONMENT is
// non-production.
func IsDevEnvironment() bool {
	return isDevEnvironment(getEnvironment())
}
