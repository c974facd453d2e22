package core

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/flow"
	jwtkit "github.com/open-rails/phonekit/jwt"
	memorystore "github.com/open-rails/phonekit/storage/memory"
)

type captureSMS struct {
	mu    sync.Mutex
	codes []string
	phone string
}

func (c *captureSMS) SendVerificationCode(ctx context.Context, phoneNumber, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phone = phoneNumber
	c.codes = append(c.codes, code)
	return nil
}

func (c *captureSMS) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.codes) == 0 {
		return ""
	}
	return c.codes[len(c.codes)-1]
}

func newTestService(t *testing.T, opts Options) (*Service, *captureSMS) {
	t.Helper()
	signer, err := jwtkit.NewRSASigner(2048, "test-kid")
	require.NoError(t, err)
	if opts.Issuer == "" {
		opts.Issuer = "https://auth.example.com"
	}
	if opts.Audience == "" {
		opts.Audience = "test-app"
	}
	keys := Keyset{Active: signer, PublicKeys: map[string]*rsa.PublicKey{"test-kid": signer.PublicKey()}}
	sms := &captureSMS{}
	svc := NewService(opts, keys).
		WithEphemeralStore(memorystore.NewKV(), EphemeralMemory).
		WithSMSSender(sms)
	return svc, sms
}

func providerCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	perr, ok := err.(*flow.ProviderError)
	require.True(t, ok, "expected provider error, got %v", err)
	return perr.Code
}

func TestStartConfirm_HappyPath(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	code := sms.last()
	require.Len(t, code, 6)

	sess, err := svc.ConfirmVerification(ctx, id, code)
	require.NoError(t, err)
	require.Equal(t, "+14155550123", sess.PhoneNumber)
	require.NotEmpty(t, sess.UserID)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEmpty(t, sess.RefreshToken)

	claims, err := svc.SessionFromToken(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.Equal(t, sess.UserID, claims.UserID)
	require.Equal(t, sess.ID, claims.SessionID)
	require.Equal(t, "+14155550123", claims.PhoneNumber)
}

func TestStartVerification_InvalidPhone(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.StartVerification(context.Background(), "415-555-0123", nil)
	require.Equal(t, flow.ProviderCodeInvalidPhone, providerCode(t, err))
}

func TestConfirm_SingleUse(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	code := sms.last()

	_, err = svc.ConfirmVerification(ctx, id, code)
	require.NoError(t, err)

	_, err = svc.ConfirmVerification(ctx, id, code)
	require.Equal(t, flow.ProviderCodeCodeExpired, providerCode(t, err))
}

func TestConfirm_WrongCodeAttemptCap(t *testing.T) {
	svc, sms := newTestService(t, Options{MaxConfirmAttempts: 3})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)

	_, err = svc.ConfirmVerification(ctx, id, "000000")
	require.Equal(t, flow.ProviderCodeInvalidCode, providerCode(t, err))
	_, err = svc.ConfirmVerification(ctx, id, "000000")
	require.Equal(t, flow.ProviderCodeInvalidCode, providerCode(t, err))
	_, err = svc.ConfirmVerification(ctx, id, "000000")
	require.Equal(t, flow.ProviderCodeTooManyRequests, providerCode(t, err))

	// Record is consumed; even the right code is rejected now.
	_, err = svc.ConfirmVerification(ctx, id, sms.last())
	require.Equal(t, flow.ProviderCodeCodeExpired, providerCode(t, err))
}

func TestConfirm_ExpiredCode(t *testing.T) {
	svc, sms := newTestService(t, Options{CodeTTL: time.Millisecond})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = svc.ConfirmVerification(ctx, id, sms.last())
	require.Equal(t, flow.ProviderCodeCodeExpired, providerCode(t, err))
}

func TestStartVerification_Quota(t *testing.T) {
	svc, _ := newTestService(t, Options{MaxCodesPerHour: 2})
	ctx := context.Background()

	_, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	_, err = svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	_, err = svc.StartVerification(ctx, "+14155550123", nil)
	require.Equal(t, flow.ProviderCodeQuotaExceeded, providerCode(t, err))

	// Other numbers are unaffected.
	_, err = svc.StartVerification(ctx, "+14155550124", nil)
	require.NoError(t, err)
}

func TestStartVerification_RejectionKeepsChallenge(t *testing.T) {
	svc, _ := newTestService(t, Options{MaxCodesPerHour: 1})
	broker := challenge.NewBroker(memorystore.NewChallengeCache(0), challenge.Params{Time: 1, MemoryKB: 64, Threads: 1, KeyLen: 32}, 0)
	svc.WithChallenges(broker)
	ctx := context.Background()

	first, err := svc.IssueChallenge(ctx)
	require.NoError(t, err)
	ans := challenge.Solve(first)
	_, err = svc.StartVerification(ctx, "+14155550123", &ans)
	require.NoError(t, err)

	// A quota-limited request must not spend the solved challenge.
	second, err := svc.IssueChallenge(ctx)
	require.NoError(t, err)
	ans2 := challenge.Solve(second)
	_, err = svc.StartVerification(ctx, "+14155550123", &ans2)
	require.Equal(t, flow.ProviderCodeQuotaExceeded, providerCode(t, err))
	_, err = svc.StartVerification(ctx, "+14155550124", &ans2)
	require.NoError(t, err)

	// Same for a disabled number.
	require.NoError(t, svc.DisablePhoneNumber(ctx, "+14155550125"))
	third, err := svc.IssueChallenge(ctx)
	require.NoError(t, err)
	ans3 := challenge.Solve(third)
	_, err = svc.StartVerification(ctx, "+14155550125", &ans3)
	require.Equal(t, flow.ProviderCodeUserDisabled, providerCode(t, err))
	require.NoError(t, broker.Consume(ctx, ans3))
}

func TestResendCode_RotatesCode(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	first := sms.last()

	require.NoError(t, svc.ResendCode(ctx, id))
	second := sms.last()
	require.Len(t, second, 6)

	// Old code no longer verifies unless it happens to collide.
	if first != second {
		_, err = svc.ConfirmVerification(ctx, id, first)
		require.Equal(t, flow.ProviderCodeInvalidCode, providerCode(t, err))
	}
	_, err = svc.ConfirmVerification(ctx, id, second)
	require.NoError(t, err)
}

func TestResendCode_UnknownConfirmation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	err := svc.ResendCode(context.Background(), "nope")
	require.Equal(t, flow.ProviderCodeCodeExpired, providerCode(t, err))
}

func TestDisabledPhoneNumber(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, svc.DisablePhoneNumber(ctx, "+14155550123"))
	_, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.Equal(t, flow.ProviderCodeUserDisabled, providerCode(t, err))

	require.NoError(t, svc.EnablePhoneNumber(ctx, "+14155550123"))
	_, err = svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
}

func TestRevokeSession_InvalidatesToken(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	sess, err := svc.ConfirmVerification(ctx, id, sms.last())
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(ctx, sess.ID))
	_, err = svc.SessionFromToken(ctx, sess.AccessToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSession_Rotates(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	sess, err := svc.ConfirmVerification(ctx, id, sms.last())
	require.NoError(t, err)

	refreshed, err := svc.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, sess.ID, refreshed.ID)
	require.NotEqual(t, sess.RefreshToken, refreshed.RefreshToken)

	// The old refresh token is dead after rotation.
	_, err = svc.RefreshSession(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStableUserID(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	ctx := context.Background()

	id, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	first, err := svc.ConfirmVerification(ctx, id, sms.last())
	require.NoError(t, err)

	id, err = svc.StartVerification(ctx, "+14155550123", nil)
	require.NoError(t, err)
	second, err := svc.ConfirmVerification(ctx, id, sms.last())
	require.NoError(t, err)

	require.Equal(t, first.UserID, second.UserID)
}
