package authhttp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/core"
	jwtkit "github.com/open-rails/phonekit/jwt"
	memorystore "github.com/open-rails/phonekit/storage/memory"
)

type captureSMS struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureSMS) SendVerificationCode(ctx context.Context, phoneNumber, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string]string)
	}
	c.codes[phoneNumber] = code
	return nil
}

func (c *captureSMS) codeFor(phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[phone]
}

func newTestService(t *testing.T) (*Service, *captureSMS) {
	t.Helper()
	signer, err := jwtkit.NewRSASigner(2048, "test-kid")
	require.NoError(t, err)
	keys := core.Keyset{Active: signer, PublicKeys: map[string]*rsa.PublicKey{"test-kid": signer.PublicKey()}}
	coreSvc := core.NewService(core.Options{
		Issuer:   "https://auth.example.com",
		Audience: "test-app",
	}, keys)
	sms := &captureSMS{}
	svc := NewService(coreSvc).WithSMSSender(sms).DisableRateLimiter()
	return svc, sms
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var parsed map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	}
	return w, parsed
}

func TestFullSignInOverHTTP(t *testing.T) {
	svc, sms := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	confID, _ := body["confirmation_id"].(string)
	require.NotEmpty(t, confID)

	code := sms.codeFor("+14155550123")
	require.Len(t, code, 6)

	w, body = doJSON(t, h, http.MethodPost, "/auth/phone/confirm",
		fmt.Sprintf(`{"confirmation_id":%q,"code":%q}`, confID, code), nil)
	require.Equal(t, http.StatusOK, w.Code)
	access, _ := body["access_token"].(string)
	require.NotEmpty(t, access)
	require.Equal(t, "+14155550123", body["phone_number"])

	w, body = doJSON(t, h, http.MethodGet, "/auth/session", "",
		map[string]string{"Authorization": "Bearer " + access})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "+14155550123", body["phone_number"])

	w, _ = doJSON(t, h, http.MethodDelete, "/auth/logout", "",
		map[string]string{"Authorization": "Bearer " + access})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, h, http.MethodGet, "/auth/session", "",
		map[string]string{"Authorization": "Bearer " + access})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPhoneRequest_InvalidPhone(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"415-555-0123"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_phone_number", body["error"])
}

func TestPhoneRequest_UnknownFieldRejected(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123","extra":true}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_request", body["error"])
}

func TestPhoneConfirm_WrongCode(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	confID := body["confirmation_id"].(string)

	w, body = doJSON(t, h, http.MethodPost, "/auth/phone/confirm",
		fmt.Sprintf(`{"confirmation_id":%q,"code":"000000"}`, confID), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_code", body["error"])
}

func TestPhoneConfirm_UnknownConfirmation(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/confirm",
		`{"confirmation_id":"nope","code":"123456"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "code_expired", body["error"])
}

func TestPhoneResend(t *testing.T) {
	svc, sms := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	confID := body["confirmation_id"].(string)

	w, _ = doJSON(t, h, http.MethodPost, "/auth/phone/resend",
		fmt.Sprintf(`{"confirmation_id":%q}`, confID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	code := sms.codeFor("+14155550123")
	w, _ = doJSON(t, h, http.MethodPost, "/auth/phone/confirm",
		fmt.Sprintf(`{"confirmation_id":%q,"code":%q}`, confID, code), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChallengeGatedRequest(t *testing.T) {
	svc, sms := newTestService(t)
	params := challenge.Params{Time: 1, MemoryKB: 64, Threads: 1, KeyLen: 32}
	svc.WithChallenges(challenge.NewBroker(memorystore.NewChallengeCache(0), params, 0))
	h := svc.APIHandler()

	// Unchallenged requests are rejected.
	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "challenge_failed", body["error"])

	w, _ = doJSON(t, h, http.MethodPost, "/auth/phone/challenge", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ch challenge.Challenge
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ch))
	ans := challenge.Solve(ch)
	ansJSON, err := json.Marshal(ans)
	require.NoError(t, err)

	w, body = doJSON(t, h, http.MethodPost, "/auth/phone/request",
		fmt.Sprintf(`{"phone_number":"+14155550123","challenge":%s}`, ansJSON), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, body["confirmation_id"])
	require.Len(t, sms.codeFor("+14155550123"), 6)
}

func TestRefreshRotation(t *testing.T) {
	svc, sms := newTestService(t)
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	confID := body["confirmation_id"].(string)

	w, body = doJSON(t, h, http.MethodPost, "/auth/phone/confirm",
		fmt.Sprintf(`{"confirmation_id":%q,"code":%q}`, confID, sms.codeFor("+14155550123")), nil)
	require.Equal(t, http.StatusOK, w.Code)
	refresh := body["refresh_token"].(string)

	w, body = doJSON(t, h, http.MethodPost, "/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, refresh), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEqual(t, refresh, body["refresh_token"])

	// Old refresh token is dead after rotation.
	w, _ = doJSON(t, h, http.MethodPost, "/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, refresh), nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWKS(t *testing.T) {
	svc, _ := newTestService(t)
	h := svc.JWKSHandler()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	keys, ok := body["keys"].([]any)
	require.True(t, ok)
	require.Len(t, keys, 1)
}

func TestRateLimit_TooManyRequests(t *testing.T) {
	svc, _ := newTestService(t)
	svc.WithRateLimiter(fakeLimiter{allow: false}).
		WithClientIPFunc(func(r *http.Request) string { return "203.0.113.9" })
	h := svc.APIHandler()

	w, body := doJSON(t, h, http.MethodPost, "/auth/phone/request",
		`{"phone_number":"+14155550123"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "rate_limited", body["error"])
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) AllowNamed(bucket, key string) (bool, error) { return f.allow, nil }
