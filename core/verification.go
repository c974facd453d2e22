package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/flow"
)

const (
	keyVerification = "auth:phone_code:"
	keyQuota        = "auth:phone_quota:"
	keyDisabled     = "auth:phone_disabled:"
	keyPhoneUser    = "auth:phone_user:"
)

// codeGrace keeps an expired verification record around long enough to
// report code-expired instead of a generic not-found.
const codeGrace = 10 * time.Minute

var (
	errChallengeUnavailable = errors.New("challenge broker not configured")
	errSMSUnavailable       = errors.New("no SMS sender configured outside dev environment")
)

type verificationData struct {
	PhoneNumber string    `json:"phone_number"`
	CodeHash    string    `json:"code_hash"`
	Attempts    int       `json:"attempts"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type quotaData struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// StartVerification validates the phone number, consumes the challenge
// answer when a broker is configured, and sends a one-time code. It
// returns an opaque confirmation ID to pass to ConfirmVerification.
func (s *Service) StartVerification(ctx context.Context, phoneNumber string, ans *challenge.Answer) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !reE164.MatchString(phoneNumber) {
		return "", flow.NewProviderError(flow.ProviderCodeInvalidPhone, "phone number must be E.164, e.g. +15551234567")
	}
	if !s.useEphemeralStore() {
		return "", flow.NewProviderError(flow.ProviderCodeNotAllowed, "phone sign-in is not configured")
	}
	if disabled, err := s.phoneDisabled(ctx, phoneNumber); err != nil {
		return "", fmt.Errorf("check disabled: %w", err)
	} else if disabled {
		return "", flow.NewProviderError(flow.ProviderCodeUserDisabled, "this account has been disabled")
	}
	if exhausted, err := s.sendQuotaExhausted(ctx, phoneNumber); err != nil {
		return "", fmt.Errorf("send quota: %w", err)
	} else if exhausted {
		return "", flow.NewProviderError(flow.ProviderCodeQuotaExceeded, "SMS quota exceeded for this phone number")
	}
	// The challenge is single-use, so consume it only after the checks
	// above have passed. A rejected caller keeps a solvable challenge.
	if s.broker != nil {
		if ans == nil {
			return "", flow.NewProviderError(flow.ProviderCodeCaptchaFailed, "challenge answer required")
		}
		if err := s.broker.Consume(ctx, *ans); err != nil {
			return "", flow.NewProviderError(flow.ProviderCodeCaptchaFailed, "challenge verification failed")
		}
	}
	if ok, err := s.bumpSendQuota(ctx, phoneNumber); err != nil {
		return "", fmt.Errorf("send quota: %w", err)
	} else if !ok {
		return "", flow.NewProviderError(flow.ProviderCodeQuotaExceeded, "SMS quota exceeded for this phone number")
	}

	id := uuid.NewString()
	code := randDigits(s.opts.CodeLength)
	data := verificationData{
		PhoneNumber: phoneNumber,
		CodeHash:    sha256Hex(code),
		ExpiresAt:   time.Now().Add(s.opts.CodeTTL),
	}
	if err := s.ephemSetJSON(ctx, keyVerification+id, data, s.opts.CodeTTL+codeGrace); err != nil {
		return "", fmt.Errorf("store verification: %w", err)
	}
	if err := s.dispatchCode(ctx, phoneNumber, code); err != nil {
		_ = s.ephemDel(ctx, keyVerification+id)
		if errors.Is(err, errSMSUnavailable) {
			return "", flow.NewProviderError(flow.ProviderCodeNotAllowed, "SMS delivery is not configured")
		}
		return "", fmt.Errorf("send code: %w", err)
	}
	s.logEvent(ctx, SignInEvent{PhoneNumber: phoneNumber, Event: EventCodeSent})
	return id, nil
}

// ConfirmVerification checks the submitted code against the pending
// verification and, on success, signs the user in and returns a session.
// The confirmation ID is single-use: it is consumed on success, on
// expiry, and when the attempt cap is reached.
func (s *Service) ConfirmVerification(ctx context.Context, confirmationID, code string) (*Session, error) {
	confirmationID = strings.TrimSpace(confirmationID)
	code = strings.TrimSpace(code)
	if !s.useEphemeralStore() {
		return nil, flow.NewProviderError(flow.ProviderCodeNotAllowed, "phone sign-in is not configured")
	}
	key := keyVerification + confirmationID
	var data verificationData
	found, err := s.ephemGetJSON(ctx, key, &data)
	if err != nil {
		return nil, fmt.Errorf("load verification: %w", err)
	}
	if !found {
		return nil, flow.NewProviderError(flow.ProviderCodeCodeExpired, "verification code expired, request a new one")
	}
	if time.Now().After(data.ExpiresAt) {
		_ = s.ephemDel(ctx, key)
		return nil, flow.NewProviderError(flow.ProviderCodeCodeExpired, "verification code expired, request a new one")
	}
	if data.Attempts >= s.opts.MaxConfirmAttempts {
		_ = s.ephemDel(ctx, key)
		return nil, flow.NewProviderError(flow.ProviderCodeTooManyRequests, "too many failed attempts, request a new code")
	}
	if subtle.ConstantTimeCompare([]byte(sha256Hex(code)), []byte(data.CodeHash)) != 1 {
		data.Attempts++
		detail := fmt.Sprintf("attempt %d/%d", data.Attempts, s.opts.MaxConfirmAttempts)
		s.logEvent(ctx, SignInEvent{PhoneNumber: data.PhoneNumber, Event: EventConfirmFailed, Detail: &detail})
		if data.Attempts >= s.opts.MaxConfirmAttempts {
			_ = s.ephemDel(ctx, key)
			return nil, flow.NewProviderError(flow.ProviderCodeTooManyRequests, "too many failed attempts, request a new code")
		}
		ttl := time.Until(data.ExpiresAt.Add(codeGrace))
		if ttl < time.Second {
			ttl = time.Second
		}
		_ = s.ephemSetJSON(ctx, key, data, ttl)
		return nil, flow.NewProviderError(flow.ProviderCodeInvalidCode, "incorrect verification code")
	}
	if err := s.ephemDel(ctx, key); err != nil {
		return nil, fmt.Errorf("consume verification: %w", err)
	}

	uid, disabled, err := s.resolveUser(ctx, data.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if disabled {
		return nil, flow.NewProviderError(flow.ProviderCodeUserDisabled, "this account has been disabled")
	}
	sess, err := s.issueSession(ctx, uid, data.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	s.logEvent(ctx, SignInEvent{PhoneNumber: data.PhoneNumber, UserID: uid, SessionID: sess.ID, Event: EventSignedIn})
	return sess, nil
}

// ResendCode rotates the code on a pending verification and sends it
// again. The confirmation ID stays valid and the attempt counter resets.
func (s *Service) ResendCode(ctx context.Context, confirmationID string) error {
	confirmationID = strings.TrimSpace(confirmationID)
	if !s.useEphemeralStore() {
		return flow.NewProviderError(flow.ProviderCodeNotAllowed, "phone sign-in is not configured")
	}
	key := keyVerification + confirmationID
	var data verificationData
	found, err := s.ephemGetJSON(ctx, key, &data)
	if err != nil {
		return fmt.Errorf("load verification: %w", err)
	}
	if !found || time.Now().After(data.ExpiresAt) {
		_ = s.ephemDel(ctx, key)
		return flow.NewProviderError(flow.ProviderCodeCodeExpired, "verification expired, start over")
	}
	if ok, err := s.bumpSendQuota(ctx, data.PhoneNumber); err != nil {
		return fmt.Errorf("send quota: %w", err)
	} else if !ok {
		return flow.NewProviderError(flow.ProviderCodeQuotaExceeded, "SMS quota exceeded for this phone number")
	}
	code := randDigits(s.opts.CodeLength)
	data.CodeHash = sha256Hex(code)
	data.Attempts = 0
	data.ExpiresAt = time.Now().Add(s.opts.CodeTTL)
	if err := s.ephemSetJSON(ctx, key, data, s.opts.CodeTTL+codeGrace); err != nil {
		return fmt.Errorf("store verification: %w", err)
	}
	if err := s.dispatchCode(ctx, data.PhoneNumber, code); err != nil {
		if errors.Is(err, errSMSUnavailable) {
			return flow.NewProviderError(flow.ProviderCodeNotAllowed, "SMS delivery is not configured")
		}
		return fmt.Errorf("send code: %w", err)
	}
	s.logEvent(ctx, SignInEvent{PhoneNumber: data.PhoneNumber, Event: EventCodeResent})
	return nil
}

// sendQuotaExhausted reports whether the per-phone window is already
// spent, without counting a send.
func (s *Service) sendQuotaExhausted(ctx context.Context, phoneNumber string) (bool, error) {
	var q quotaData
	found, err := s.ephemGetJSON(ctx, keyQuota+phoneNumber, &q)
	if err != nil || !found {
		return false, err
	}
	if time.Since(q.WindowStart) >= time.Hour {
		return false, nil
	}
	return q.Count >= s.opts.MaxCodesPerHour, nil
}

// bumpSendQuota counts a code send against the per-phone fixed window.
// Returns false when the window is exhausted.
func (s *Service) bumpSendQuota(ctx context.Context, phoneNumber string) (bool, error) {
	key := keyQuota + phoneNumber
	now := time.Now()
	var q quotaData
	found, err := s.ephemGetJSON(ctx, key, &q)
	if err != nil {
		return false, err
	}
	if !found || now.Sub(q.WindowStart) >= time.Hour {
		q = quotaData{WindowStart: now}
	}
	if q.Count >= s.opts.MaxCodesPerHour {
		return false, nil
	}
	q.Count++
	ttl := time.Until(q.WindowStart.Add(time.Hour))
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.ephemSetJSON(ctx, key, q, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// DisablePhoneNumber blocks sign-in for a phone number. Existing
// sessions are not revoked here.
func (s *Service) DisablePhoneNumber(ctx context.Context, phoneNumber string) error {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if s.pg != nil {
		_, err := s.pg.Exec(ctx,
			`INSERT INTO phoneauth.users (id, phone_number, disabled) VALUES ($1, $2, TRUE)
			 ON CONFLICT (phone_number) DO UPDATE SET disabled = TRUE`,
			uuid.NewString(), phoneNumber)
		return err
	}
	if !s.useEphemeralStore() {
		return errors.New("no store configured")
	}
	return s.ephemSetString(ctx, keyDisabled+phoneNumber, "1", 0)
}

// EnablePhoneNumber lifts a block set by DisablePhoneNumber.
func (s *Service) EnablePhoneNumber(ctx context.Context, phoneNumber string) error {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if s.pg != nil {
		_, err := s.pg.Exec(ctx,
			`UPDATE phoneauth.users SET disabled = FALSE WHERE phone_number = $1`, phoneNumber)
		return err
	}
	if !s.useEphemeralStore() {
		return errors.New("no store configured")
	}
	return s.ephemDel(ctx, keyDisabled+phoneNumber)
}

func (s *Service) phoneDisabled(ctx context.Context, phoneNumber string) (bool, error) {
	if s.pg != nil {
		var disabled bool
		err := s.pg.QueryRow(ctx,
			`SELECT disabled FROM phoneauth.users WHERE phone_number = $1`, phoneNumber).Scan(&disabled)
		if errors.Is(err, pgx.ErrNoRows) {
			// The user does not exist yet, which is fine.
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("query user: %w", err)
		}
		return disabled, nil
	}
	_, found, err := s.ephemGetString(ctx, keyDisabled+phoneNumber)
	return found, err
}

// resolveUser finds or creates the user for a verified phone number.
func (s *Service) resolveUser(ctx context.Context, phoneNumber string) (uid string, disabled bool, err error) {
	if s.pg != nil {
		err = s.pg.QueryRow(ctx,
			`INSERT INTO phoneauth.users (id, phone_number) VALUES ($1, $2)
			 ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
			 RETURNING id::text, disabled`,
			uuid.NewString(), phoneNumber).Scan(&uid, &disabled)
		return uid, disabled, err
	}
	uid, found, err := s.ephemGetString(ctx, keyPhoneUser+phoneNumber)
	if err != nil {
		return "", false, err
	}
	if !found {
		uid = uuid.NewString()
		if err := s.ephemSetString(ctx, keyPhoneUser+phoneNumber, uid, 0); err != nil {
			return "", false, err
		}
	}
	_, isDisabled, err := s.ephemGetString(ctx, keyDisabled+phoneNumber)
	return uid, isDisabled, err
}
