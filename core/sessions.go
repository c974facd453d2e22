package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	keySession        = "auth:session:"
	keySessionRefresh = "auth:session_refresh:"
)

// ErrSessionNotFound is returned when a session or refresh token does
// not resolve to a live session.
var ErrSessionNotFound = errors.New("session not found, expired, or revoked")

// Session is an authenticated sign-in. The refresh token is returned
// once at creation and stored only as a sha256 hash.
type Session struct {
	ID          string
	UserID      string
	PhoneNumber string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

type sessionRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	PhoneNumber string    `json:"phone_number"`
	RefreshHash string    `json:"refresh_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Service) issueSession(ctx context.Context, userID, phoneNumber string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.opts.SessionTTL),
	}
	refresh := randB64(32)
	hash := sha256Hex(refresh)

	if s.pg != nil {
		_, err := s.pg.Exec(ctx,
			`INSERT INTO phoneauth.sessions (id, user_id, phone_number, refresh_hash, created_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sess.ID, sess.UserID, sess.PhoneNumber, hash, sess.CreatedAt, sess.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("insert session: %w", err)
		}
	} else if s.useEphemeralStore() {
		rec := sessionRecord{
			ID: sess.ID, UserID: sess.UserID, PhoneNumber: sess.PhoneNumber,
			RefreshHash: hash, CreatedAt: sess.CreatedAt, ExpiresAt: sess.ExpiresAt,
		}
		ttl := s.opts.SessionTTL
		if err := s.ephemSetJSON(ctx, keySession+sess.ID, rec, ttl); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
		if err := s.ephemSetString(ctx, keySessionRefresh+hash, sess.ID, ttl); err != nil {
			return nil, fmt.Errorf("store session refresh: %w", err)
		}
	} else {
		return nil, errors.New("no session store configured")
	}

	access, accessExp, err := s.issueAccessToken(ctx, sess.UserID, sess.PhoneNumber, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.AccessToken = access
	sess.AccessExpiresAt = accessExp
	sess.RefreshToken = refresh
	return sess, nil
}

func (s *Service) issueAccessToken(ctx context.Context, userID, phoneNumber, sessionID string) (string, time.Time, error) {
	if s.keys.Active == nil {
		return "", time.Time{}, errors.New("no signing key configured")
	}
	now := time.Now()
	exp := now.Add(s.opts.AccessTokenTTL)
	claims := map[string]any{
		"iss":          s.opts.Issuer,
		"sub":          userID,
		"aud":          s.opts.Audience,
		"iat":          now.Unix(),
		"exp":          exp.Unix(),
		"sid":          sessionID,
		"phone_number": phoneNumber,
	}
	token, err := s.keys.Active.Sign(ctx, claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, exp, nil
}

// RefreshSession rotates the refresh token and mints a new access token.
// The previous refresh token stops working.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	hash := sha256Hex(refreshToken)
	now := time.Now()

	if s.pg != nil {
		newRefresh := randB64(32)
		newHash := sha256Hex(newRefresh)
		sess := &Session{}
		err := s.pg.QueryRow(ctx,
			`UPDATE phoneauth.sessions SET refresh_hash = $1
			 WHERE refresh_hash = $2 AND revoked_at IS NULL AND expires_at > now()
			 RETURNING id::text, user_id::text, phone_number, created_at, expires_at`,
			newHash, hash).Scan(&sess.ID, &sess.UserID, &sess.PhoneNumber, &sess.CreatedAt, &sess.ExpiresAt)
		if err != nil {
			return nil, ErrSessionNotFound
		}
		access, accessExp, err := s.issueAccessToken(ctx, sess.UserID, sess.PhoneNumber, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.AccessToken = access
		sess.AccessExpiresAt = accessExp
		sess.RefreshToken = newRefresh
		return sess, nil
	}

	if !s.useEphemeralStore() {
		return nil, ErrSessionNotFound
	}
	sid, found, err := s.ephemGetString(ctx, keySessionRefresh+hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	var rec sessionRecord
	found, err = s.ephemGetJSON(ctx, keySession+sid, &rec)
	if err != nil {
		return nil, err
	}
	if !found || now.After(rec.ExpiresAt) || rec.RefreshHash != hash {
		return nil, ErrSessionNotFound
	}
	newRefresh := randB64(32)
	rec.RefreshHash = sha256Hex(newRefresh)
	ttl := time.Until(rec.ExpiresAt)
	if ttl < time.Second {
		return nil, ErrSessionNotFound
	}
	if err := s.ephemSetJSON(ctx, keySession+sid, rec, ttl); err != nil {
		return nil, err
	}
	_ = s.ephemDel(ctx, keySessionRefresh+hash)
	if err := s.ephemSetString(ctx, keySessionRefresh+rec.RefreshHash, sid, ttl); err != nil {
		return nil, err
	}
	access, accessExp, err := s.issueAccessToken(ctx, rec.UserID, rec.PhoneNumber, rec.ID)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID: rec.ID, UserID: rec.UserID, PhoneNumber: rec.PhoneNumber,
		CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt,
		AccessToken: access, AccessExpiresAt: accessExp, RefreshToken: newRefresh,
	}, nil
}

// RevokeSession invalidates a session. Access tokens already issued stay
// valid until their own expiry; refresh stops immediately.
func (s *Service) RevokeSession(ctx context.Context, sessionID string) error {
	if s.pg != nil {
		_, err := s.pg.Exec(ctx,
			`UPDATE phoneauth.sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
			sessionID)
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		s.logEvent(ctx, SignInEvent{SessionID: sessionID, Event: EventSessionRevoked})
		return nil
	}
	if !s.useEphemeralStore() {
		return nil
	}
	var rec sessionRecord
	found, err := s.ephemGetJSON(ctx, keySession+sessionID, &rec)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	_ = s.ephemDel(ctx, keySessionRefresh+rec.RefreshHash)
	if err := s.ephemDel(ctx, keySession+sessionID); err != nil {
		return err
	}
	s.logEvent(ctx, SignInEvent{PhoneNumber: rec.PhoneNumber, UserID: rec.UserID, SessionID: sessionID, Event: EventSessionRevoked})
	return nil
}

// SessionLive reports whether a session exists and is neither expired
// nor revoked.
func (s *Service) SessionLive(ctx context.Context, sessionID string) (bool, error) {
	if s.pg != nil {
		var live bool
		err := s.pg.QueryRow(ctx,
			`SELECT revoked_at IS NULL AND expires_at > now() FROM phoneauth.sessions WHERE id = $1`,
			sessionID).Scan(&live)
		if err != nil {
			return false, nil
		}
		return live, nil
	}
	if !s.useEphemeralStore() {
		return false, nil
	}
	var rec sessionRecord
	found, err := s.ephemGetJSON(ctx, keySession+sessionID, &rec)
	if err != nil {
		return false, err
	}
	return found && time.Now().Before(rec.ExpiresAt), nil
}

// PurgeSessions deletes revoked and expired session rows older than
// cutoff, up to limit. Postgres only; KV sessions expire on their own.
func (s *Service) PurgeSessions(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if s.pg == nil {
		return 0, nil
	}
	tag, err := s.pg.Exec(ctx,
		`DELETE FROM phoneauth.sessions WHERE id IN (
			SELECT id FROM phoneauth.sessions
			WHERE (revoked_at IS NOT NULL OR expires_at < now()) AND created_at < $1
			LIMIT $2)`,
		cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// TokenClaims are the verified contents of an access token.
type TokenClaims struct {
	UserID      string
	PhoneNumber string
	SessionID   string
	ExpiresAt   time.Time
}

// Keyfunc returns a jwt keyfunc resolving kids against the keyset.
func (s *Service) Keyfunc() jwtlib.Keyfunc {
	return func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.keys.PublicKeys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return pub, nil
	}
}

// SessionFromToken validates an access token and checks that its session
// is still live.
func (s *Service) SessionFromToken(ctx context.Context, token string) (*TokenClaims, error) {
	parsed, err := jwtlib.Parse(token, s.Keyfunc(),
		jwtlib.WithValidMethods([]string{"RS256"}),
		jwtlib.WithIssuer(s.opts.Issuer),
		jwtlib.WithAudience(s.opts.Audience),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrSessionNotFound
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sub, _ := claims["sub"].(string)
	sid, _ := claims["sid"].(string)
	phone, _ := claims["phone_number"].(string)
	exp, _ := claims.GetExpirationTime()
	if sub == "" || sid == "" || exp == nil {
		return nil, ErrSessionNotFound
	}
	live, err := s.SessionLive(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrSessionNotFound
	}
	return &TokenClaims{UserID: sub, PhoneNumber: phone, SessionID: sid, ExpiresAt: exp.Time}, nil
}
