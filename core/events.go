package core

import (
	"context"
	"time"
)

type EventType string

const (
	EventCodeSent       EventType = "code_sent"
	EventCodeResent     EventType = "code_resent"
	EventConfirmFailed  EventType = "confirm_failed"
	EventSignedIn       EventType = "signed_in"
	EventSessionRevoked EventType = "session_revoked"
)

// SignInEvent is one entry in the sign-in audit trail.
type SignInEvent struct {
	OccurredAt  time.Time
	Issuer      string
	PhoneNumber string
	UserID      string
	SessionID   string
	Event       EventType
	Detail      *string
	IPAddr      *string
}

// EventLogger receives sign-in events. Logging is best-effort: failures
// never block the sign-in path.
type EventLogger interface {
	LogSignInEvent(ctx context.Context, e SignInEvent) error
}

// EventLogReader queries recorded events, newest first.
type EventLogReader interface {
	ListSignInEvents(ctx context.Context, phoneNumber string, limit int) ([]SignInEvent, error)
}

type clientIPKey struct{}

// WithClientIP tags a context with the caller's IP so events carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) *string {
	ip, ok := ctx.Value(clientIPKey{}).(string)
	if !ok || ip == "" {
		return nil
	}
	return &ip
}

func (s *Service) logEvent(ctx context.Context, e SignInEvent) {
	if s.events == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if e.Issuer == "" {
		e.Issuer = s.opts.Issuer
	}
	if e.IPAddr == nil {
		e.IPAddr = clientIPFromContext(ctx)
	}
	_ = s.events.LogSignInEvent(ctx, e)
}
