// Package flow implements the phone sign-in state machine (idle, sending,
// awaiting-code, verifying, authenticated). Input is validated before any
// provider call and provider failures map into a closed error taxonomy.
// The flow owns the anti-abuse challenge handle as a scoped resource.
package flow

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// State names one of the five flow states.
type State string

const (
	StateIdle          State = "idle"
	StateSending       State = "sending"
	StateAwaitingCode  State = "awaiting_code"
	StateVerifying     State = "verifying"
	StateAuthenticated State = "authenticated"
)

// Session is the authenticated result the flow holds after a successful
// confirmation or an existing-session emission from the provider.
type Session struct {
	PhoneNumber string
	UID         string
	CreatedAt   time.Time
}

// ConfirmationHandle binds one pending code verification to the phone
// number it was requested for. It is consumed exactly once.
type ConfirmationHandle struct {
	ID          string
	PhoneNumber string
}

// ChallengeHandle is the opaque anti-abuse token required before a code
// request. The flow creates one lazily and disposes it on reset, close,
// or request failure.
type ChallengeHandle interface {
	Nonce() string
}

// Provider is the identity backend surface the flow drives. All calls are
// blocking; failures carry *ProviderError codes.
type Provider interface {
	CreateChallenge(ctx context.Context) (ChallengeHandle, error)
	DisposeChallenge(ctx context.Context, h ChallengeHandle) error
	RequestCode(ctx context.Context, phoneNumber string, h ChallengeHandle) (ConfirmationHandle, error)
	ConfirmCode(ctx context.Context, h ConfirmationHandle, code string) (Session, error)
	SignOut(ctx context.Context) error

	// SubscribeSession registers a session-change listener and returns an
	// unsubscribe func. The current state is delivered as the first
	// emission.
	SubscribeSession(onChange func(*Session)) (unsubscribe func())
}

var (
	reE164   = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	reCode   = regexp.MustCompile(`^\d{6}$`)
	codeSize = 6
)

// Flow is one phone sign-in attempt. It is safe for concurrent use; a
// submit that arrives while a provider call is in flight is ignored, which
// keeps the machine strictly sequential.
type Flow struct {
	provider Provider

	mu           sync.Mutex
	state        State
	loading      bool
	inFlight     bool
	phoneNumber  string
	confirmation *ConfirmationHandle
	challenge    ChallengeHandle
	session      *Session
	lastErr      *Error
	unsubscribe  func()
}

// New creates a flow in StateIdle. Call Start to attach the session
// listener; until its first emission Loading reports true.
func New(p Provider) *Flow {
	return &Flow{provider: p, state: StateIdle, loading: true}
}

// Start subscribes to the provider's session stream. An existing session
// moves the flow directly to StateAuthenticated.
func (f *Flow) Start(ctx context.Context) {
	_ = ctx
	f.mu.Lock()
	if f.unsubscribe != nil {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	unsub := f.provider.SubscribeSession(f.onSessionChange)
	f.mu.Lock()
	f.unsubscribe = unsub
	f.mu.Unlock()
}

func (f *Flow) onSessionChange(s *Session) {
	f.mu.Lock()
	f.loading = false
	if s != nil {
		f.session = s
		f.confirmation = nil
		f.state = StateAuthenticated
		f.mu.Unlock()
		return
	}
	var ch ChallengeHandle
	if f.state == StateAuthenticated {
		// Signed out elsewhere; fall back to the phone form. The held
		// challenge was consumed by the earlier code request, so drop it.
		f.session = nil
		f.phoneNumber = ""
		f.state = StateIdle
		ch = f.challenge
		f.challenge = nil
	}
	f.mu.Unlock()

	if ch != nil {
		_ = f.provider.DisposeChallenge(context.Background(), ch)
	}
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Loading reports whether the first session emission is still pending.
func (f *Flow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Session returns the current session, if authenticated.
func (f *Flow) Session() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Err returns the last surfaced error, cleared by the next successful
// transition or reset.
func (f *Flow) Err() *Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// PhoneNumber returns the number the flow is working with.
func (f *Flow) PhoneNumber() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phoneNumber
}

// SubmitPhone validates the number and requests a verification code.
// Invalid input stays in StateIdle without touching the provider. A submit
// while another call is in flight is ignored.
func (f *Flow) SubmitPhone(ctx context.Context, phoneNumber string) *Error {
	phoneNumber = strings.TrimSpace(phoneNumber)

	f.mu.Lock()
	if f.inFlight || f.state != StateIdle {
		f.mu.Unlock()
		return nil
	}
	if !reE164.MatchString(phoneNumber) {
		f.lastErr = newError(CategoryInvalidInput, "Enter a phone number in international format, e.g. +14155550123.")
		f.mu.Unlock()
		return f.lastErr
	}
	f.state = StateSending
	f.phoneNumber = phoneNumber
	f.confirmation = nil
	f.lastErr = nil
	f.inFlight = true
	ch := f.challenge
	f.mu.Unlock()

	if ch == nil {
		created, err := f.provider.CreateChallenge(ctx)
		if err != nil {
			return f.failRequest(ctx, nil, newError(CategoryChallengeSetupFailed, "Could not set up the sign-in check. Try again."))
		}
		ch = created
		f.mu.Lock()
		f.challenge = ch
		f.mu.Unlock()
	}

	conf, err := f.provider.RequestCode(ctx, phoneNumber, ch)
	if err != nil {
		// A failed request may have burned the challenge; recreate next time.
		return f.failRequest(ctx, ch, Categorize(err))
	}

	f.mu.Lock()
	f.inFlight = false
	f.confirmation = &conf
	f.state = StateAwaitingCode
	f.lastErr = nil
	f.mu.Unlock()
	return nil
}

func (f *Flow) failRequest(ctx context.Context, ch ChallengeHandle, ferr *Error) *Error {
	f.mu.Lock()
	f.inFlight = false
	f.state = StateIdle
	f.confirmation = nil
	if f.challenge != nil && f.challenge == ch {
		f.challenge = nil
	}
	f.lastErr = ferr
	f.mu.Unlock()
	if ch != nil {
		_ = f.provider.DisposeChallenge(ctx, ch)
	}
	return ferr
}

// SubmitCode validates the six-digit code and confirms it against the
// pending verification. Validation failures stay in StateAwaitingCode with
// no provider call; a provider rejection keeps the confirmation handle so
// the user can retry.
func (f *Flow) SubmitCode(ctx context.Context, code string) *Error {
	code = strings.TrimSpace(code)

	f.mu.Lock()
	if f.inFlight || f.state != StateAwaitingCode {
		f.mu.Unlock()
		return nil
	}
	if len(code) != codeSize || !reCode.MatchString(code) {
		f.lastErr = newError(CategoryInvalidInput, "Enter the 6-digit code from the SMS.")
		f.mu.Unlock()
		return f.lastErr
	}
	if f.confirmation == nil {
		f.lastErr = newError(CategoryInvalidInput, "No pending verification. Request a new code.")
		f.mu.Unlock()
		return f.lastErr
	}
	conf := *f.confirmation
	f.state = StateVerifying
	f.lastErr = nil
	f.inFlight = true
	f.mu.Unlock()

	sess, err := f.provider.ConfirmCode(ctx, conf, code)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	if err != nil {
		f.state = StateAwaitingCode
		f.lastErr = Categorize(err)
		return f.lastErr
	}
	f.session = &sess
	f.confirmation = nil
	f.state = StateAuthenticated
	f.lastErr = nil
	return nil
}

// Reset returns the flow to StateIdle, clearing the phone number, error,
// and both handles. Ignored while a provider call is in flight.
func (f *Flow) Reset(ctx context.Context) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return
	}
	ch := f.challenge
	f.challenge = nil
	f.confirmation = nil
	f.phoneNumber = ""
	f.session = nil
	f.lastErr = nil
	f.state = StateIdle
	f.mu.Unlock()

	if ch != nil {
		_ = f.provider.DisposeChallenge(ctx, ch)
	}
}

// SignOut revokes the provider session and resets the flow. The local
// state is cleared even if the provider call fails; the categorized error
// is returned for surfacing.
func (f *Flow) SignOut(ctx context.Context) *Error {
	f.mu.Lock()
	if f.inFlight || f.state != StateAuthenticated {
		f.mu.Unlock()
		return nil
	}
	f.inFlight = true
	f.mu.Unlock()

	err := f.provider.SignOut(ctx)

	f.mu.Lock()
	f.inFlight = false
	f.mu.Unlock()
	f.Reset(ctx)
	if err != nil {
		return Categorize(err)
	}
	return nil
}

// Close detaches the session listener and disposes any held challenge.
func (f *Flow) Close(ctx context.Context) {
	f.mu.Lock()
	unsub := f.unsubscribe
	f.unsubscribe = nil
	ch := f.challenge
	f.challenge = nil
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if ch != nil {
		_ = f.provider.DisposeChallenge(ctx, ch)
	}
}
