package core

import (
	"context"
	"sync"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/flow"
)

// Client adapts a Service to the flow.Provider surface for in-process
// use. It tracks one signed-in session and fans out session changes to
// subscribers.
type Client struct {
	svc *Service

	mu      sync.Mutex
	session *Session
	subs    map[int]func(*flow.Session)
	nextSub int
}

var _ flow.Provider = (*Client)(nil)

// NewClient returns a provider client over this service.
func (s *Service) NewClient() *Client {
	return &Client{svc: s, subs: make(map[int]func(*flow.Session))}
}

// solvedChallenge carries an issued challenge together with its computed
// answer, so RequestCode can consume it without re-solving.
type solvedChallenge struct {
	answer challenge.Answer
}

func (h *solvedChallenge) Nonce() string { return h.answer.Nonce }

// noChallenge is the handle used when the service does not gate requests.
type noChallenge struct{}

func (noChallenge) Nonce() string { return "" }

func (c *Client) CreateChallenge(ctx context.Context) (flow.ChallengeHandle, error) {
	if !c.svc.RequiresChallenge() {
		return noChallenge{}, nil
	}
	ch, err := c.svc.IssueChallenge(ctx)
	if err != nil {
		return nil, err
	}
	return &solvedChallenge{answer: challenge.Solve(ch)}, nil
}

func (c *Client) DisposeChallenge(ctx context.Context, h flow.ChallengeHandle) error {
	if h == nil || h.Nonce() == "" {
		return nil
	}
	return c.svc.DisposeChallenge(ctx, h.Nonce())
}

func (c *Client) RequestCode(ctx context.Context, phoneNumber string, h flow.ChallengeHandle) (flow.ConfirmationHandle, error) {
	var ans *challenge.Answer
	if sc, ok := h.(*solvedChallenge); ok {
		ans = &sc.answer
	}
	id, err := c.svc.StartVerification(ctx, phoneNumber, ans)
	if err != nil {
		return flow.ConfirmationHandle{}, err
	}
	return flow.ConfirmationHandle{ID: id, PhoneNumber: phoneNumber}, nil
}

func (c *Client) ConfirmCode(ctx context.Context, h flow.ConfirmationHandle, code string) (flow.Session, error) {
	sess, err := c.svc.ConfirmVerification(ctx, h.ID, code)
	if err != nil {
		return flow.Session{}, err
	}
	c.setSession(sess)
	return flow.Session{PhoneNumber: sess.PhoneNumber, UID: sess.UserID, CreatedAt: sess.CreatedAt}, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := c.svc.RevokeSession(ctx, sess.ID)
	// Local state clears even if revocation failed; the flow resets
	// regardless and the session row expires on its own.
	c.setSession(nil)
	return err
}

// Session returns the current signed-in session, if any.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SubscribeSession registers a listener. The current session state is
// delivered asynchronously as the first emission.
func (c *Client) SubscribeSession(onChange func(*flow.Session)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = onChange
	current := flowSession(c.session)
	c.mu.Unlock()

	go onChange(current)

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Client) setSession(sess *Session) {
	c.mu.Lock()
	c.session = sess
	fns := make([]func(*flow.Session), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	emit := flowSession(sess)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(emit)
	}
}

func flowSession(sess *Session) *flow.Session {
	if sess == nil {
		return nil
	}
	return &flow.Session{PhoneNumber: sess.PhoneNumber, UID: sess.UserID, CreatedAt: sess.CreatedAt}
}
