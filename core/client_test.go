package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/flow"
	memorystore "github.com/open-rails/phonekit/storage/memory"
)

type sessionRecorder struct {
	mu       sync.Mutex
	emitted  []*flow.Session
	notified chan struct{}
}

func newSessionRecorder() *sessionRecorder {
	return &sessionRecorder{notified: make(chan struct{}, 16)}
}

func (r *sessionRecorder) onChange(s *flow.Session) {
	r.mu.Lock()
	r.emitted = append(r.emitted, s)
	r.mu.Unlock()
	r.notified <- struct{}{}
}

func (r *sessionRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.notified:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session emission")
	}
}

func (r *sessionRecorder) last() *flow.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.emitted) == 0 {
		return nil
	}
	return r.emitted[len(r.emitted)-1]
}

func TestClient_SubscribeDeliversCurrentState(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	client := svc.NewClient()

	rec := newSessionRecorder()
	unsub := client.SubscribeSession(rec.onChange)
	defer unsub()

	rec.wait(t)
	require.Nil(t, rec.last())
}

func TestClient_FullSignInSignOut(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	client := svc.NewClient()
	ctx := context.Background()

	rec := newSessionRecorder()
	unsub := client.SubscribeSession(rec.onChange)
	defer unsub()
	rec.wait(t)

	ch, err := client.CreateChallenge(ctx)
	require.NoError(t, err)
	conf, err := client.RequestCode(ctx, "+14155550123", ch)
	require.NoError(t, err)
	require.Equal(t, "+14155550123", conf.PhoneNumber)

	sess, err := client.ConfirmCode(ctx, conf, sms.last())
	require.NoError(t, err)
	require.Equal(t, "+14155550123", sess.PhoneNumber)

	rec.wait(t)
	require.NotNil(t, rec.last())
	require.Equal(t, "+14155550123", rec.last().PhoneNumber)
	require.NotNil(t, client.Session())

	require.NoError(t, client.SignOut(ctx))
	rec.wait(t)
	require.Nil(t, rec.last())
	require.Nil(t, client.Session())
}

func TestClient_ChallengeGatedService(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	broker := challenge.NewBroker(memorystore.NewChallengeCache(0), challenge.DefaultParams(), 0)
	svc.WithChallenges(broker)
	client := svc.NewClient()
	ctx := context.Background()

	// Without a challenge handle the request is rejected.
	_, err := svc.StartVerification(ctx, "+14155550123", nil)
	require.Equal(t, flow.ProviderCodeCaptchaFailed, providerCode(t, err))

	// The client solves the challenge transparently.
	ch, err := client.CreateChallenge(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ch.Nonce())
	conf, err := client.RequestCode(ctx, "+14155550123", ch)
	require.NoError(t, err)
	_, err = client.ConfirmCode(ctx, conf, sms.last())
	require.NoError(t, err)
}

func TestClient_DrivesFlow(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	client := svc.NewClient()
	ctx := context.Background()

	f := flow.New(client)
	f.Start(ctx)
	defer f.Close(ctx)

	require.Nil(t, f.SubmitPhone(ctx, "+14155550123"))
	require.Equal(t, flow.StateAwaitingCode, f.State())

	require.Nil(t, f.SubmitCode(ctx, sms.last()))
	require.Equal(t, flow.StateAuthenticated, f.State())
	require.NotNil(t, f.Session())

	require.Nil(t, f.SignOut(ctx))
	require.Equal(t, flow.StateIdle, f.State())
	require.Nil(t, f.Session())
}

func TestClient_FlowRetriesAfterRevocation(t *testing.T) {
	svc, sms := newTestService(t, Options{})
	broker := challenge.NewBroker(memorystore.NewChallengeCache(0), challenge.Params{Time: 1, MemoryKB: 64, Threads: 1, KeyLen: 32}, 0)
	svc.WithChallenges(broker)
	client := svc.NewClient()
	ctx := context.Background()

	f := flow.New(client)
	f.Start(ctx)
	defer f.Close(ctx)

	require.Nil(t, f.SubmitPhone(ctx, "+14155550123"))
	require.Nil(t, f.SubmitCode(ctx, sms.last()))
	require.Equal(t, flow.StateAuthenticated, f.State())

	// Revoking through the client (not the flow) lands the flow back in
	// Idle via the session listener. The next submit must start clean and
	// solve a fresh challenge, not reuse the one spent on the first
	// request.
	require.NoError(t, client.SignOut(ctx))
	require.Equal(t, flow.StateIdle, f.State())

	require.Nil(t, f.SubmitPhone(ctx, "+14155550123"))
	require.Equal(t, flow.StateAwaitingCode, f.State())
	require.Nil(t, f.SubmitCode(ctx, sms.last()))
	require.Equal(t, flow.StateAuthenticated, f.State())
}
