package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rendezvous/internal/clock"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

type mapResolver map[string]string

func (m mapResolver) ResolveIdentity(ctx context.Context, credential string) (string, error) {
	if credential == "explode" {
		return "", errors.New("identity backend down")
	}
	if id, ok := m[credential]; ok {
		return id, nil
	}
	return "", interfaces.ErrInvalidCredential
}

type prefixIssuer struct{}

func (prefixIssuer) IssueCredential(playerID string) (string, error) {
	return "fresh-" + playerID, nil
}

type capturePusher struct {
	mu       sync.Mutex
	keys     []string
	messages []interface{}
	err      error
}

func (p *capturePusher) PushTo(key string, message interface{}) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.keys = append(p.keys, key)
	p.messages = append(p.messages, message)
	return 1, nil
}

type handoffFixture struct {
	svc    *Service
	pusher *capturePusher
	clock  *clock.Mock
}

func newHandoffFixture() *handoffFixture {
	clk := clock.NewMock(time.Unix(1_700_000_000, 0))
	pusher := &capturePusher{}
	svc := NewService(mapResolver{"good": "alice"}, prefixIssuer{}, pusher, clk, DefaultConfig(), nil)
	return &handoffFixture{svc: svc, pusher: pusher, clock: clk}
}

func TestComplete_PushesCredentialOnce(t *testing.T) {
	f := newHandoffFixture()
	ctx := context.Background()

	id, err := f.svc.Initiate()
	require.NoError(t, err)
	assert.True(t, f.svc.Exists(id))

	status, err := f.svc.Complete(ctx, id, "good")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	require.Len(t, f.pusher.keys, 1)
	assert.Equal(t, id, f.pusher.keys[0])
	assert.Equal(t, types.LoginSuccessEvent{Event: types.EventLoginSuccess, Token: "fresh-alice"}, f.pusher.messages[0])

	status, err = f.svc.Complete(ctx, id, "good")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidSession, status, "a consumed session looks unknown")
	assert.False(t, f.svc.Exists(id))
	assert.Len(t, f.pusher.keys, 1)
}

func TestComplete_UnknownSession(t *testing.T) {
	f := newHandoffFixture()
	status, err := f.svc.Complete(context.Background(), "nope", "good")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidSession, status)
}

func TestComplete_TooManyAttempts(t *testing.T) {
	f := newHandoffFixture()
	ctx := context.Background()
	id, err := f.svc.Initiate()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		status, err := f.svc.Complete(ctx, id, "wrong")
		require.NoError(t, err)
		assert.Equal(t, StatusInvalidCredential, status, "attempt %d", i+1)
	}

	status, err := f.svc.Complete(ctx, id, "wrong")
	require.NoError(t, err)
	assert.Equal(t, StatusTooManyAttempts, status)

	// Permanently invalid, even with a good credential
	status, err = f.svc.Complete(ctx, id, "good")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidSession, status)
	assert.Empty(t, f.pusher.keys)
}

func TestComplete_Expired(t *testing.T) {
	f := newHandoffFixture()
	id, err := f.svc.Initiate()
	require.NoError(t, err)

	f.clock.Advance(300 * time.Second)
	assert.True(t, f.svc.Exists(id), "exactly the TTL is still live")

	f.clock.Advance(time.Second)
	status, err := f.svc.Complete(context.Background(), id, "good")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)

	status, err = f.svc.Complete(context.Background(), id, "good")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidSession, status, "expired sessions are deleted")
}

func TestInitiate_SweepsStaleSessions(t *testing.T) {
	f := newHandoffFixture()
	ctx := context.Background()

	old, err := f.svc.Initiate()
	require.NoError(t, err)
	used, err := f.svc.Initiate()
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, used, "good")
	require.NoError(t, err)
	assert.Equal(t, 2, f.svc.GetStats()["pending_handoffs"])

	f.clock.Advance(301 * time.Second)
	fresh, err := f.svc.Initiate()
	require.NoError(t, err)

	assert.Equal(t, 1, f.svc.GetStats()["pending_handoffs"])
	assert.False(t, f.svc.Exists(old))
	assert.True(t, f.svc.Exists(fresh))
}

func TestComplete_ResolverFailureIsHard(t *testing.T) {
	f := newHandoffFixture()
	id, err := f.svc.Initiate()
	require.NoError(t, err)

	_, err = f.svc.Complete(context.Background(), id, "explode")
	assert.Error(t, err)

	status, err := f.svc.Complete(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidCredential, status)
}

func TestComplete_UndeliveredPushStillCompletes(t *testing.T) {
	f := newHandoffFixture()
	f.pusher.err = errors.New("no recipient")
	id, err := f.svc.Initiate()
	require.NoError(t, err)

	status, err := f.svc.Complete(context.Background(), id, "good")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestComplete_ConcurrentCompletionsConsumeOnce(t *testing.T) {
	f := newHandoffFixture()
	id, err := f.svc.Initiate()
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := f.svc.Complete(context.Background(), id, "good")
			if err == nil && status == StatusCompleted {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, completed)
	assert.Len(t, f.pusher.keys, 1)
}
