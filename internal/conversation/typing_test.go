package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/internal/event"
	"wesync/internal/realtime"
)

func TestSetTyping_ExpiresWithoutStop(t *testing.T) {
	h := newHarness(t, realtime.StatusConnected)

	h.store.SetTyping("c1", "u2", true)
	assert.Equal(t, []string{"u2"}, h.store.Typing("c1"))
	require.Equal(t, 1, h.sched.len())

	h.sched.fire(0)
	assert.Empty(t, h.store.Typing("c1"))
	assert.Len(t, h.changes.Of(ChangeTyping), 2)
}

func TestSetTyping_RefreshRestartsQuietWindow(t *testing.T) {
	h := newHarness(t, realtime.StatusConnected)

	h.store.SetTyping("c1", "u2", true)
	h.store.SetTyping("c1", "u2", true)
	require.Equal(t, 2, h.sched.len())
	assert.True(t, h.sched.stopped[0])

	h.sched.fire(0)
	assert.Equal(t, []string{"u2"}, h.store.Typing("c1"), "stale timer does not expire a refreshed entry")

	h.sched.fire(1)
	assert.Empty(t, h.store.Typing("c1"))
	assert.Len(t, h.changes.Of(ChangeTyping), 2)
}

func TestSetTyping_StopRemoves(t *testing.T) {
	h := newHarness(t, realtime.StatusConnected)

	h.transport.push(event.TypingStart{ConversationId: "c1", UserId: "u2"})
	h.transport.push(event.TypingStart{ConversationId: "c1", UserId: "u3"})
	assert.Equal(t, []string{"u2", "u3"}, h.store.Typing("c1"))

	h.transport.push(event.TypingStop{ConversationId: "c1", UserId: "u2"})
	h.transport.push(event.TypingStop{ConversationId: "c1", UserId: "u9"})
	assert.Equal(t, []string{"u3"}, h.store.Typing("c1"))

	h.sched.fire(0)
	assert.Equal(t, []string{"u3"}, h.store.Typing("c1"))
}

func TestSetTyping_IgnoresOwnEcho(t *testing.T) {
	h := newHarness(t, realtime.StatusConnected)
	h.transport.push(event.TypingStart{ConversationId: "c1", UserId: me})
	assert.Empty(t, h.store.Typing("c1"))
}

func TestSetTyping_RealTimerExpiry(t *testing.T) {
	tr := newFakeTransport(realtime.StatusConnected)
	s := NewStore(&fakeAPI{}, tr, Config{UserId: me, TypingTimeout: 20 * time.Millisecond}, nil)
	t.Cleanup(s.Close)

	s.SetTyping("c1", "u2", true)
	assert.Equal(t, []string{"u2"}, s.Typing("c1"))
	assert.Eventually(t, func() bool { return len(s.Typing("c1")) == 0 }, time.Second, 5*time.Millisecond)
}

func TestNotifyTyping_Throttled(t *testing.T) {
	tr := newFakeTransport(realtime.StatusConnected)
	s := NewStore(&fakeAPI{}, tr, Config{UserId: me, TypingThrottle: time.Hour}, nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.NotifyTyping("c1"))
	require.NoError(t, s.NotifyTyping("c1"))
	require.NoError(t, s.NotifyTyping("c2"))

	starts := tr.Sent(event.NameTypingStart)
	assert.Equal(t, []any{
		event.TypingStart{ConversationId: "c1", UserId: me},
		event.TypingStart{ConversationId: "c2", UserId: me},
	}, starts)

	require.NoError(t, s.StopTyping("c1"))
	assert.Equal(t, []any{event.TypingStop{ConversationId: "c1", UserId: me}}, tr.Sent(event.NameTypingStop))

	require.NoError(t, s.NotifyTyping("c1"))
	assert.Len(t, tr.Sent(event.NameTypingStart), 3)
}

func TestNotifyTyping_OfflineDoesNotConsumeBudget(t *testing.T) {
	tr := newFakeTransport(realtime.StatusDisconnected)
	s := NewStore(&fakeAPI{}, tr, Config{UserId: me, TypingThrottle: time.Hour}, nil)
	t.Cleanup(s.Close)

	assert.ErrorIs(t, s.NotifyTyping("c1"), realtime.ErrNotConnected)

	tr.mu.Lock()
	tr.status = realtime.StatusConnected
	tr.mu.Unlock()

	require.NoError(t, s.NotifyTyping("c1"))
	assert.Len(t, tr.Sent(event.NameTypingStart), 1)
}

func TestConfig_TypingThrottleFollowsTimeout(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultTypingTimeout, cfg.TypingTimeout)
	assert.Less(t, cfg.TypingThrottle, cfg.TypingTimeout)

	cfg = Config{TypingTimeout: 3 * time.Second}.withDefaults()
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingThrottle)

	cfg = Config{TypingTimeout: 3 * time.Second, TypingThrottle: time.Hour}.withDefaults()
	assert.Equal(t, time.Hour, cfg.TypingThrottle)
}

// relayTransport forwards typing_start to a peer transport.
type relayTransport struct {
	*fakeTransport
	peer *fakeTransport
}

func (r *relayTransport) Send(name event.Name, payload any) error {
	if err := r.fakeTransport.Send(name, payload); err != nil {
		return err
	}
	if ev, ok := payload.(event.TypingStart); ok {
		r.peer.push(ev)
	}
	return nil
}

func TestNotifyTyping_PeerIndicatorStaysOnWhileComposing(t *testing.T) {
	bobTr := newFakeTransport(realtime.StatusConnected)
	bob := NewStore(&fakeAPI{}, bobTr, Config{UserId: "bob", TypingTimeout: 200 * time.Millisecond}, nil)
	t.Cleanup(bob.Close)

	aliceTr := &relayTransport{fakeTransport: newFakeTransport(realtime.StatusConnected), peer: bobTr}
	alice := NewStore(&fakeAPI{}, aliceTr, Config{UserId: "alice", TypingTimeout: 200 * time.Millisecond}, nil)
	t.Cleanup(alice.Close)

	require.NoError(t, alice.NotifyTyping("c1"))
	require.Equal(t, []string{"alice"}, bob.Typing("c1"))

	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, alice.NotifyTyping("c1"))
		require.Equal(t, []string{"alice"}, bob.Typing("c1"), "indicator dropped while alice kept typing")
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, len(aliceTr.Sent(event.NameTypingStart)), 3)
	assert.Less(t, len(aliceTr.Sent(event.NameTypingStart)), 20)
}
