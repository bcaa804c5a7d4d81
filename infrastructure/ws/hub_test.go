package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/infrastructure/metrics"
)

func startHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
	})
}

func receive(t *testing.T, c *UserClient) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func assertEmpty(t *testing.T, c *UserClient) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}

func TestHub_RegisterSendUnregister(t *testing.T) {
	m := metrics.NewServer(nil)
	h := newHub(nil, m)

	var registered, unregistered atomic.Int32
	h.SetOnClientRegister(func(*UserClient) error { registered.Add(1); return nil })
	h.SetOnClientUnregister(func(*UserClient) error { unregistered.Add(1); return nil })
	startHub(t, h)

	alice := NewClient("alice", h, nil, nil)
	bob := NewClient("bob", h, nil, nil)
	h.RegisterClient(alice)
	h.RegisterClient(bob)

	require.Eventually(t, func() bool { return h.GetClientCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Connections))

	h.SendToClient("alice", []byte("hi"))
	assert.Equal(t, "hi", string(receive(t, alice)))
	assertEmpty(t, bob)

	h.SendToClient("nobody", []byte("lost"))

	h.UnregisterClient(alice)
	require.Eventually(t, func() bool { return unregistered.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := <-alice.send
	assert.False(t, ok)
	assert.Equal(t, int32(2), registered.Load())
	assert.Equal(t, 1, h.GetClientCount())
}

func TestHub_NewerConnectionReplacesOlder(t *testing.T) {
	h := newHub(nil, nil)
	var unregistered atomic.Int32
	h.SetOnClientUnregister(func(*UserClient) error { unregistered.Add(1); return nil })
	startHub(t, h)

	first := NewClient("alice", h, nil, nil)
	second := NewClient("alice", h, nil, nil)
	h.RegisterClient(first)
	h.RegisterClient(second)

	_, ok := <-first.send
	assert.False(t, ok)

	// The old connection's read pump unregisters it later; that must not
	// remove the replacement.
	h.UnregisterClient(first)
	h.SendToClient("alice", []byte("still here"))
	assert.Equal(t, "still here", string(receive(t, second)))
	assert.Zero(t, unregistered.Load())
}

func TestHub_Rooms(t *testing.T) {
	h := newHub(nil, nil)
	startHub(t, h)

	alice := NewClient("alice", h, nil, nil)
	bob := NewClient("bob", h, nil, nil)
	carol := NewClient("carol", h, nil, nil)
	for _, c := range []*UserClient{alice, bob, carol} {
		h.RegisterClient(c)
	}
	require.Eventually(t, func() bool { return h.GetClientCount() == 3 }, time.Second, 5*time.Millisecond)

	alice.Join("c1")
	bob.Join("c1")
	carol.Join("c2")

	h.SendToRoom("c1", []byte("typing"), "alice")
	assert.Equal(t, "typing", string(receive(t, bob)))
	assertEmpty(t, alice)
	assertEmpty(t, carol)

	bob.Leave("c1")
	assert.False(t, bob.InRoom("c1"))
	h.SendToRoom("c1", []byte("again"), "")
	assert.Equal(t, "again", string(receive(t, alice)))
	assertEmpty(t, bob)

	h.Broadcast([]byte("all"))
	for _, c := range []*UserClient{alice, bob, carol} {
		assert.Equal(t, "all", string(receive(t, c)))
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h := newHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	c := NewClient("alice", h, nil, nil)
	h.RegisterClient(c)
	require.Eventually(t, func() bool { return h.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	_, ok := <-c.send
	assert.False(t, ok)

	late := NewClient("bob", h, nil, nil)
	h.RegisterClient(late)
	_, ok = <-late.send
	assert.False(t, ok)
	h.UnregisterClient(c)
}

func TestRedisHub_HandleRedisMessage(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newRedisHub(rdb, "server-1", nil, nil)
	startHub(t, h.Hub)

	alice := NewClient("alice", h, nil, nil)
	h.RegisterClient(alice)
	require.Eventually(t, func() bool { return h.hasClient("alice") }, time.Second, 5*time.Millisecond)
	alice.Join("c1")

	encode := func(m RedisMessage) string {
		data, err := json.Marshal(m)
		require.NoError(t, err)
		return string(data)
	}

	h.handleRedisMessage(userChannel+"alice", encode(RedisMessage{FromServerId: "server-2", ToUserId: "alice", Payload: []byte("direct")}))
	assert.Equal(t, "direct", string(receive(t, alice)))

	h.handleRedisMessage(roomChannel, encode(RedisMessage{FromServerId: "server-2", Room: "c1", Payload: []byte("room")}))
	assert.Equal(t, "room", string(receive(t, alice)))

	h.handleRedisMessage(roomChannel, encode(RedisMessage{FromServerId: "server-2", Room: "c1", ExceptUserId: "alice", Payload: []byte("skip")}))
	assertEmpty(t, alice)

	h.handleRedisMessage(broadcastChannel, encode(RedisMessage{FromServerId: "server-2", Payload: []byte("all")}))
	assert.Equal(t, "all", string(receive(t, alice)))

	h.handleRedisMessage(broadcastChannel, encode(RedisMessage{FromServerId: "server-1", Payload: []byte("echo")}))
	h.handleRedisMessage(broadcastChannel, "not json")
	assertEmpty(t, alice)
}
