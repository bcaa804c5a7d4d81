package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/internal/config"
	"wesync/internal/entity"
	"wesync/internal/event"
)

type testBackend struct {
	srv  *Server
	http *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	cfg := &config.Server{
		Port:          "0",
		JWTSecret:     "test-secret",
		TokenTTL:      time.Hour,
		ServerID:      "test",
		AllowedOrigin: "*",
	}
	srv, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.RunHub(ctx)
	}()

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
		srv.Close()
	})
	return &testBackend{srv: srv, http: hs}
}

func (b *testBackend) post(t *testing.T, path, token string, body, out any) int {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, b.http.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return resp.StatusCode
}

func (b *testBackend) register(t *testing.T, username string) entity.AuthResponse {
	t.Helper()
	var auth entity.AuthResponse
	require.Equal(t, http.StatusCreated, b.post(t, "/auth/register", "", entity.RegisterRequest{
		Username: username,
		Password: "secret123",
	}, &auth))
	return auth
}

func (b *testBackend) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(b.http.URL, "http") + "/ws?token=" + token
}

type wsPeer struct {
	conn   *websocket.Conn
	events chan event.Event
}

func (b *testBackend) dial(t *testing.T, token string) *wsPeer {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(b.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := &wsPeer{conn: conn, events: make(chan event.Event, 64)}
	go func() {
		defer close(p.events)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ev, err := event.Decode(data)
			if err != nil {
				continue
			}
			p.events <- ev
		}
	}()
	return p
}

func (p *wsPeer) send(t *testing.T, name event.Name, payload any) {
	t.Helper()
	data, err := event.Encode(name, payload)
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, data))
}

// await returns the first event matching match, skipping the others.
func (p *wsPeer) await(t *testing.T, within time.Duration, match func(event.Event) bool) (event.Event, bool) {
	t.Helper()
	timeout := time.After(within)
	for {
		select {
		case ev, ok := <-p.events:
			if !ok {
				return nil, false
			}
			if match(ev) {
				return ev, true
			}
		case <-timeout:
			return nil, false
		}
	}
}

func online(userId string) func(event.Event) bool {
	return func(ev event.Event) bool {
		pc, ok := ev.(event.PresenceChanged)
		return ok && pc.Online && pc.UserId == userId
	}
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	b := newTestBackend(t)

	_, resp, err := websocket.DefaultDialer.Dial(b.wsURL("garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(b.http.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocketSync(t *testing.T) {
	b := newTestBackend(t)
	alice := b.register(t, "alice")
	bob := b.register(t, "bob")

	var conv entity.Conversation
	require.Equal(t, http.StatusOK, b.post(t, "/conversations", alice.AccessToken, entity.CreateConversationRequest{
		Kind:           entity.ConversationKindDirect,
		ParticipantIds: []string{bob.User.Id},
	}, &conv))

	bobWs := b.dial(t, bob.AccessToken)
	_, ok := bobWs.await(t, 2*time.Second, online(bob.User.Id))
	require.True(t, ok, "bob sees his own presence broadcast")

	// Alice gets bob in her snapshot, bob hears alice come online
	aliceWs := b.dial(t, alice.AccessToken)
	_, ok = aliceWs.await(t, 2*time.Second, online(bob.User.Id))
	assert.True(t, ok)
	_, ok = bobWs.await(t, 2*time.Second, online(alice.User.Id))
	assert.True(t, ok)
	assert.Equal(t, 2.0, testutil.ToFloat64(b.srv.Metrics.Connections))

	// Messages reach every participant, the sender included
	aliceWs.send(t, event.NameSendMessage, event.SendMessagePayload{
		ConversationId:     conv.Id,
		SendMessageRequest: entity.SendMessageRequest{ClientId: "c-1", Content: "hi bob"},
	})
	isNew := func(ev event.Event) bool {
		nm, ok := ev.(event.NewMessage)
		return ok && nm.Message.ClientId == "c-1"
	}
	ev, ok := bobWs.await(t, 2*time.Second, isNew)
	require.True(t, ok)
	msg := ev.(event.NewMessage).Message
	assert.Equal(t, "hi bob", msg.Content)
	assert.Equal(t, alice.User.Id, msg.SenderId)
	_, ok = aliceWs.await(t, 2*time.Second, isNew)
	assert.True(t, ok)

	// Read receipts go back to the sender
	bobWs.send(t, event.NameMarkMessageRead, event.MarkReadPayload{ConversationId: conv.Id, MessageIds: []string{msg.Id}})
	ev, ok = aliceWs.await(t, 2*time.Second, func(ev event.Event) bool {
		_, ok := ev.(event.MessageRead)
		return ok
	})
	require.True(t, ok)
	assert.Equal(t, bob.User.Id, ev.(event.MessageRead).UserId)
	assert.Equal(t, []string{msg.Id}, ev.(event.MessageRead).MessageIds)

	// Typing only reaches peers that joined the conversation
	bobWs.send(t, event.NameJoinConversation, event.ConversationRef{ConversationId: conv.Id})
	require.Eventually(t, func() bool {
		aliceWs.send(t, event.NameTypingStart, event.ConversationRef{ConversationId: conv.Id})
		ev, ok := bobWs.await(t, 100*time.Millisecond, func(ev event.Event) bool {
			_, ok := ev.(event.TypingStart)
			return ok
		})
		return ok && ev.(event.TypingStart).UserId == alice.User.Id
	}, 3*time.Second, 10*time.Millisecond)

	// Closing alice announces her offline
	require.NoError(t, aliceWs.conn.Close())
	_, ok = bobWs.await(t, 2*time.Second, func(ev event.Event) bool {
		pc, ok := ev.(event.PresenceChanged)
		return ok && !pc.Online && pc.UserId == alice.User.Id
	})
	assert.True(t, ok)
}

func TestHealthAndMetrics(t *testing.T) {
	b := newTestBackend(t)

	resp, err := http.Get(b.http.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(b.http.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "wesync_server_connected_clients")
}
