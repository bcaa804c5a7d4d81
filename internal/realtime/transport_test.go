package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/internal/event"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func TestWebsocketDialer_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" || r.URL.Query().Get("userId") != "u1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing_start","data":{}}`))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), data...))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	d := NewWebsocketDialer(wsURL(srv), time.Second)
	conn, err := d.Dial(context.Background(), Credentials{Token: "tok", UserId: "u1"})
	require.NoError(t, err)
	defer conn.Close()

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing_start","data":{}}`, string(data))

	require.NoError(t, conn.WriteMessage([]byte("hello")))
	data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(data))
}

func TestWebsocketDialer_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewWebsocketDialer(wsURL(srv), time.Second)
	_, err := d.Dial(context.Background(), Credentials{Token: "bad", UserId: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWebsocketDialer_BadURL(t *testing.T) {
	d := NewWebsocketDialer("://nope", time.Second)
	_, err := d.Dial(context.Background(), Credentials{Token: "tok", UserId: "u1"})
	assert.Error(t, err)
}

func TestManager_ConcurrentSendsOverWebsocket(t *testing.T) {
	const senders, perSender = 8, 25

	received := make(chan int, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := 0
		for n < senders*perSender {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if _, err := event.Decode(data); err == nil {
				n++
			}
		}
		received <- n
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	m, _ := newTestManager(t, NewWebsocketDialer(wsURL(srv), time.Second), Config{}, nil)
	require.NoError(t, m.Connect(context.Background(), Credentials{Token: "tok", UserId: "u1"}))

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.NoError(t, m.Send(event.NameTypingStart, event.ConversationRef{ConversationId: "c1"}))
			}
		}()
	}
	wg.Wait()

	select {
	case n := <-received:
		assert.Equal(t, senders*perSender, n)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive every frame")
	}
}
