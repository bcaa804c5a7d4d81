package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/internal/api"
	"wesync/internal/config"
	"wesync/internal/conversation"
	"wesync/internal/entity"
	"wesync/internal/realtime"
	"wesync/internal/server"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()

	srv, err := server.New(context.Background(), &config.Server{
		JWTSecret:     "test-secret",
		TokenTTL:      time.Hour,
		ServerID:      "test",
		AllowedOrigin: "*",
	}, nil)
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
	return hs
}

func clientConfig(hs *httptest.Server) *config.Client {
	return &config.Client{
		ServerURL:            "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
		APIURL:               hs.URL,
		ReconnectBaseDelay:   50 * time.Millisecond,
		MaxReconnectAttempts: 3,
		HandshakeTimeout:     2 * time.Second,
		TypingTimeout:        time.Second,
		PageSize:             20,
	}
}

func register(t *testing.T, hs *httptest.Server, username string) entity.AuthResponse {
	t.Helper()
	auth, err := api.NewClient(hs.URL, api.Config{}, nil).Register(context.Background(), entity.RegisterRequest{
		Username: username,
		Password: "secret123",
	})
	require.NoError(t, err)
	return auth
}

func startSession(t *testing.T, cfg *config.Client) *Service {
	t.Helper()
	svc := New(cfg, nil, prometheus.NewRegistry())
	t.Cleanup(svc.Dispose)
	require.NoError(t, svc.Start(context.Background()))
	require.Eventually(t, func() bool {
		return svc.Manager().Status() == realtime.StatusConnected
	}, 3*time.Second, 10*time.Millisecond)
	return svc
}

func TestServiceSync(t *testing.T) {
	hs := newBackend(t)
	aliceAuth := register(t, hs, "alice")
	bobAuth := register(t, hs, "bob")

	// Alice signs in with a password, bob with a token
	aliceCfg := clientConfig(hs)
	aliceCfg.Username, aliceCfg.Password = "alice", "secret123"
	alice := startSession(t, aliceCfg)
	assert.Equal(t, aliceAuth.User.Id, alice.UserId())

	bobCfg := clientConfig(hs)
	bobCfg.Token = bobAuth.AccessToken
	bob := startSession(t, bobCfg)
	assert.Equal(t, bobAuth.User.Id, bob.UserId())

	ctx := context.Background()
	conv, err := alice.Store().StartConversation(ctx, entity.CreateConversationRequest{
		Kind:           entity.ConversationKindDirect,
		ParticipantIds: []string{bob.UserId()},
	})
	require.NoError(t, err)

	sent, err := alice.Store().SendMessage(ctx, conv.Id, conversation.Draft{Content: "hi bob"})
	require.NoError(t, err)
	assert.Equal(t, entity.MessageStatusSent, sent.Status)

	// The echo does not duplicate the optimistic copy
	require.Never(t, func() bool {
		return len(alice.Store().Messages(conv.Id)) != 1
	}, 200*time.Millisecond, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		msgs := bob.Store().Messages(conv.Id)
		return len(msgs) == 1 && msgs[0].Content == "hi bob"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, bob.Store().Unread(conv.Id))
	assert.True(t, bob.Store().Online(alice.UserId()))

	require.NoError(t, bob.Store().MarkConversationRead(ctx, conv.Id))
	assert.Equal(t, 0, bob.Store().Unread(conv.Id))

	require.Eventually(t, func() bool {
		msg, ok := alice.Store().Message(conv.Id, sent.Id)
		return ok && msg.IsReadBy(bob.UserId())
	}, 3*time.Second, 10*time.Millisecond)

	// A fresh page load agrees with what was pushed
	require.NoError(t, bob.Store().LoadPage(ctx, conv.Id, 1, 20))
	msgs := bob.Store().Messages(conv.Id)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.Id, msgs[0].Id)
}

func TestServiceStartWithoutCredentials(t *testing.T) {
	hs := newBackend(t)

	svc := New(clientConfig(hs), nil, nil)
	defer svc.Dispose()

	err := svc.Start(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
	assert.Nil(t, svc.Store())
}

func TestServiceRejectsForeignUserId(t *testing.T) {
	hs := newBackend(t)
	auth := register(t, hs, "alice")

	cfg := clientConfig(hs)
	cfg.Token = auth.AccessToken
	cfg.UserId = "someone-else"

	svc := New(cfg, nil, nil)
	defer svc.Dispose()
	require.Error(t, svc.Start(context.Background()))
}

func TestServiceDispose(t *testing.T) {
	hs := newBackend(t)
	auth := register(t, hs, "alice")

	cfg := clientConfig(hs)
	cfg.Token = auth.AccessToken
	svc := startSession(t, cfg)

	svc.Dispose()
	svc.Dispose()

	assert.Equal(t, realtime.StatusDisconnected, svc.Manager().Status())
	assert.ErrorIs(t, svc.Start(context.Background()), ErrDisposed)
}
