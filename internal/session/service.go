// Package session ties the REST client, the connection manager and the
// conversation store together for one signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"wesync/infrastructure/metrics"
	"wesync/internal/api"
	"wesync/internal/config"
	"wesync/internal/conversation"
	"wesync/internal/entity"
	"wesync/internal/realtime"
	"wesync/pkg/jwt"
	"wesync/pkg/logger"
)

var (
	ErrNoCredentials = errors.New("session: no token and no username configured")
	ErrDisposed      = errors.New("session: disposed")
)

var (
	_ conversation.API       = (*api.Client)(nil)
	_ conversation.Transport = (*realtime.Manager)(nil)
)

// Service owns every client-side component of a session. Build one with New
// and release it with Dispose.
type Service struct {
	cfg    *config.Client
	logger *zap.Logger

	api     *api.Client
	manager *realtime.Manager
	metrics *metrics.Client

	mu       sync.Mutex
	store    *conversation.Store
	userId   string
	disposed bool
}

// New builds the REST client and the connection manager. reg may be nil.
func New(cfg *config.Client, log *zap.Logger, reg prometheus.Registerer) *Service {
	log = logger.OrNop(log)
	m := metrics.NewClient(reg)

	client := api.NewClient(cfg.APIURL, api.Config{}, log)
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	manager := realtime.NewManager(
		realtime.NewWebsocketDialer(cfg.ServerURL, cfg.HandshakeTimeout),
		realtime.Config{
			BaseDelay:        cfg.ReconnectBaseDelay,
			MaxAttempts:      cfg.MaxReconnectAttempts,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log,
		m,
	)

	return &Service{
		cfg:     cfg,
		logger:  log.Named("session"),
		api:     client,
		manager: manager,
		metrics: m,
	}
}

// Start signs in when needed, builds the store, connects and loads the
// conversation list. A failed first dial is not fatal: the manager keeps
// retrying and the store queues sends meanwhile.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.store != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	token, userId, err := s.credentials(ctx)
	if err != nil {
		return err
	}

	store := conversation.NewStore(s.api, s.manager, conversation.Config{
		UserId:         userId,
		TypingTimeout:  s.cfg.TypingTimeout,
		TypingThrottle: s.cfg.TypingThrottle,
		PageSize:       s.cfg.PageSize,
	}, s.logger)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		store.Close()
		return ErrDisposed
	}
	s.store = store
	s.userId = userId
	s.mu.Unlock()

	if err := s.manager.Connect(ctx, realtime.Credentials{Token: token, UserId: userId}); err != nil {
		s.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}

	return store.LoadConversations(ctx)
}

// credentials returns the token to use and the user it belongs to.
func (s *Service) credentials(ctx context.Context) (string, string, error) {
	token := s.api.Token()
	if token == "" {
		if s.cfg.Username == "" {
			return "", "", ErrNoCredentials
		}
		auth, err := s.api.Login(ctx, entity.LoginRequest{Username: s.cfg.Username, Password: s.cfg.Password})
		if err != nil {
			return "", "", fmt.Errorf("session: login: %w", err)
		}
		token = auth.AccessToken
	}

	claims, err := jwt.Inspect(token)
	if err != nil {
		return "", "", fmt.Errorf("session: %w", err)
	}
	if s.cfg.UserId != "" && s.cfg.UserId != claims.UserId {
		return "", "", fmt.Errorf("session: configured user %s does not own the token", s.cfg.UserId)
	}
	return token, claims.UserId, nil
}

func (s *Service) API() *api.Client {
	return s.api
}

func (s *Service) Manager() *realtime.Manager {
	return s.manager
}

// Store is nil until Start succeeds.
func (s *Service) Store() *conversation.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Service) UserId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userId
}

// Dispose closes the store and the manager. It is safe to call more than once.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	store := s.store
	s.mu.Unlock()

	if store != nil {
		store.Close()
	}
	s.manager.Close()
	s.logger.Info("session disposed")
}
