// Package server assembles the mock messaging backend: repositories, usecases,
// the websocket hub and the HTTP router.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wesync/infrastructure/cache"
	"wesync/infrastructure/db"
	"wesync/infrastructure/metrics"
	"wesync/infrastructure/ws"
	"wesync/internal/config"
	httpHandler "wesync/internal/delivery/http"
	"wesync/internal/delivery/websocket"
	"wesync/internal/repository"
	"wesync/internal/usecase"
	"wesync/pkg/jwt"
	"wesync/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type repositories struct {
	users         repository.UserRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
}

type Server struct {
	cfg    *config.Server
	logger *zap.Logger

	mongo   *db.MongoStore
	hub     ws.IHub
	sent    *cache.MemCache[string]
	router  chi.Router
	Metrics *metrics.Server
}

// New wires the backend. With an empty MongoURI it keeps everything in memory;
// with a RedisAddr the hub relays pushes across instances.
func New(ctx context.Context, cfg *config.Server, log *zap.Logger) (*Server, error) {
	log = logger.OrNop(log)
	s := &Server{cfg: cfg, logger: log}

	repos, err := s.openRepositories(ctx)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.NewServer(registry)

	if cfg.RedisAddr != "" {
		log.Info("using redis hub", zap.String("addr", cfg.RedisAddr), zap.String("server_id", cfg.ServerID))
		s.hub = ws.NewRedisHub(cfg.RedisAddr, cfg.ServerID, log, s.Metrics)
	} else {
		log.Info("using in-memory hub (single server)")
		s.hub = ws.NewHub(log, s.Metrics)
	}

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	s.sent = cache.NewMemCache[string](time.Minute)

	// Initialize use cases
	authUc := usecase.NewAuthUsecase(repos.users, jwtManager)
	userUc := usecase.NewUserUseCase(repos.users, s.hub, s.Metrics, log)
	chatUc := usecase.NewChatUsecase(repos.conversations, repos.users, repos.messages)
	messageUc := usecase.NewMessageUseCase(repos.messages, repos.conversations, chatUc, s.sent, s.hub, s.Metrics, log)

	// Initialize handlers
	websocketH := websocket.NewWebsocketHandler(s.hub, authUc, userUc, messageUc, chatUc, cfg.AllowedOrigin, log)
	s.hub.SetOnClientRegister(websocketH.HandleRegisterClient)
	s.hub.SetOnClientUnregister(websocketH.HandleUnregisterClient)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(httpHandler.CORS(cfg.AllowedOrigin))

	httpHandler.MapHttpRoutes(router, httpHandler.Routes{
		Http:       httpHandler.NewHttpHandler(chatUc, messageUc, log),
		Auth:       httpHandler.NewAuthHandler(authUc, log),
		Middleware: httpHandler.NewAuthMiddleware(authUc),
		Websocket:  websocketH,
		Metrics:    metrics.Handler(registry),
		Health:     s.health,
	})
	s.router = router

	return s, nil
}

func (s *Server) openRepositories(ctx context.Context) (repositories, error) {
	if s.cfg.MongoURI == "" {
		s.logger.Info("using in-memory repositories")
		return repositories{
			users:         repository.NewMemoryUserRepository(),
			conversations: repository.NewMemoryConversationRepository(),
			messages:      repository.NewMemoryMessageRepository(),
		}, nil
	}

	mongoDb, err := db.NewMongoStore(ctx, s.cfg.MongoURI, s.cfg.MongoDatabase)
	if err != nil {
		return repositories{}, err
	}
	if err := mongoDb.EnsureIndexes(ctx); err != nil {
		_ = mongoDb.Close(ctx)
		return repositories{}, err
	}
	s.mongo = mongoDb
	s.logger.Info("connected to MongoDB", zap.String("database", s.cfg.MongoDatabase))

	return repositories{
		users:         repository.NewUserRepository(mongoDb.DB),
		conversations: repository.NewConversationRepository(mongoDb.DB),
		messages:      repository.NewMessageRepository(mongoDb.DB),
	}, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.mongo != nil {
		if err := s.mongo.Ping(r.Context()); err != nil {
			http.Error(w, "mongo unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message":"success","data":null}`))
}

// Handler is the HTTP entry point, websocket endpoint included.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RunHub runs the websocket hub until ctx is done.
func (s *Server) RunHub(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// Run serves on cfg.Port until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.RunHub(gctx)
	})
	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close releases the cache and the database connection.
func (s *Server) Close() {
	s.sent.Close()
	if s.mongo != nil {
		if err := s.mongo.Close(context.Background()); err != nil {
			s.logger.Warn("close mongo", zap.Error(err))
		}
	}
}
