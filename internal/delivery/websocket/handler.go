package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wesync/infrastructure/ws"
	"wesync/internal/event"
	"wesync/internal/usecase"
)

type WebsocketHandler struct {
	hub       ws.IHub
	authUc    usecase.AuthUsecase
	userUc    usecase.UserUsecase
	messageUc usecase.MessageUsecase
	chatUc    usecase.ChatUsecase
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewWebsocketHandler(
	hub ws.IHub,
	authUc usecase.AuthUsecase,
	userUc usecase.UserUsecase,
	messageUc usecase.MessageUsecase,
	chatUc usecase.ChatUsecase,
	allowedOrigin string,
	log *zap.Logger,
) *WebsocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebsocketHandler{
		hub:       hub,
		authUc:    authUc,
		userUc:    userUc,
		messageUc: messageUc,
		chatUc:    chatUc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
		logger: log.Named("websocket"),
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket authenticates the handshake, upgrades it and serves the
// connection until it closes.
func (h *WebsocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	claims, err := h.authUc.ValidateAccessToken(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}
	if id := r.URL.Query().Get("userId"); id != "" && id != claims.UserId {
		http.Error(w, ErrUserMismatch.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade", zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.writePresenceSnapshot(ctx, conn, claims.UserId)

	client := ws.NewClient(claims.UserId, h.hub, conn, h.logger)
	h.hub.RegisterClient(client)

	go client.WritePump()
	client.ReadPump(func(data []byte) {
		h.handleMessage(ctx, client, data)
	})
}

func (h *WebsocketHandler) handleMessage(ctx context.Context, client *ws.UserClient, data []byte) {
	env, err := event.DecodeEnvelope(data)
	if err != nil {
		h.logger.Warn("unknown message", zap.String("user_id", client.UserId), zap.Error(err))
		return
	}

	log := h.logger.With(zap.String("user_id", client.UserId), zap.String("event", string(env.Event)))

	switch env.Event {
	case event.NameSendMessage:
		var p event.SendMessagePayload
		if err := env.Unmarshal(&p); err != nil {
			log.Warn("bad payload", zap.Error(err))
			return
		}
		if _, err := h.messageUc.Send(ctx, client.UserId, p.ConversationId, p.SendMessageRequest); err != nil {
			log.Warn("send message", zap.Error(err))
		}

	case event.NameMarkMessageRead:
		var p event.MarkReadPayload
		if err := env.Unmarshal(&p); err != nil {
			log.Warn("bad payload", zap.Error(err))
			return
		}
		if err := h.messageUc.MarkRead(ctx, client.UserId, p.ConversationId, p.MessageIds); err != nil {
			log.Warn("mark read", zap.Error(err))
		}

	case event.NameTypingStart, event.NameTypingStop:
		var p event.ConversationRef
		if err := env.Unmarshal(&p); err != nil {
			log.Warn("bad payload", zap.Error(err))
			return
		}
		if err := h.messageUc.Typing(ctx, client.UserId, p.ConversationId, env.Event == event.NameTypingStart); err != nil {
			log.Debug("typing", zap.Error(err))
		}

	case event.NameJoinConversation:
		var p event.ConversationRef
		if err := env.Unmarshal(&p); err != nil {
			log.Warn("bad payload", zap.Error(err))
			return
		}
		if _, err := h.chatUc.Get(ctx, client.UserId, p.ConversationId); err != nil {
			log.Warn("join conversation", zap.Error(err))
			return
		}
		client.Join(p.ConversationId)

	case event.NameLeaveConversation:
		var p event.ConversationRef
		if err := env.Unmarshal(&p); err != nil {
			log.Warn("bad payload", zap.Error(err))
			return
		}
		client.Leave(p.ConversationId)

	default:
		log.Warn("unsupported event")
	}
}

// HandleRegisterClient and HandleUnregisterClient are the hub callbacks.
func (h *WebsocketHandler) HandleRegisterClient(client *ws.UserClient) error {
	return h.userUc.HandleRegisterClient(context.Background(), client.UserId)
}

func (h *WebsocketHandler) HandleUnregisterClient(client *ws.UserClient) error {
	return h.userUc.HandleUnregisterClient(context.Background(), client.UserId)
}
