package usecase

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"wesync/infrastructure/cache"
	"wesync/infrastructure/metrics"
	"wesync/internal/entity"
	"wesync/internal/event"
	"wesync/internal/repository"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	// clientIdTTL bounds how long a client id is remembered for retried posts.
	clientIdTTL = 10 * time.Minute
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can change a message")
	ErrEmptyMessage    = errors.New("message has no content")
	ErrInvalidKind     = errors.New("invalid message kind")
)

type MessageUsecase interface {
	// List returns one page of history in chronological order. Page 1 holds
	// the newest messages.
	List(ctx context.Context, userId, conversationId string, page, limit int) ([]entity.Message, error)
	// Send stores a message and pushes it to every participant, the sender
	// included. A repeated client id returns the message stored the first time.
	Send(ctx context.Context, userId, conversationId string, req entity.SendMessageRequest) (entity.Message, error)
	MarkRead(ctx context.Context, userId, conversationId string, messageIds []string) error
	Edit(ctx context.Context, userId, conversationId, messageId, content string) (entity.Message, error)
	Delete(ctx context.Context, userId, conversationId, messageId string) error
	Typing(ctx context.Context, userId, conversationId string, active bool) error
}

type messageUsecase struct {
	messageRepo      repository.MessageRepository
	conversationRepo repository.ConversationRepository
	chatUc           ChatUsecase
	sent             *cache.MemCache[string]
	notify           notifier
	logger           *zap.Logger
	now              func() time.Time
}

func NewMessageUseCase(
	messageRepo repository.MessageRepository,
	conversationRepo repository.ConversationRepository,
	chatUc ChatUsecase,
	sent *cache.MemCache[string],
	pub Publisher,
	m *metrics.Server,
	log *zap.Logger,
) MessageUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &messageUsecase{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		chatUc:           chatUc,
		sent:             sent,
		notify:           newNotifier(pub, m, log),
		logger:           log.Named("message"),
		now:              time.Now,
	}
}

func (m *messageUsecase) List(ctx context.Context, userId, conversationId string, page, limit int) ([]entity.Message, error) {
	if _, err := m.chatUc.Get(ctx, userId, conversationId); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	messages, err := m.messageRepo.Index(ctx, entity.MessageIndexFilter{
		ConversationId: conversationId,
		Limit:          limit,
		Offset:         (page - 1) * limit,
	})
	if err != nil {
		return nil, err
	}

	// The repository answers newest first
	slices.Reverse(messages)
	if messages == nil {
		messages = []entity.Message{}
	}
	return messages, nil
}

func (m *messageUsecase) Send(ctx context.Context, userId, conversationId string, req entity.SendMessageRequest) (entity.Message, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return entity.Message{}, ErrEmptyMessage
	}
	if req.Kind == "" {
		req.Kind = entity.MessageKindText
	}
	if !req.Kind.Valid() {
		return entity.Message{}, ErrInvalidKind
	}

	conversation, err := m.chatUc.Get(ctx, userId, conversationId)
	if err != nil {
		return entity.Message{}, err
	}

	// A retried post carries the same client id
	key := conversationId + "/" + userId + "/" + req.ClientId
	if req.ClientId != "" && m.sent != nil {
		if messageId, ok := m.sent.Get(key); ok {
			message, err := m.messageRepo.Get(ctx, messageId)
			if err == nil {
				m.logger.Debug("duplicate post", zap.String("client_id", req.ClientId))
				return message, nil
			}
			if !errors.Is(err, repository.ErrMessageNotFound) {
				return entity.Message{}, err
			}
		}
	}

	message := entity.Message{
		ClientId:       req.ClientId,
		ConversationId: conversationId,
		SenderId:       userId,
		Content:        req.Content,
		Kind:           req.Kind,
		Attachments:    req.Attachments,
		ReplyTo:        req.ReplyTo,
		Timestamp:      m.now().UnixMilli(),
		ReadBy:         []string{},
	}
	message.Normalize()

	messageId, err := m.messageRepo.Create(ctx, message)
	if err != nil {
		return entity.Message{}, err
	}
	message.Id = messageId

	if req.ClientId != "" && m.sent != nil {
		m.sent.Set(key, messageId, clientIdTTL)
	}

	if err := m.conversationRepo.Touch(ctx, conversationId, *message.Summary()); err != nil {
		m.logger.Warn("touch conversation", zap.String("conversation_id", conversationId), zap.Error(err))
	}

	m.notify.toUsers(conversation.Participants, event.NewMessage{
		ConversationId: conversationId,
		Message:        message,
	})

	return message, nil
}

func (m *messageUsecase) MarkRead(ctx context.Context, userId, conversationId string, messageIds []string) error {
	conversation, err := m.chatUc.Get(ctx, userId, conversationId)
	if err != nil {
		return err
	}

	changed, err := m.messageRepo.MarkRead(ctx, conversationId, messageIds, userId)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	m.notify.toUsers(conversation.Participants, event.MessageRead{
		ConversationId: conversationId,
		UserId:         userId,
		MessageIds:     changed,
	})
	return nil
}

func (m *messageUsecase) Edit(ctx context.Context, userId, conversationId, messageId, content string) (entity.Message, error) {
	if strings.TrimSpace(content) == "" {
		return entity.Message{}, ErrEmptyMessage
	}

	conversation, message, err := m.ownMessage(ctx, userId, conversationId, messageId)
	if err != nil {
		return entity.Message{}, err
	}
	if message.Deleted {
		return entity.Message{}, ErrMessageNotFound
	}

	if err := m.messageRepo.UpdateContent(ctx, messageId, content); err != nil {
		return entity.Message{}, err
	}
	message.Content = content
	message.Edited = true

	m.notify.toUsers(conversation.Participants, event.MessageEdited{
		ConversationId: conversationId,
		MessageId:      messageId,
		Content:        content,
	})
	return message, nil
}

func (m *messageUsecase) Delete(ctx context.Context, userId, conversationId, messageId string) error {
	conversation, message, err := m.ownMessage(ctx, userId, conversationId, messageId)
	if err != nil {
		return err
	}
	if message.Deleted {
		return nil
	}

	if err := m.messageRepo.SoftDelete(ctx, messageId); err != nil {
		return err
	}

	m.notify.toUsers(conversation.Participants, event.MessageDeleted{
		ConversationId: conversationId,
		MessageId:      messageId,
	})
	return nil
}

// ownMessage loads a message of the conversation that userId sent.
func (m *messageUsecase) ownMessage(ctx context.Context, userId, conversationId, messageId string) (entity.Conversation, entity.Message, error) {
	conversation, err := m.chatUc.Get(ctx, userId, conversationId)
	if err != nil {
		return entity.Conversation{}, entity.Message{}, err
	}

	message, err := m.messageRepo.Get(ctx, messageId)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return entity.Conversation{}, entity.Message{}, ErrMessageNotFound
		}
		return entity.Conversation{}, entity.Message{}, err
	}
	if message.ConversationId != conversationId {
		return entity.Conversation{}, entity.Message{}, ErrMessageNotFound
	}
	if message.SenderId != userId {
		return entity.Conversation{}, entity.Message{}, ErrNotSender
	}

	return conversation, message, nil
}

func (m *messageUsecase) Typing(ctx context.Context, userId, conversationId string, active bool) error {
	if _, err := m.chatUc.Get(ctx, userId, conversationId); err != nil {
		return err
	}

	var ev event.Event = event.TypingStop{ConversationId: conversationId, UserId: userId}
	if active {
		ev = event.TypingStart{ConversationId: conversationId, UserId: userId}
	}
	m.notify.toRoom(conversationId, ev, userId)
	return nil
}
