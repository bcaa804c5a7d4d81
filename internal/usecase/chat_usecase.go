package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"wesync/internal/entity"
	"wesync/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("you are not a participant of this conversation")
	ErrInvalidConversation  = errors.New("invalid conversation")
	ErrUnknownParticipant   = errors.New("unknown participant")
)

type ChatUsecase interface {
	// Index returns the user's conversations with their unread counts.
	Index(ctx context.Context, userId string) ([]entity.Conversation, error)
	// Get returns the conversation when userId takes part in it.
	Get(ctx context.Context, userId, conversationId string) (entity.Conversation, error)
	// Create opens a conversation. A direct conversation between the same two
	// users is only created once; later calls return the existing one.
	Create(ctx context.Context, userId string, req entity.CreateConversationRequest) (entity.Conversation, error)
}

type chatUsecase struct {
	conversationRepo repository.ConversationRepository
	userRepo         repository.UserRepository
	messageRepo      repository.MessageRepository
}

func NewChatUsecase(conversationRepo repository.ConversationRepository, userRepo repository.UserRepository, messageRepo repository.MessageRepository) ChatUsecase {
	return &chatUsecase{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		messageRepo:      messageRepo,
	}
}

func (c *chatUsecase) Index(ctx context.Context, userId string) ([]entity.Conversation, error) {
	conversations, err := c.conversationRepo.Index(ctx, userId)
	if err != nil {
		return nil, err
	}

	for i := range conversations {
		unread, err := c.messageRepo.CountUnread(ctx, conversations[i].Id, userId)
		if err != nil {
			return nil, err
		}
		conversations[i].UnreadCount = unread
	}

	if conversations == nil {
		conversations = []entity.Conversation{}
	}
	return conversations, nil
}

func (c *chatUsecase) Get(ctx context.Context, userId, conversationId string) (entity.Conversation, error) {
	conversation, err := c.conversationRepo.Get(ctx, conversationId)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return entity.Conversation{}, ErrConversationNotFound
		}
		return entity.Conversation{}, err
	}

	if !conversation.HasParticipant(userId) {
		return entity.Conversation{}, ErrNotParticipant
	}

	return conversation, nil
}

func (c *chatUsecase) Create(ctx context.Context, userId string, req entity.CreateConversationRequest) (entity.Conversation, error) {
	participants := []string{userId}
	for _, id := range req.ParticipantIds {
		if id != "" && !slices.Contains(participants, id) {
			participants = append(participants, id)
		}
	}

	switch req.Kind {
	case entity.ConversationKindDirect:
		if len(participants) != 2 {
			return entity.Conversation{}, fmt.Errorf("%w: a direct conversation needs exactly one other participant", ErrInvalidConversation)
		}
	case entity.ConversationKindGroup:
		if len(participants) < 2 {
			return entity.Conversation{}, fmt.Errorf("%w: a group needs at least one other participant", ErrInvalidConversation)
		}
	default:
		return entity.Conversation{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidConversation, req.Kind)
	}

	// Every participant must be a known user
	for _, id := range participants[1:] {
		if _, err := c.userRepo.Get(ctx, id); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return entity.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
			}
			return entity.Conversation{}, err
		}
	}

	// Reuse an existing direct conversation
	if req.Kind == entity.ConversationKindDirect {
		existing, err := c.conversationRepo.GetDirectBetweenUsers(ctx, participants[0], participants[1])
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrConversationNotFound) {
			return entity.Conversation{}, err
		}
	}

	return c.conversationRepo.Create(ctx, entity.Conversation{
		Kind:         req.Kind,
		Name:         req.Name,
		Participants: participants,
		CreatedBy:    userId,
	})
}
