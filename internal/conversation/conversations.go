package conversation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wesync/internal/entity"
)

// LoadConversations fetches the conversation list and merges it into the store.
func (s *Store) LoadConversations(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("load conversations failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	s.mu.Lock()
	for _, c := range convs {
		s.mergeConversationLocked(c)
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeConversations})
	return nil
}

// StartConversation creates a conversation with the given participants. The
// server returns the existing one for a direct pair that already talked.
func (s *Store) StartConversation(ctx context.Context, req entity.CreateConversationRequest) (entity.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, req)
	if err != nil {
		return entity.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}

	s.mu.Lock()
	t := s.mergeConversationLocked(conv)
	out := t.conv.Clone()
	c := s.change(ChangeConversations, conv.Id)
	s.mu.Unlock()

	s.emit(c)
	return out, nil
}

func (s *Store) mergeConversationLocked(c entity.Conversation) *thread {
	t := s.threadLocked(c.Id)
	local := t.conv

	t.conv = c.Clone()
	if local.LastMessage != nil && (t.conv.LastMessage == nil || local.LastMessage.Timestamp > t.conv.LastMessage.Timestamp) {
		t.conv.LastMessage = local.LastMessage
	}
	t.conv.UpdatedAt = max(t.conv.UpdatedAt, local.UpdatedAt)
	if t.loaded {
		t.recountUnread(s.cfg.UserId)
	}
	return t
}
