package conversation

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"wesync/internal/entity"
	"wesync/internal/event"
)

// MarkRead adds the current user to the reader set of each listed message and
// syncs the marks to the server. Marks that fail to sync are kept and sent again
// with the next call, so repeating a call is a no-op only once it succeeded.
func (s *Store) MarkRead(ctx context.Context, conversationId string, messageIds []string) error {
	me := s.cfg.UserId

	s.mu.Lock()
	t, ok := s.threads[conversationId]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	changed := false
	for _, id := range messageIds {
		e, ok := t.byId[id]
		if !ok || e.msg.Status != entity.MessageStatusSent {
			continue
		}
		unread := isUnread(e.msg, me)
		if e.msg.MarkReadBy(me) {
			changed = true
			t.unsynced[id] = struct{}{}
			if unread {
				t.adjustUnread(-1)
			}
		}
	}
	t.recountUnread(me)

	if len(t.unsynced) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := make([]string, 0, len(t.unsynced))
	for id := range t.unsynced {
		pending = append(pending, id)
	}
	slices.Sort(pending)

	var changes []Change
	if changed {
		c := s.change(ChangeRead, conversationId)
		c.UserId = me
		changes = append(changes, c)
	}
	s.mu.Unlock()

	s.emit(changes...)

	if err := s.syncRead(ctx, conversationId, pending); err != nil {
		s.logger.Warn("read marks not synced",
			zap.String("conversation_id", conversationId),
			zap.Int("count", len(pending)),
			zap.Error(err))
		return fmt.Errorf("mark read: %w", err)
	}

	s.mu.Lock()
	for _, id := range pending {
		delete(t.unsynced, id)
	}
	s.mu.Unlock()
	return nil
}

// MarkConversationRead marks every loaded message of the conversation read.
func (s *Store) MarkConversationRead(ctx context.Context, conversationId string) error {
	s.mu.Lock()
	t, ok := s.threads[conversationId]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	var ids []string
	for _, e := range t.entries {
		if isUnread(e.msg, s.cfg.UserId) {
			ids = append(ids, e.msg.Id)
		}
	}
	s.mu.Unlock()

	return s.MarkRead(ctx, conversationId, ids)
}

// syncRead prefers the live socket and falls back to the REST API.
func (s *Store) syncRead(ctx context.Context, conversationId string, ids []string) error {
	err := s.conn.Send(event.NameMarkMessageRead, event.MarkReadPayload{
		ConversationId: conversationId,
		MessageIds:     ids,
	})
	if err == nil {
		return nil
	}
	s.logger.Debug("read sync over socket failed, using api", zap.Error(err))
	return s.api.MarkRead(ctx, conversationId, ids)
}

func (s *Store) applyRead(ev event.MessageRead) {
	me := s.cfg.UserId

	s.mu.Lock()
	t, ok := s.threads[ev.ConversationId]
	if !ok {
		s.mu.Unlock()
		return
	}
	changed := false
	for _, id := range ev.MessageIds {
		e, ok := t.byId[id]
		if !ok {
			continue
		}
		unread := isUnread(e.msg, me)
		if e.msg.MarkReadBy(ev.UserId) {
			changed = true
			if unread && ev.UserId == me {
				t.adjustUnread(-1)
			}
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	t.recountUnread(me)
	c := s.change(ChangeRead, ev.ConversationId)
	c.UserId = ev.UserId
	s.mu.Unlock()

	s.emit(c)
}
