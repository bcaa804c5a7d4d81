package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wesync/internal/entity"
	"wesync/internal/realtime"
)

// Draft is what the user composed.
type Draft struct {
	Content     string
	Kind        entity.MessageKind
	Attachments []entity.Attachment
	ReplyTo     string
}

// LoadPage fetches one page of history. Page 1 replaces the list, keeping
// undelivered sends and anything that arrived while the fetch was in flight;
// later pages merge older messages in at the low end.
func (s *Store) LoadPage(ctx context.Context, conversationId string, page, pageSize int) error {
	if page < 1 {
		return ErrInvalidPage
	}
	if pageSize <= 0 {
		pageSize = s.cfg.PageSize
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	startSeq := s.seq
	s.mu.Unlock()

	fetched, err := s.api.FetchMessages(ctx, conversationId, page, pageSize)
	if err != nil {
		s.logger.Warn("load page failed",
			zap.String("conversation_id", conversationId),
			zap.Int("page", page),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	s.mu.Lock()
	t := s.threadLocked(conversationId)
	if page == 1 {
		s.replaceLocked(t, fetched, startSeq)
	} else {
		for _, m := range fetched {
			s.upsertFetchedLocked(t, m)
		}
	}
	t.loaded = true
	t.recountUnread(s.cfg.UserId)
	if n := len(t.entries); n > 0 {
		t.touch(t.entries[n-1].msg)
	}
	c := s.change(ChangeMessages, conversationId)
	s.mu.Unlock()

	s.emit(c)
	return nil
}

func (s *Store) replaceLocked(t *thread, fetched []entity.Message, startSeq uint64) {
	next := make([]*entry, 0, len(fetched)+len(t.entries))
	byId := make(map[string]*entry, len(fetched))
	byClient := make(map[string]*entry)

	for _, m := range fetched {
		if m.Id == "" {
			continue
		}
		m.ConversationId = t.conv.Id
		if old, ok := t.byId[m.Id]; ok {
			m = mergeFetched(old.msg, m)
		} else {
			m = mergeFetched(entity.Message{}, m)
		}
		if prev, ok := byId[m.Id]; ok {
			prev.msg = m
			continue
		}
		e := &entry{msg: m, seq: s.nextSeqLocked()}
		next = append(next, e)
		byId[m.Id] = e
		if m.ClientId != "" {
			byClient[m.ClientId] = e
		}
	}

	for _, old := range t.entries {
		keep := old.msg.Status == entity.MessageStatusPending ||
			old.msg.Status == entity.MessageStatusFailed ||
			old.seq > startSeq
		if !keep {
			continue
		}
		if _, dup := byId[old.msg.Id]; dup {
			continue
		}
		if old.msg.ClientId != "" {
			if e, ok := byClient[old.msg.ClientId]; ok {
				e.msg = Reconcile(old.msg, e.msg)
				continue
			}
		}
		next = append(next, old)
	}

	t.reset(next)
}

func (s *Store) upsertFetchedLocked(t *thread, m entity.Message) {
	if m.Id == "" {
		return
	}
	m.ConversationId = t.conv.Id
	if e, ok := t.byId[m.Id]; ok {
		t.patch(e, mergeFetched(e.msg, m))
		return
	}
	if m.ClientId != "" {
		if e, ok := t.byClient[m.ClientId]; ok {
			t.patch(e, Reconcile(e.msg, m))
			return
		}
	}
	t.insert(mergeFetched(entity.Message{}, m), s.nextSeqLocked())
}

// SendMessage appends an optimistic message and delivers it. While the
// connection is down the message stays pending and goes out after reconnect.
// A failed delivery leaves the message in place with status failed and returns
// ErrDeliveryFailed.
func (s *Store) SendMessage(ctx context.Context, conversationId string, d Draft) (entity.Message, error) {
	if strings.TrimSpace(d.Content) == "" && len(d.Attachments) == 0 {
		return entity.Message{}, ErrEmptyMessage
	}
	if d.Kind == "" {
		d.Kind = entity.MessageKindText
	}
	if !d.Kind.Valid() {
		return entity.Message{}, fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}

	clientId := uuid.NewString()
	msg := entity.Message{
		Id:             clientId,
		ClientId:       clientId,
		ConversationId: conversationId,
		SenderId:       s.cfg.UserId,
		Content:        d.Content,
		Kind:           d.Kind,
		Attachments:    d.Attachments,
		ReplyTo:        d.ReplyTo,
		Timestamp:      s.now().UnixMilli(),
		Status:         entity.MessageStatusPending,
	}
	msg.Normalize()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return entity.Message{}, ErrStoreClosed
	}
	t := s.threadLocked(conversationId)
	t.insert(msg, s.nextSeqLocked())
	t.touch(msg)
	online := s.conn.Status() == realtime.StatusConnected
	if !online {
		s.outbox = append(s.outbox, outboxEntry{conversationId: conversationId, clientId: clientId})
	}
	c := s.change(ChangeMessages, conversationId)
	c.MessageId = clientId
	s.mu.Unlock()

	s.emit(c)

	if !online {
		s.logger.Debug("queued message until reconnect", zap.String("client_id", clientId))
		return msg.Clone(), nil
	}
	return s.deliver(ctx, conversationId, clientId)
}

// Retry redelivers a failed message, identified by its client id.
func (s *Store) Retry(ctx context.Context, conversationId, clientId string) (entity.Message, error) {
	s.mu.Lock()
	t, ok := s.threads[conversationId]
	var e *entry
	if ok {
		e = t.byClient[clientId]
	}
	if e == nil {
		s.mu.Unlock()
		return entity.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, clientId)
	}
	if e.msg.Status != entity.MessageStatusFailed {
		msg := e.msg.Clone()
		s.mu.Unlock()
		return msg, nil
	}
	e.msg.Status = entity.MessageStatusPending
	online := s.conn.Status() == realtime.StatusConnected
	if !online {
		s.outbox = append(s.outbox, outboxEntry{conversationId: conversationId, clientId: clientId})
	}
	msg := e.msg.Clone()
	c := s.change(ChangeMessages, conversationId)
	c.MessageId = clientId
	s.mu.Unlock()

	s.emit(c)

	if !online {
		return msg, nil
	}
	return s.deliver(ctx, conversationId, clientId)
}

// deliver posts a pending message and reconciles the result.
func (s *Store) deliver(ctx context.Context, conversationId, clientId string) (entity.Message, error) {
	s.mu.Lock()
	t := s.threads[conversationId]
	var e *entry
	if t != nil {
		e = t.byClient[clientId]
	}
	if e == nil {
		s.mu.Unlock()
		return entity.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, clientId)
	}
	if e.msg.Status == entity.MessageStatusSent {
		msg := e.msg.Clone()
		s.mu.Unlock()
		return msg, nil
	}
	req := entity.SendMessageRequest{
		ClientId:    clientId,
		Content:     e.msg.Content,
		Kind:        e.msg.Kind,
		Attachments: e.msg.Attachments,
		ReplyTo:     e.msg.ReplyTo,
	}
	s.mu.Unlock()

	echo, err := s.api.PostMessage(ctx, conversationId, req)

	s.mu.Lock()
	e = t.byClient[clientId]
	if e == nil {
		s.mu.Unlock()
		return entity.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, clientId)
	}
	if err != nil {
		if e.msg.Status == entity.MessageStatusSent {
			// the push echo won the race
			msg := e.msg.Clone()
			s.mu.Unlock()
			return msg, nil
		}
		e.msg.Status = entity.MessageStatusFailed
		msg := e.msg.Clone()
		c := s.change(ChangeDeliveryFailed, conversationId)
		c.MessageId = clientId
		c.Err = err
		s.mu.Unlock()

		s.logger.Warn("message delivery failed",
			zap.String("conversation_id", conversationId),
			zap.String("client_id", clientId),
			zap.Error(err))
		s.emit(c)
		return msg, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	if echo.ConversationId == "" {
		echo.ConversationId = conversationId
	}
	s.confirmLocked(t, e, echo)
	msg := e.msg.Clone()
	c := s.change(ChangeMessages, conversationId)
	c.MessageId = msg.Id
	s.mu.Unlock()

	s.emit(c)
	return msg, nil
}

// confirmLocked patches the optimistic entry e with the server copy, dropping any
// separate entry that already holds the server id. The entry gets a fresh seq so
// a first page fetched before the confirmation does not drop it.
func (s *Store) confirmLocked(t *thread, e *entry, echo entity.Message) {
	e.seq = s.nextSeqLocked()
	if echo.Id != "" {
		if dup, ok := t.byId[echo.Id]; ok && dup != e {
			echo.ReadBy = unionReaders(echo.ReadBy, dup.msg.ReadBy)
			t.remove(dup)
		}
	}
	t.patch(e, Reconcile(e.msg, echo))
	t.touch(e.msg)
	t.recountUnread(s.cfg.UserId)
}

// ReceivePush inserts a pushed message. A message whose id is already present is
// ignored; one carrying the client id of a local send confirms that send.
func (s *Store) ReceivePush(msg entity.Message) {
	if msg.Id == "" || msg.ConversationId == "" {
		s.logger.Warn("ignoring pushed message without ids",
			zap.String("id", msg.Id),
			zap.String("conversation_id", msg.ConversationId))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	t := s.threadLocked(msg.ConversationId)
	if _, ok := t.byId[msg.Id]; ok {
		s.mu.Unlock()
		return
	}

	if msg.ClientId != "" {
		if e, ok := t.byClient[msg.ClientId]; ok {
			s.confirmLocked(t, e, msg)
			c := s.change(ChangeMessages, msg.ConversationId)
			c.MessageId = msg.Id
			s.mu.Unlock()
			s.emit(c)
			return
		}
	}

	msg = msg.Clone()
	msg.Status = entity.MessageStatusSent
	msg.Normalize()
	t.insert(msg, s.nextSeqLocked())
	t.touch(msg)
	if isUnread(msg, s.cfg.UserId) {
		t.adjustUnread(1)
	}
	t.recountUnread(s.cfg.UserId)

	changes := []Change{s.change(ChangeMessages, msg.ConversationId)}
	changes[0].MessageId = msg.Id
	changes = append(changes, s.change(ChangeConversations, msg.ConversationId))
	s.mu.Unlock()

	s.emit(changes...)
}

// EditMessage changes the content of a delivered message.
func (s *Store) EditMessage(ctx context.Context, conversationId, messageId, content string) (entity.Message, error) {
	if strings.TrimSpace(content) == "" {
		return entity.Message{}, ErrEmptyMessage
	}
	if _, ok := s.Message(conversationId, messageId); !ok {
		return entity.Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, messageId)
	}

	echo, err := s.api.EditMessage(ctx, conversationId, messageId, content)
	if err != nil {
		return entity.Message{}, fmt.Errorf("edit message: %w", err)
	}
	if echo.Content == "" {
		echo.Content = content
	}
	s.applyEdit(conversationId, messageId, echo.Content)

	msg, _ := s.Message(conversationId, messageId)
	return msg, nil
}

// DeleteMessage soft-deletes a delivered message.
func (s *Store) DeleteMessage(ctx context.Context, conversationId, messageId string) error {
	if _, ok := s.Message(conversationId, messageId); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageId)
	}
	if err := s.api.DeleteMessage(ctx, conversationId, messageId); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.applyDelete(conversationId, messageId)
	return nil
}

func (s *Store) applyEdit(conversationId, messageId, content string) {
	s.mu.Lock()
	t, ok := s.threads[conversationId]
	if !ok {
		s.mu.Unlock()
		return
	}
	e, ok := t.byId[messageId]
	if !ok || e.msg.Deleted || (e.msg.Edited && e.msg.Content == content) {
		s.mu.Unlock()
		return
	}
	e.msg.Content = content
	e.msg.Edited = true
	if last := t.conv.LastMessage; last != nil && last.Id == messageId {
		t.conv.LastMessage = e.msg.Summary()
	}
	c := s.change(ChangeMessages, conversationId)
	c.MessageId = messageId
	s.mu.Unlock()

	s.emit(c)
}

func (s *Store) applyDelete(conversationId, messageId string) {
	s.mu.Lock()
	t, ok := s.threads[conversationId]
	if !ok {
		s.mu.Unlock()
		return
	}
	e, ok := t.byId[messageId]
	if !ok || e.msg.Deleted {
		s.mu.Unlock()
		return
	}
	if isUnread(e.msg, s.cfg.UserId) {
		t.adjustUnread(-1)
	}
	e.msg.Deleted = true
	e.msg.Content = ""
	e.msg.Attachments = nil
	if last := t.conv.LastMessage; last != nil && last.Id == messageId {
		t.conv.LastMessage = e.msg.Summary()
	}
	t.recountUnread(s.cfg.UserId)
	c := s.change(ChangeMessages, conversationId)
	c.MessageId = messageId
	s.mu.Unlock()

	s.emit(c)
}
