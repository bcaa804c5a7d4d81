package conversation

import (
	"errors"

	"go.uber.org/zap"

	"wesync/internal/event"
	"wesync/internal/realtime"
)

func (s *Store) onNewMessage(ev event.Event) {
	nm := ev.(event.NewMessage)
	msg := nm.Message
	if msg.ConversationId == "" {
		msg.ConversationId = nm.ConversationId
	}
	s.ReceivePush(msg)
}

func (s *Store) onMessageRead(ev event.Event) {
	s.applyRead(ev.(event.MessageRead))
}

func (s *Store) onMessageEdited(ev event.Event) {
	me := ev.(event.MessageEdited)
	s.applyEdit(me.ConversationId, me.MessageId, me.Content)
}

func (s *Store) onMessageDeleted(ev event.Event) {
	md := ev.(event.MessageDeleted)
	s.applyDelete(md.ConversationId, md.MessageId)
}

func (s *Store) onTypingStart(ev event.Event) {
	ts := ev.(event.TypingStart)
	if ts.UserId == s.cfg.UserId {
		return
	}
	s.SetTyping(ts.ConversationId, ts.UserId, true)
}

func (s *Store) onTypingStop(ev event.Event) {
	ts := ev.(event.TypingStop)
	s.SetTyping(ts.ConversationId, ts.UserId, false)
}

func (s *Store) onPresence(ev event.Event) {
	pc := ev.(event.PresenceChanged)
	if pc.UserId == "" {
		return
	}

	s.mu.Lock()
	_, was := s.online[pc.UserId]
	if was == pc.Online {
		s.mu.Unlock()
		return
	}
	if pc.Online {
		s.online[pc.UserId] = struct{}{}
	} else {
		delete(s.online, pc.UserId)
	}
	s.mu.Unlock()

	s.emit(Change{Kind: ChangePresence, UserId: pc.UserId})
}

// onStatus rejoins the focused conversation and drains the outbox once the
// connection is back.
func (s *Store) onStatus(ev event.Event) {
	st := ev.(event.ConnectionStatusChanged)
	if st.Status != realtime.StatusConnected {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	focused := s.focused
	s.wg.Add(1)
	s.mu.Unlock()

	if focused != "" {
		if err := s.sendRoom(event.NameJoinConversation, focused); err != nil {
			s.logger.Warn("rejoin conversation failed", zap.String("conversation_id", focused), zap.Error(err))
		}
	}

	go func() {
		defer s.wg.Done()
		s.flushOutbox()
	}()
}

// flushOutbox delivers queued sends in the order they were made.
func (s *Store) flushOutbox() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	for {
		s.mu.Lock()
		if s.closed || len(s.outbox) == 0 || s.conn.Status() != realtime.StatusConnected {
			s.mu.Unlock()
			return
		}
		next := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()

		if _, err := s.deliver(s.ctx, next.conversationId, next.clientId); err != nil {
			s.logger.Warn("queued message not delivered",
				zap.String("conversation_id", next.conversationId),
				zap.String("client_id", next.clientId),
				zap.Error(err))
		}
	}
}

// Focus marks the conversation as the one on screen and joins its room. Pushes
// for other conversations keep updating state; only Change.Active differs.
func (s *Store) Focus(conversationId string) error {
	s.mu.Lock()
	prev := s.focused
	s.focused = conversationId
	s.mu.Unlock()

	if prev != "" && prev != conversationId {
		if err := s.sendRoom(event.NameLeaveConversation, prev); err != nil {
			return err
		}
	}
	return s.sendRoom(event.NameJoinConversation, conversationId)
}

// Blur leaves the conversation's room if it is the focused one.
func (s *Store) Blur(conversationId string) error {
	s.mu.Lock()
	if s.focused != conversationId {
		s.mu.Unlock()
		return nil
	}
	s.focused = ""
	s.mu.Unlock()

	return s.sendRoom(event.NameLeaveConversation, conversationId)
}

// sendRoom treats a missing connection as success: rooms are rejoined on reconnect.
func (s *Store) sendRoom(name event.Name, conversationId string) error {
	err := s.conn.Send(name, event.ConversationRef{ConversationId: conversationId})
	if errors.Is(err, realtime.ErrNotConnected) {
		return nil
	}
	return err
}
