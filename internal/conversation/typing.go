package conversation

import (
	"slices"

	"golang.org/x/time/rate"

	"wesync/internal/event"
	"wesync/internal/realtime"
)

type typingTimer struct {
	gen  uint64
	stop func() bool
}

// SetTyping adds or removes userId from the conversation's typing set. An entry
// that is not refreshed or stopped expires after the typing timeout.
func (s *Store) SetTyping(conversationId, userId string, isTyping bool) {
	if conversationId == "" || userId == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	t := s.threadLocked(conversationId)
	cur, had := t.typing[userId]
	if had {
		cur.stop()
	}

	if isTyping {
		s.typingGen++
		gen := s.typingGen
		t.typing[userId] = &typingTimer{
			gen:  gen,
			stop: s.schedule(s.cfg.TypingTimeout, func() { s.expireTyping(conversationId, userId, gen) }),
		}
		if had {
			s.mu.Unlock()
			return
		}
	} else {
		if !had {
			s.mu.Unlock()
			return
		}
		delete(t.typing, userId)
	}

	c := s.change(ChangeTyping, conversationId)
	c.UserId = userId
	s.mu.Unlock()

	s.emit(c)
}

func (s *Store) expireTyping(conversationId, userId string, gen uint64) {
	s.mu.Lock()
	t, ok := s.threads[conversationId]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	cur, ok := t.typing[userId]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(t.typing, userId)
	c := s.change(ChangeTyping, conversationId)
	c.UserId = userId
	s.mu.Unlock()

	s.emit(c)
}

// Typing lists who is composing in the conversation.
func (s *Store) Typing(conversationId string) []string {
	s.mu.Lock()
	t, ok := s.threads[conversationId]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	out := make([]string, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	s.mu.Unlock()

	slices.Sort(out)
	return out
}

// NotifyTyping tells peers the current user is composing. Calls are throttled
// per conversation; a throttled call returns nil without sending.
func (s *Store) NotifyTyping(conversationId string) error {
	if s.conn.Status() != realtime.StatusConnected {
		return realtime.ErrNotConnected
	}

	s.mu.Lock()
	lim, ok := s.limiters[conversationId]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.cfg.TypingThrottle), 1)
		s.limiters[conversationId] = lim
	}
	s.mu.Unlock()

	if !lim.Allow() {
		return nil
	}
	return s.conn.Send(event.NameTypingStart, event.TypingStart{
		ConversationId: conversationId,
		UserId:         s.cfg.UserId,
	})
}

// StopTyping tells peers the current user stopped composing and lifts the
// throttle so the next keystroke is announced at once.
func (s *Store) StopTyping(conversationId string) error {
	s.mu.Lock()
	delete(s.limiters, conversationId)
	s.mu.Unlock()

	return s.conn.Send(event.NameTypingStop, event.TypingStop{
		ConversationId: conversationId,
		UserId:         s.cfg.UserId,
	})
}
