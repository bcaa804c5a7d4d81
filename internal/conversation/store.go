// Package conversation keeps the client-side view of conversations: ordered
// message lists, read receipts, typing and presence. It merges optimistic local
// sends, fetched pages and pushed events into one consistent state.
package conversation

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wesync/internal/entity"
	"wesync/internal/event"
	"wesync/internal/realtime"
	"wesync/pkg/logger"
)

const (
	DefaultTypingTimeout  = time.Second
	DefaultTypingThrottle = DefaultTypingTimeout / 2
	DefaultPageSize       = 50
)

// API is the durable REST backend.
type API interface {
	ListConversations(ctx context.Context) ([]entity.Conversation, error)
	CreateConversation(ctx context.Context, req entity.CreateConversationRequest) (entity.Conversation, error)
	FetchMessages(ctx context.Context, conversationId string, page, limit int) ([]entity.Message, error)
	PostMessage(ctx context.Context, conversationId string, req entity.SendMessageRequest) (entity.Message, error)
	MarkRead(ctx context.Context, conversationId string, messageIds []string) error
	EditMessage(ctx context.Context, conversationId, messageId, content string) (entity.Message, error)
	DeleteMessage(ctx context.Context, conversationId, messageId string) error
}

// Transport is the part of the connection manager the store relies on. The store
// never reaches the socket any other way.
type Transport interface {
	On(kind event.Kind, h event.Handler) realtime.Subscription
	Off(sub realtime.Subscription)
	Send(name event.Name, payload any) error
	Status() realtime.Status
}

type Config struct {
	// UserId is the signed-in user.
	UserId string
	// TypingTimeout expires a typing entry that never received a stop.
	TypingTimeout time.Duration
	// TypingThrottle spaces outbound typing_start events per conversation. It
	// defaults to half of TypingTimeout so peers see a refresh before expiry.
	TypingThrottle time.Duration
	PageSize       int
}

func (c Config) withDefaults() Config {
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.TypingThrottle <= 0 {
		c.TypingThrottle = c.TypingTimeout / 2
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

type ChangeKind int

const (
	ChangeMessages ChangeKind = iota + 1
	ChangeConversations
	ChangeRead
	ChangeTyping
	ChangePresence
	ChangeDeliveryFailed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeMessages:
		return "messages"
	case ChangeConversations:
		return "conversations"
	case ChangeRead:
		return "read"
	case ChangeTyping:
		return "typing"
	case ChangePresence:
		return "presence"
	case ChangeDeliveryFailed:
		return "delivery_failed"
	}
	return "unknown"
}

// Change tells watchers what part of the state moved. Active is true when the
// conversation is the focused one.
type Change struct {
	Kind           ChangeKind
	ConversationId string
	MessageId      string
	UserId         string
	Active         bool
	Err            error
}

type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type outboxEntry struct {
	conversationId string
	clientId       string
}

type Store struct {
	api      API
	conn     Transport
	cfg      Config
	logger   *zap.Logger
	schedule scheduleFunc
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []realtime.Subscription

	mu        sync.Mutex
	threads   map[string]*thread
	online    map[string]struct{}
	focused   string
	outbox    []outboxEntry
	seq       uint64
	typingGen uint64
	limiters  map[string]*rate.Limiter
	closed    bool

	watchMu   sync.Mutex
	watchers  map[uint64]func(Change)
	nextWatch uint64

	flushMu sync.Mutex
}

// NewStore builds a store for cfg.UserId and subscribes it to conn.
func NewStore(api API, conn Transport, cfg Config, log *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:      api,
		conn:     conn,
		cfg:      cfg.withDefaults(),
		logger:   logger.OrNop(log).Named("conversation"),
		schedule: afterFunc,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		threads:  make(map[string]*thread),
		online:   make(map[string]struct{}),
		limiters: make(map[string]*rate.Limiter),
		watchers: make(map[uint64]func(Change)),
	}

	s.subs = []realtime.Subscription{
		conn.On(event.KindNewMessage, s.onNewMessage),
		conn.On(event.KindMessageRead, s.onMessageRead),
		conn.On(event.KindMessageEdited, s.onMessageEdited),
		conn.On(event.KindMessageDeleted, s.onMessageDeleted),
		conn.On(event.KindTypingStart, s.onTypingStart),
		conn.On(event.KindTypingStop, s.onTypingStop),
		conn.On(event.KindPresenceChanged, s.onPresence),
		conn.On(event.KindConnectionStatusChanged, s.onStatus),
	}
	return s
}

// Close unsubscribes from the transport, stops typing timers and waits for
// background deliveries to finish.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.threads {
		for userId, tt := range t.typing {
			tt.stop()
			delete(t.typing, userId)
		}
	}
	s.mu.Unlock()

	for _, sub := range s.subs {
		s.conn.Off(sub)
	}
	s.cancel()
	s.wg.Wait()
}

// Watch registers fn for change notifications and returns a cancel func. fn runs
// without store locks held and may be called from several goroutines.
func (s *Store) Watch(fn func(Change)) (cancel func()) {
	s.watchMu.Lock()
	s.nextWatch++
	id := s.nextWatch
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.watchMu.Lock()
	ids := make([]uint64, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.watchMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

func (s *Store) change(kind ChangeKind, conversationId string) Change {
	return Change{Kind: kind, ConversationId: conversationId, Active: conversationId != "" && conversationId == s.focused}
}

// threadLocked returns the thread for id, creating it on first use.
func (s *Store) threadLocked(id string) *thread {
	t, ok := s.threads[id]
	if !ok {
		t = newThread(id)
		s.threads[id] = t
	}
	return t
}

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// Messages returns a copy of the conversation's list in display order.
func (s *Store) Messages(conversationId string) []entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationId]
	if !ok {
		return nil
	}
	return t.messages()
}

func (s *Store) Message(conversationId, id string) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[conversationId]
	if !ok {
		return entity.Message{}, false
	}
	e, ok := t.byId[id]
	if !ok {
		e, ok = t.byClient[id]
	}
	if !ok {
		return entity.Message{}, false
	}
	return e.msg.Clone(), true
}

func (s *Store) Conversation(id string) (entity.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return entity.Conversation{}, false
	}
	return t.conv.Clone(), true
}

// Conversations lists known conversations, most recently updated first.
func (s *Store) Conversations() []entity.Conversation {
	s.mu.Lock()
	out := make([]entity.Conversation, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t.conv.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b entity.Conversation) int {
		if a.UpdatedAt != b.UpdatedAt {
			if a.UpdatedAt > b.UpdatedAt {
				return -1
			}
			return 1
		}
		if a.Id < b.Id {
			return -1
		}
		if a.Id > b.Id {
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) Unread(conversationId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.threads[conversationId]; ok {
		return t.conv.UnreadCount
	}
	return 0
}

func (s *Store) Focused() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *Store) Online(userId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userId]
	return ok
}

func (s *Store) OnlineUsers() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	s.mu.Unlock()

	slices.Sort(out)
	return out
}
