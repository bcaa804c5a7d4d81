package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"wesync/internal/entity"
	"wesync/internal/event"
	"wesync/internal/realtime"
)

type sent struct {
	name    event.Name
	payload any
}

type fakeTransport struct {
	mu       sync.Mutex
	status   realtime.Status
	handlers map[event.Kind][]event.Handler
	sent     []sent
	offs     int
}

func newFakeTransport(status realtime.Status) *fakeTransport {
	return &fakeTransport{status: status, handlers: make(map[event.Kind][]event.Handler)}
}

func (f *fakeTransport) On(kind event.Kind, h event.Handler) realtime.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], h)
	return realtime.Subscription{}
}

func (f *fakeTransport) Off(realtime.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offs++
	if f.offs == len(event.Kinds()) {
		clear(f.handlers)
	}
}

func (f *fakeTransport) Send(name event.Name, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != realtime.StatusConnected {
		return realtime.ErrNotConnected
	}
	f.sent = append(f.sent, sent{name: name, payload: payload})
	return nil
}

func (f *fakeTransport) Status() realtime.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// push delivers ev to the store's handlers synchronously.
func (f *fakeTransport) push(ev event.Event) {
	f.mu.Lock()
	hs := append([]event.Handler(nil), f.handlers[ev.Kind()]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeTransport) setStatus(s realtime.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
	f.push(event.ConnectionStatusChanged{Status: s})
}

func (f *fakeTransport) Sent(name event.Name) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, s := range f.sent {
		if s.name == name {
			out = append(out, s.payload)
		}
	}
	return out
}

type fakeAPI struct {
	mu sync.Mutex

	fetch  func(ctx context.Context, conversationId string, page, limit int) ([]entity.Message, error)
	post   func(ctx context.Context, conversationId string, req entity.SendMessageRequest) (entity.Message, error)
	read   func(ctx context.Context, conversationId string, ids []string) error
	list   func(ctx context.Context) ([]entity.Conversation, error)
	create func(ctx context.Context, req entity.CreateConversationRequest) (entity.Conversation, error)
	edit   func(ctx context.Context, conversationId, messageId, content string) (entity.Message, error)
	del    func(ctx context.Context, conversationId, messageId string) error

	posts    []entity.SendMessageRequest
	readSets [][]string
}

func (a *fakeAPI) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	if a.list == nil {
		return nil, nil
	}
	return a.list(ctx)
}

func (a *fakeAPI) CreateConversation(ctx context.Context, req entity.CreateConversationRequest) (entity.Conversation, error) {
	return a.create(ctx, req)
}

func (a *fakeAPI) FetchMessages(ctx context.Context, conversationId string, page, limit int) ([]entity.Message, error) {
	return a.fetch(ctx, conversationId, page, limit)
}

func (a *fakeAPI) PostMessage(ctx context.Context, conversationId string, req entity.SendMessageRequest) (entity.Message, error) {
	a.mu.Lock()
	a.posts = append(a.posts, req)
	a.mu.Unlock()
	if a.post == nil {
		return echoOf(conversationId, "srv-"+req.ClientId, req), nil
	}
	return a.post(ctx, conversationId, req)
}

func (a *fakeAPI) MarkRead(ctx context.Context, conversationId string, ids []string) error {
	a.mu.Lock()
	a.readSets = append(a.readSets, ids)
	a.mu.Unlock()
	if a.read == nil {
		return nil
	}
	return a.read(ctx, conversationId, ids)
}

func (a *fakeAPI) EditMessage(ctx context.Context, conversationId, messageId, content string) (entity.Message, error) {
	return a.edit(ctx, conversationId, messageId, content)
}

func (a *fakeAPI) DeleteMessage(ctx context.Context, conversationId, messageId string) error {
	if a.del == nil {
		return nil
	}
	return a.del(ctx, conversationId, messageId)
}

func (a *fakeAPI) Posts() []entity.SendMessageRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]entity.SendMessageRequest(nil), a.posts...)
}

func (a *fakeAPI) ReadSets() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.readSets...)
}

func echoOf(conversationId, id string, req entity.SendMessageRequest) entity.Message {
	return entity.Message{
		Id:             id,
		ClientId:       req.ClientId,
		ConversationId: conversationId,
		SenderId:       me,
		Content:        req.Content,
		Kind:           req.Kind,
		ReadBy:         []string{me},
		Timestamp:      fixedNow.UnixMilli() + 5,
	}
}

type fakeScheduler struct {
	mu      sync.Mutex
	fns     []func()
	stopped []bool
}

func (s *fakeScheduler) schedule(_ time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.fns)
	s.fns = append(s.fns, f)
	s.stopped = append(s.stopped, false)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped[i] = true
		return true
	}
}

func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	f := s.fns[i]
	s.mu.Unlock()
	f()
}

func (s *fakeScheduler) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

const me = "me"

var fixedNow = time.UnixMilli(1_700_000_000_000)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) add(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) Of(kind ChangeKind) []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Change
	for _, c := range l.changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	store     *Store
	api       *fakeAPI
	transport *fakeTransport
	sched     *fakeScheduler
	changes   *changeLog
}

func newHarness(t *testing.T, status realtime.Status) *harness {
	t.Helper()
	h := &harness{
		api:       &fakeAPI{},
		transport: newFakeTransport(status),
		sched:     &fakeScheduler{},
		changes:   &changeLog{},
	}
	h.store = NewStore(h.api, h.transport, Config{UserId: me}, nil)
	h.store.schedule = h.sched.schedule
	h.store.now = func() time.Time { return fixedNow }
	h.store.Watch(h.changes.add)
	t.Cleanup(h.store.Close)
	return h
}

func msg(id, conversationId, sender string, ts int64) entity.Message {
	return entity.Message{
		Id:             id,
		ConversationId: conversationId,
		SenderId:       sender,
		Content:        "content " + id,
		Kind:           entity.MessageKindText,
		Timestamp:      ts,
	}
}

func ids(msgs []entity.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}
