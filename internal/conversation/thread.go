package conversation

import (
	"cmp"
	"slices"
	"strings"

	"wesync/internal/entity"
)

type entry struct {
	msg entity.Message
	// seq orders local insertions so a page reload can tell what arrived while
	// its fetch was in flight.
	seq uint64
}

// thread is the local state of one conversation.
type thread struct {
	conv     entity.Conversation
	entries  []*entry
	byId     map[string]*entry
	byClient map[string]*entry
	// loaded is set once a page has been fetched; from then on the unread count
	// is derived from the entries.
	loaded   bool
	typing   map[string]*typingTimer
	unsynced map[string]struct{}
}

func newThread(id string) *thread {
	return &thread{
		conv:     entity.Conversation{Id: id},
		byId:     make(map[string]*entry),
		byClient: make(map[string]*entry),
		typing:   make(map[string]*typingTimer),
		unsynced: make(map[string]struct{}),
	}
}

func compareEntries(a, b *entry) int {
	if c := cmp.Compare(a.msg.Timestamp, b.msg.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.msg.Id, b.msg.Id)
}

func (t *thread) insert(msg entity.Message, seq uint64) *entry {
	e := &entry{msg: msg, seq: seq}
	i, _ := slices.BinarySearchFunc(t.entries, e, compareEntries)
	t.entries = slices.Insert(t.entries, i, e)
	t.index(e)
	return e
}

func (t *thread) index(e *entry) {
	t.byId[e.msg.Id] = e
	if e.msg.ClientId != "" {
		t.byClient[e.msg.ClientId] = e
	}
}

func (t *thread) remove(e *entry) {
	if t.byId[e.msg.Id] == e {
		delete(t.byId, e.msg.Id)
	}
	if e.msg.ClientId != "" && t.byClient[e.msg.ClientId] == e {
		delete(t.byClient, e.msg.ClientId)
	}
	t.entries = slices.DeleteFunc(t.entries, func(x *entry) bool { return x == e })
}

// patch replaces the message held by e and keeps the indexes and order intact.
func (t *thread) patch(e *entry, msg entity.Message) {
	if t.byId[e.msg.Id] == e {
		delete(t.byId, e.msg.Id)
	}
	e.msg = msg
	t.index(e)
	slices.SortStableFunc(t.entries, compareEntries)
}

func (t *thread) reset(entries []*entry) {
	clear(t.byId)
	clear(t.byClient)
	slices.SortStableFunc(entries, compareEntries)
	t.entries = entries
	for _, e := range entries {
		t.index(e)
	}
}

func (t *thread) messages() []entity.Message {
	out := make([]entity.Message, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.msg.Clone())
	}
	return out
}

// touch moves the last-message summary forward when msg is newer.
func (t *thread) touch(msg entity.Message) {
	last := t.conv.LastMessage
	if last == nil || msg.Timestamp > last.Timestamp ||
		(msg.Timestamp == last.Timestamp && msg.Id >= last.Id) ||
		(msg.ClientId != "" && last.Id == msg.ClientId) {
		t.conv.LastMessage = msg.Summary()
	}
	if msg.Timestamp > t.conv.UpdatedAt {
		t.conv.UpdatedAt = msg.Timestamp
	}
}

func (t *thread) recountUnread(me string) {
	if !t.loaded {
		return
	}
	n := 0
	for _, e := range t.entries {
		if isUnread(e.msg, me) {
			n++
		}
	}
	t.conv.UnreadCount = n
}

// adjustUnread applies a delta while the entries are not authoritative.
func (t *thread) adjustUnread(delta int) {
	if t.loaded {
		return
	}
	t.conv.UnreadCount = max(0, t.conv.UnreadCount+delta)
}

func isUnread(m entity.Message, me string) bool {
	return !m.Deleted && m.SenderId != me && !m.IsReadBy(me)
}
