package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesync/internal/entity"
)

func TestMemoryUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	aliceId, err := repo.Create(ctx, entity.User{Username: "alice", Name: "Alice"})
	require.NoError(t, err)
	bobId, err := repo.Create(ctx, entity.User{Username: "bob", Name: "Bob"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, entity.User{Username: "alice"})
	assert.ErrorIs(t, err, ErrUsernameAlreadyTaken)

	alice, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, aliceId, alice.Id)

	_, err = repo.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, repo.SetOnline(ctx, aliceId, true))
	require.NoError(t, repo.SetOnline(ctx, bobId, true))
	assert.ErrorIs(t, repo.SetOnline(ctx, "nobody", true), ErrUserNotFound)

	online, err := repo.GetOnlineUser(ctx, []string{bobId})
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, bobId, online[0].Id)

	require.NoError(t, repo.SetOnline(ctx, bobId, false))
	online, err = repo.GetOnlineUser(ctx, nil)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, aliceId, online[0].Id)
}

func TestMemoryConversationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()

	direct, err := repo.Create(ctx, entity.Conversation{
		Kind:         entity.ConversationKindDirect,
		Participants: []string{"a", "b"},
	})
	require.NoError(t, err)
	group, err := repo.Create(ctx, entity.Conversation{
		Kind:         entity.ConversationKindGroup,
		Name:         "team",
		Participants: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	found, err := repo.GetDirectBetweenUsers(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, direct.Id, found.Id)

	_, err = repo.GetDirectBetweenUsers(ctx, "a", "c")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	require.NoError(t, repo.Touch(ctx, direct.Id, entity.MessageSummary{Id: "m1", Timestamp: group.UpdatedAt + 1000}))
	assert.ErrorIs(t, repo.Touch(ctx, "missing", entity.MessageSummary{}), ErrConversationNotFound)

	list, err := repo.Index(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, direct.Id, list[0].Id)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "m1", list[0].LastMessage.Id)

	list, err = repo.Index(ctx, "c")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, group.Id, list[0].Id)
}

func TestMemoryMessageRepository_IndexPages(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	for i := 1; i <= 5; i++ {
		_, err := repo.Create(ctx, entity.Message{
			ConversationId: "c1",
			SenderId:       "a",
			Content:        fmt.Sprintf("m%d", i),
			Timestamp:      int64(i),
		})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, entity.Message{ConversationId: "c2", Content: "other", Timestamp: 10})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter entity.MessageIndexFilter
		want   []string
	}{
		{"first page", entity.MessageIndexFilter{ConversationId: "c1", Limit: 2}, []string{"m5", "m4"}},
		{"second page", entity.MessageIndexFilter{ConversationId: "c1", Limit: 2, Offset: 2}, []string{"m3", "m2"}},
		{"last partial page", entity.MessageIndexFilter{ConversationId: "c1", Limit: 2, Offset: 4}, []string{"m1"}},
		{"past the end", entity.MessageIndexFilter{ConversationId: "c1", Limit: 2, Offset: 6}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Index(ctx, tt.filter)
			require.NoError(t, err)
			var contents []string
			for _, m := range got {
				contents = append(contents, m.Content)
			}
			assert.Equal(t, tt.want, contents)
		})
	}
}

func TestMemoryMessageRepository_ReadEditDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()

	id1, err := repo.Create(ctx, entity.Message{ConversationId: "c1", SenderId: "a", Content: "hi", ReadBy: []string{"a"}, Timestamp: 1})
	require.NoError(t, err)
	id2, err := repo.Create(ctx, entity.Message{ConversationId: "c1", SenderId: "a", Content: "there", ReadBy: []string{"a"}, Timestamp: 2})
	require.NoError(t, err)

	n, err := repo.CountUnread(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = repo.CountUnread(ctx, "c1", "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	changed, err := repo.MarkRead(ctx, "c1", []string{id1, "unknown"}, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{id1}, changed)

	changed, err = repo.MarkRead(ctx, "c1", []string{id1}, "b")
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = repo.MarkRead(ctx, "other", []string{id2}, "b")
	require.NoError(t, err)
	assert.Empty(t, changed)

	n, err = repo.CountUnread(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.UpdateContent(ctx, id2, "there!"))
	m, err := repo.Get(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, "there!", m.Content)
	assert.True(t, m.Edited)

	require.NoError(t, repo.SoftDelete(ctx, id2))
	m, err = repo.Get(ctx, id2)
	require.NoError(t, err)
	assert.True(t, m.Deleted)
	assert.Empty(t, m.Content)

	n, err = repo.CountUnread(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, repo.UpdateContent(ctx, "missing", "x"), ErrMessageNotFound)
	assert.ErrorIs(t, repo.SoftDelete(ctx, "missing"), ErrMessageNotFound)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
