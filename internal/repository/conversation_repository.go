package repository

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wesync/internal/entity"
)

type ConversationRepository interface {
	// Index returns the conversations userId takes part in, most recently
	// updated first.
	Index(ctx context.Context, userId string) ([]entity.Conversation, error)
	Get(ctx context.Context, conversationId string) (entity.Conversation, error)
	Create(ctx context.Context, conversation entity.Conversation) (entity.Conversation, error)
	// GetDirectBetweenUsers finds the direct conversation of two users.
	GetDirectBetweenUsers(ctx context.Context, userId1, userId2 string) (entity.Conversation, error)
	// Touch records last as the latest message and bumps updatedAt.
	Touch(ctx context.Context, conversationId string, last entity.MessageSummary) error
}

type conversationRepository struct {
	db *mongo.Database
}

func NewConversationRepository(db *mongo.Database) ConversationRepository {
	return &conversationRepository{
		db: db,
	}
}

func (r *conversationRepository) Index(ctx context.Context, userId string) ([]entity.Conversation, error) {
	collection := r.db.Collection("conversations")
	filter := bson.M{"participants": userId}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conversations []entity.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, err
	}

	return conversations, nil
}

func (r *conversationRepository) Get(ctx context.Context, conversationId string) (entity.Conversation, error) {
	collection := r.db.Collection("conversations")
	filter := bson.M{"_id": conversationId}

	var conversation entity.Conversation
	err := collection.FindOne(ctx, filter).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Conversation{}, ErrConversationNotFound
		}
		return entity.Conversation{}, err
	}

	return conversation, nil
}

func (r *conversationRepository) Create(ctx context.Context, conversation entity.Conversation) (entity.Conversation, error) {
	collection := r.db.Collection("conversations")
	conversation.Id = uuid.New().String()
	conversation.UpdatedAt = time.Now().UnixMilli()

	_, err := collection.InsertOne(ctx, conversation)
	if err != nil {
		return entity.Conversation{}, err
	}

	return conversation, nil
}

func (r *conversationRepository) GetDirectBetweenUsers(ctx context.Context, userId1, userId2 string) (entity.Conversation, error) {
	collection := r.db.Collection("conversations")
	filter := bson.M{
		"kind": entity.ConversationKindDirect,
		"participants": bson.M{
			"$all":  bson.A{userId1, userId2},
			"$size": 2,
		},
	}

	var conversation entity.Conversation
	err := collection.FindOne(ctx, filter).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Conversation{}, ErrConversationNotFound
		}
		return entity.Conversation{}, err
	}

	return conversation, nil
}

func (r *conversationRepository) Touch(ctx context.Context, conversationId string, last entity.MessageSummary) error {
	collection := r.db.Collection("conversations")
	filter := bson.M{"_id": conversationId}
	update := bson.M{
		"$set": bson.M{
			"lastMessage": last,
		},
		"$max": bson.M{
			"updatedAt": last.Timestamp,
		},
	}

	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConversationNotFound
	}
	return nil
}

type memoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]entity.Conversation
}

func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		conversations: make(map[string]entity.Conversation),
	}
}

func (r *memoryConversationRepository) Index(_ context.Context, userId string) ([]entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []entity.Conversation
	for _, c := range r.conversations {
		if c.HasParticipant(userId) {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b entity.Conversation) int {
		if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})
	return out, nil
}

func (r *memoryConversationRepository) Get(_ context.Context, conversationId string) (entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[conversationId]
	if !ok {
		return entity.Conversation{}, ErrConversationNotFound
	}
	return c.Clone(), nil
}

func (r *memoryConversationRepository) Create(_ context.Context, conversation entity.Conversation) (entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation.Id = uuid.New().String()
	conversation.UpdatedAt = time.Now().UnixMilli()
	r.conversations[conversation.Id] = conversation.Clone()
	return conversation, nil
}

func (r *memoryConversationRepository) GetDirectBetweenUsers(_ context.Context, userId1, userId2 string) (entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conversations {
		if c.Kind != entity.ConversationKindDirect || len(c.Participants) != 2 {
			continue
		}
		if c.HasParticipant(userId1) && c.HasParticipant(userId2) {
			return c.Clone(), nil
		}
	}
	return entity.Conversation{}, ErrConversationNotFound
}

func (r *memoryConversationRepository) Touch(_ context.Context, conversationId string, last entity.MessageSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[conversationId]
	if !ok {
		return ErrConversationNotFound
	}
	c.LastMessage = &last
	c.UpdatedAt = max(c.UpdatedAt, last.Timestamp)
	r.conversations[conversationId] = c
	return nil
}
