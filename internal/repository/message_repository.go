package repository

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wesync/internal/entity"
)

type MessageRepository interface {
	// Index returns messages newest first.
	Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error)
	Get(ctx context.Context, messageId string) (entity.Message, error)
	Create(ctx context.Context, message entity.Message) (string, error)
	UpdateContent(ctx context.Context, messageId, content string) error
	SoftDelete(ctx context.Context, messageId string) error
	// MarkRead adds userId to the readers of messageIds in the conversation and
	// returns the ids that were not read by userId before.
	MarkRead(ctx context.Context, conversationId string, messageIds []string, userId string) ([]string, error)
	CountUnread(ctx context.Context, conversationId, userId string) (int, error)
}

type messageRepository struct {
	db *mongo.Database
}

func NewMessageRepository(db *mongo.Database) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

func (r *messageRepository) Index(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	collection := r.db.Collection("messages")

	bsonFilter := bson.M{}
	if filter.ConversationId != "" {
		bsonFilter["conversationId"] = filter.ConversationId
	}

	opts := options.Find()
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	opts.SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := collection.Find(ctx, bsonFilter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []entity.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) Get(ctx context.Context, messageId string) (entity.Message, error) {
	collection := r.db.Collection("messages")
	filter := bson.M{"_id": messageId}

	var message entity.Message
	err := collection.FindOne(ctx, filter).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Message{}, ErrMessageNotFound
		}
		return entity.Message{}, err
	}

	return message, nil
}

func (r *messageRepository) Create(ctx context.Context, message entity.Message) (string, error) {
	collection := r.db.Collection("messages")
	message.Id = uuid.New().String()

	_, err := collection.InsertOne(ctx, message)
	if err != nil {
		return "", err
	}

	return message.Id, nil
}

func (r *messageRepository) UpdateContent(ctx context.Context, messageId, content string) error {
	collection := r.db.Collection("messages")
	filter := bson.M{"_id": messageId}
	update := bson.M{
		"$set": bson.M{
			"content": content,
			"edited":  true,
		},
	}

	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, messageId string) error {
	collection := r.db.Collection("messages")
	filter := bson.M{"_id": messageId}
	update := bson.M{
		"$set": bson.M{
			"content": "",
			"deleted": true,
		},
		"$unset": bson.M{
			"attachments": "",
		},
	}

	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *messageRepository) MarkRead(ctx context.Context, conversationId string, messageIds []string, userId string) ([]string, error) {
	if len(messageIds) == 0 {
		return nil, nil
	}
	collection := r.db.Collection("messages")
	filter := bson.M{
		"_id":            bson.M{"$in": messageIds},
		"conversationId": conversationId,
		"readBy":         bson.M{"$ne": userId},
	}

	cursor, err := collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		Id string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	changed := make([]string, 0, len(docs))
	for _, d := range docs {
		changed = append(changed, d.Id)
	}

	update := bson.M{"$addToSet": bson.M{"readBy": userId}}
	if _, err := collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": changed}}, update); err != nil {
		return nil, err
	}
	return changed, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, conversationId, userId string) (int, error) {
	collection := r.db.Collection("messages")
	filter := bson.M{
		"conversationId": conversationId,
		"senderId":       bson.M{"$ne": userId},
		"readBy":         bson.M{"$ne": userId},
		"deleted":        bson.M{"$ne": true},
	}

	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

type memoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]entity.Message
}

func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{
		messages: make(map[string]entity.Message),
	}
}

func (r *memoryMessageRepository) Index(_ context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	r.mu.RLock()
	var all []entity.Message
	for _, m := range r.messages {
		if filter.ConversationId == "" || m.ConversationId == filter.ConversationId {
			all = append(all, m.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b entity.Message) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.Id, a.Id)
	})

	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[max(filter.Offset, 0):]
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (r *memoryMessageRepository) Get(_ context.Context, messageId string) (entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[messageId]
	if !ok {
		return entity.Message{}, ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (r *memoryMessageRepository) Create(_ context.Context, message entity.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message.Id = uuid.New().String()
	r.messages[message.Id] = message.Clone()
	return message.Id, nil
}

func (r *memoryMessageRepository) UpdateContent(_ context.Context, messageId, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return ErrMessageNotFound
	}
	m.Content = content
	m.Edited = true
	r.messages[messageId] = m
	return nil
}

func (r *memoryMessageRepository) SoftDelete(_ context.Context, messageId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageId]
	if !ok {
		return ErrMessageNotFound
	}
	m.Content = ""
	m.Attachments = nil
	m.Deleted = true
	r.messages[messageId] = m
	return nil
}

func (r *memoryMessageRepository) MarkRead(_ context.Context, conversationId string, messageIds []string, userId string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changed []string
	for _, id := range messageIds {
		m, ok := r.messages[id]
		if !ok || m.ConversationId != conversationId {
			continue
		}
		if m.MarkReadBy(userId) {
			r.messages[id] = m
			changed = append(changed, id)
		}
	}
	return changed, nil
}

func (r *memoryMessageRepository) CountUnread(_ context.Context, conversationId, userId string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.messages {
		if m.ConversationId == conversationId && !m.Deleted && m.SenderId != userId && !m.IsReadBy(userId) {
			n++
		}
	}
	return n, nil
}
