package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"wesync/internal/entity"
)

type UserRepository interface {
	Get(ctx context.Context, userId string) (entity.User, error)
	GetByUsername(ctx context.Context, username string) (entity.User, error)
	Create(ctx context.Context, user entity.User) (string, error)
	SetOnline(ctx context.Context, userId string, online bool) error
	// GetOnlineUser returns the online users among userIds, or every online
	// user when userIds is empty.
	GetOnlineUser(ctx context.Context, userIds []string) ([]entity.User, error)
}

type userRepository struct {
	db *mongo.Database
}

func NewUserRepository(db *mongo.Database) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Get(ctx context.Context, userId string) (entity.User, error) {
	collection := r.db.Collection("users")
	filter := bson.M{"_id": userId}

	var user entity.User
	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.User{}, ErrUserNotFound
		}
		return entity.User{}, err
	}

	return user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (entity.User, error) {
	collection := r.db.Collection("users")
	filter := bson.M{"username": username}

	var user entity.User
	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.User{}, ErrUserNotFound
		}
		return entity.User{}, err
	}

	return user, nil
}

func (r *userRepository) Create(ctx context.Context, user entity.User) (string, error) {
	collection := r.db.Collection("users")
	user.Id = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	_, err := collection.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrUsernameAlreadyTaken
		}
		return "", err
	}

	return user.Id, nil
}

func (r *userRepository) SetOnline(ctx context.Context, userId string, online bool) error {
	collection := r.db.Collection("users")
	filter := bson.M{"_id": userId}
	update := bson.M{
		"$set": bson.M{
			"isOnline":  online,
			"updatedAt": time.Now(),
		},
	}

	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) GetOnlineUser(ctx context.Context, userIds []string) ([]entity.User, error) {
	collection := r.db.Collection("users")
	filter := bson.M{"isOnline": true}
	if len(userIds) > 0 {
		filter["_id"] = bson.M{"$in": userIds}
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []entity.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// memoryUserRepository keeps users in process memory. The mock server uses it
// when no MongoDB is configured.
type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]entity.User
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		users: make(map[string]entity.User),
	}
}

func (r *memoryUserRepository) Get(_ context.Context, userId string) (entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userId]
	if !ok {
		return entity.User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryUserRepository) GetByUsername(_ context.Context, username string) (entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return entity.User{}, ErrUserNotFound
}

func (r *memoryUserRepository) Create(_ context.Context, user entity.User) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == user.Username {
			return "", ErrUsernameAlreadyTaken
		}
	}

	user.Id = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.Id] = user
	return user.Id, nil
}

func (r *memoryUserRepository) SetOnline(_ context.Context, userId string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userId]
	if !ok {
		return ErrUserNotFound
	}
	user.IsOnline = online
	user.UpdatedAt = time.Now()
	r.users[userId] = user
	return nil
}

func (r *memoryUserRepository) GetOnlineUser(_ context.Context, userIds []string) ([]entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []entity.User
	for _, user := range r.users {
		if !user.IsOnline {
			continue
		}
		if len(userIds) > 0 && !slices.Contains(userIds, user.Id) {
			continue
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b entity.User) int {
		return strings.Compare(a.Id, b.Id)
	})
	return users, nil
}
