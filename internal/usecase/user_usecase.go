package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"wesync/infrastructure/metrics"
	"wesync/internal/entity"
	"wesync/internal/event"
	"wesync/internal/repository"
)

var ErrUserNotFound = errors.New("user not found")

type UserUsecase interface {
	Get(ctx context.Context, userId string) (entity.User, error)
	GetOnlineUser(ctx context.Context, userIds []string) ([]entity.User, error)
	// HandleRegisterClient marks the user online and announces it.
	HandleRegisterClient(ctx context.Context, userId string) error
	// HandleUnregisterClient marks the user offline and announces it.
	HandleUnregisterClient(ctx context.Context, userId string) error
}

type userUsecase struct {
	userRepo repository.UserRepository
	notify   notifier
}

func NewUserUseCase(userRepo repository.UserRepository, pub Publisher, m *metrics.Server, log *zap.Logger) UserUsecase {
	return &userUsecase{
		userRepo: userRepo,
		notify:   newNotifier(pub, m, log),
	}
}

func (u *userUsecase) Get(ctx context.Context, userId string) (entity.User, error) {
	user, err := u.userRepo.Get(ctx, userId)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return entity.User{}, ErrUserNotFound
		}
		return entity.User{}, err
	}

	user.Password = ""
	return user, nil
}

func (u *userUsecase) GetOnlineUser(ctx context.Context, userIds []string) ([]entity.User, error) {
	return u.userRepo.GetOnlineUser(ctx, userIds)
}

func (u *userUsecase) HandleRegisterClient(ctx context.Context, userId string) error {
	return u.setOnline(ctx, userId, true)
}

func (u *userUsecase) HandleUnregisterClient(ctx context.Context, userId string) error {
	return u.setOnline(ctx, userId, false)
}

func (u *userUsecase) setOnline(ctx context.Context, userId string, online bool) error {
	if err := u.userRepo.SetOnline(ctx, userId, online); err != nil {
		return err
	}

	u.notify.broadcast(event.PresenceChanged{UserId: userId, Online: online})
	return nil
}
