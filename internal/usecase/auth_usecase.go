package usecase

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"wesync/internal/entity"
	"wesync/internal/repository"
	"wesync/pkg/jwt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrUsernameAlreadyTaken = errors.New("username already taken")
	ErrMissingFields        = errors.New("username, password and name are required")
)

type AuthUsecase interface {
	Register(ctx context.Context, req entity.RegisterRequest) (entity.AuthResponse, error)
	Login(ctx context.Context, req entity.LoginRequest) (entity.AuthResponse, error)
	ValidateAccessToken(token string) (*entity.TokenClaims, error)
}

type authUsecase struct {
	userRepo   repository.UserRepository
	jwtManager *jwt.JWTManager
	cost       int
}

func NewAuthUsecase(userRepo repository.UserRepository, jwtManager *jwt.JWTManager) AuthUsecase {
	return &authUsecase{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		cost:       bcrypt.DefaultCost,
	}
}

func (u *authUsecase) Register(ctx context.Context, req entity.RegisterRequest) (entity.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return entity.AuthResponse{}, ErrMissingFields
	}
	if req.Name == "" {
		req.Name = req.Username
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), u.cost)
	if err != nil {
		return entity.AuthResponse{}, err
	}

	user := entity.User{
		Username: req.Username,
		Password: string(hashedPassword),
		Name:     req.Name,
	}

	// The repository enforces username uniqueness
	userId, err := u.userRepo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrUsernameAlreadyTaken) {
			return entity.AuthResponse{}, ErrUsernameAlreadyTaken
		}
		return entity.AuthResponse{}, err
	}
	user.Id = userId

	return u.issue(user)
}

func (u *authUsecase) Login(ctx context.Context, req entity.LoginRequest) (entity.AuthResponse, error) {
	user, err := u.userRepo.GetByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return entity.AuthResponse{}, ErrInvalidCredentials
		}
		return entity.AuthResponse{}, err
	}

	// Compare password
	err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password))
	if err != nil {
		return entity.AuthResponse{}, ErrInvalidCredentials
	}

	return u.issue(user)
}

func (u *authUsecase) issue(user entity.User) (entity.AuthResponse, error) {
	accessToken, err := u.jwtManager.GenerateAccessToken(user)
	if err != nil {
		return entity.AuthResponse{}, err
	}

	// Remove password from response
	user.Password = ""

	return entity.AuthResponse{
		AccessToken: accessToken,
		User:        user,
	}, nil
}

func (u *authUsecase) ValidateAccessToken(token string) (*entity.TokenClaims, error) {
	return u.jwtManager.ValidateAccessToken(token)
}
