package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"wesync/internal/entity"
	"wesync/internal/usecase"
)

type AuthHandler struct {
	authUc usecase.AuthUsecase
	logger *zap.Logger
}

func NewAuthHandler(authUc usecase.AuthUsecase, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authUc: authUc,
		logger: log,
	}
}

// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req entity.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Validate username length
	if len(req.Username) < 3 {
		fail(w, http.StatusBadRequest, "username must be at least 3 characters")
		return
	}

	// Validate password length
	if len(req.Password) < 6 {
		fail(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	authResponse, err := h.authUc.Register(r.Context(), req)
	if err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("register", zap.Error(err))
		}
		fail(w, status, message)
		return
	}

	success(w, http.StatusCreated, authResponse)
}

// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req entity.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		fail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	authResponse, err := h.authUc.Login(r.Context(), req)
	if err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("login", zap.Error(err))
		}
		fail(w, status, message)
		return
	}

	success(w, http.StatusOK, authResponse)
}
