package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"wesync/internal/usecase"
)

type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Message: "success", Data: data})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Message: message})
}

// statusFor maps usecase errors to a status code and a client-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, usecase.ErrUsernameAlreadyTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, usecase.ErrConversationNotFound),
		errors.Is(err, usecase.ErrMessageNotFound),
		errors.Is(err, usecase.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, usecase.ErrNotParticipant),
		errors.Is(err, usecase.ErrNotSender):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, usecase.ErrMissingFields),
		errors.Is(err, usecase.ErrInvalidConversation),
		errors.Is(err, usecase.ErrUnknownParticipant),
		errors.Is(err, usecase.ErrEmptyMessage),
		errors.Is(err, usecase.ErrInvalidKind):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}
