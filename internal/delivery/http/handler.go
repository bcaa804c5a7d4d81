package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wesync/internal/entity"
	"wesync/internal/usecase"
)

type HttpHandler struct {
	chatUc    usecase.ChatUsecase
	messageUc usecase.MessageUsecase
	logger    *zap.Logger
}

func NewHttpHandler(chatUc usecase.ChatUsecase, messageUc usecase.MessageUsecase, log *zap.Logger) *HttpHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HttpHandler{
		chatUc:    chatUc,
		messageUc: messageUc,
		logger:    log,
	}
}

func (h *HttpHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	fail(w, status, message)
}

func userId(r *http.Request) string {
	claims, _ := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.UserId
}

// Method Get /conversations
func (h *HttpHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chatUc.Index(r.Context(), userId(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusOK, conversations)
}

// Method Post /conversations
func (h *HttpHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req entity.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversation, err := h.chatUc.Create(r.Context(), userId(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusOK, conversation)
}

// Method Get /conversations/{id}/messages?page=&limit=
func (h *HttpHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		fail(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := queryInt(r, "limit", usecase.DefaultPageLimit)
	if err != nil || limit < 1 {
		fail(w, http.StatusBadRequest, "invalid limit")
		return
	}

	messages, err := h.messageUc.List(r.Context(), userId(r), chi.URLParam(r, "id"), page, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusOK, messages)
}

// Method Post /conversations/{id}/messages
func (h *HttpHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req entity.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := h.messageUc.Send(r.Context(), userId(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusCreated, message)
}

// Method Post /conversations/{id}/read
func (h *HttpHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req entity.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.messageUc.MarkRead(r.Context(), userId(r), chi.URLParam(r, "id"), req.MessageIds); err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusOK, nil)
}

// Method Patch /conversations/{id}/messages/{messageId}
func (h *HttpHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req entity.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := h.messageUc.Edit(r.Context(), userId(r), chi.URLParam(r, "id"), chi.URLParam(r, "messageId"), req.Content)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusOK, message)
}

// Method Delete /conversations/{id}/messages/{messageId}
func (h *HttpHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.messageUc.Delete(r.Context(), userId(r), chi.URLParam(r, "id"), chi.URLParam(r, "messageId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	success(w, http.StatusOK, nil)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
