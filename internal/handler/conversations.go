// Package handler provides HTTP handlers for the development server.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/middleware"
	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/internal/service"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// BatchDeleteRequest is the body of POST /api/conversations/batch-delete.
type BatchDeleteRequest struct {
	ConversationIDs []model.ServerID `json:"conversation_ids"`
}

// BatchDeleteResponse reports how many conversations were removed.
type BatchDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  logger.OrGlobal(log),
	}
}

// Create handles POST /api/conversations. The title may come from the JSON
// body or from the title query parameter.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = r.URL.Query().Get("title")
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, h.service.Create(ctx, userID, req.Title))
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, h.service.List(ctx, middleware.GetUserID(ctx)))
}

// Get handles GET /api/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(ctx, middleware.GetUserID(ctx), conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Delete(ctx, middleware.GetUserID(ctx), conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BatchDelete handles POST /api/conversations/batch-delete
func (h *ConversationHandler) BatchDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req BatchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ConversationIDs) == 0 {
		writeError(w, http.StatusBadRequest, "conversation_ids is required")
		return
	}

	deleted := h.service.DeleteMany(ctx, userID, req.ConversationIDs)
	if deleted == 0 {
		writeError(w, http.StatusNotFound, "no matching conversations")
		return
	}

	h.logger.Info("conversations deleted",
		zap.String("user_id", userID),
		zap.Int("requested", len(req.ConversationIDs)),
		zap.Int("deleted", deleted),
	)
	writeJSON(w, http.StatusOK, BatchDeleteResponse{Deleted: deleted})
}

// DeleteAll handles DELETE /api/conversations/all
func (h *ConversationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	deleted := h.service.DeleteAll(ctx, userID)
	if deleted == 0 {
		writeError(w, http.StatusNotFound, "no conversations")
		return
	}

	h.logger.Info("all conversations deleted", zap.String("user_id", userID), zap.Int("deleted", deleted))
	writeJSON(w, http.StatusOK, BatchDeleteResponse{Deleted: deleted})
}
