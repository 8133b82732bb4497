package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/middleware"
	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/internal/service"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

// MessageHandler handles the exchange endpoint.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         logger.OrGlobal(log),
	}
}

// Send handles POST /api/conversations/{id}/messages. With use_stream the
// reply is written as NDJSON chunk lines closed by an end or error line;
// otherwise both stored messages are returned in one JSON object.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userMsg, err := h.messageService.AddUserMessage(ctx, userID, conversationID, req.Content)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to store message", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), userID).
		WithConversation(conversationID).
		With(zap.String("provider", h.messageService.Provider()))

	if req.UseStream {
		h.stream(w, r, log, userID, conversationID)
		return
	}

	aiMsg, err := h.messageService.Reply(ctx, userID, conversationID)
	if err != nil {
		log.Error("failed to generate reply", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &model.SendMessageResponse{
		UserMessage: &userMsg,
		AIMessage:   &aiMsg,
	})
}

func (h *MessageHandler) stream(w http.ResponseWriter, r *http.Request, log *logger.Logger, userID, conversationID string) {
	ctx := r.Context()
	ew := newEventWriter(w)

	aiMsg, err := h.messageService.ReplyStream(ctx, userID, conversationID, func(fragment string, _ int) error {
		return ew.Write(model.ChunkEvent{Content: fragment})
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("client disconnected during reply", zap.Error(ctx.Err()))
			return
		}
		log.Warn("reply failed", zap.Error(err))
		if werr := ew.Write(model.ErrorEvent{Message: err.Error()}); werr != nil {
			log.Debug("failed to write error event", zap.Error(werr))
		}
		return
	}

	if err := ew.Write(model.EndEvent{AIMessage: &aiMsg}); err != nil {
		log.Debug("failed to write end event", zap.Error(err))
	}
}
