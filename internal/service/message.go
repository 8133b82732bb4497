package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/llm"
	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
	"github.com/capitalize-ai/conversational-client/pkg/metrics"
)

// DefaultHistoryLimit is the number of stored messages sent as context.
const DefaultHistoryLimit = 20

// ErrEmptyReply is returned when the provider produced no text.
var ErrEmptyReply = errors.New("provider returned an empty reply")

// MessageService stores user messages and generates assistant replies.
type MessageService struct {
	conversations *ConversationService
	llmClient     llm.Client
	historyLimit  int
	systemPrompt  string
	logger        *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(
	conversations *ConversationService,
	llmClient llm.Client,
	historyLimit int,
	log *logger.Logger,
) *MessageService {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MessageService{
		conversations: conversations,
		llmClient:     llmClient,
		historyLimit:  historyLimit,
		systemPrompt:  llm.DefaultSystemPrompt,
		logger:        logger.OrGlobal(log).Named("messages"),
	}
}

// Provider returns the name of the reply provider.
func (s *MessageService) Provider() string {
	return s.llmClient.Name()
}

// AddUserMessage stores the user's turn. It runs before any reply is
// generated so a failed reply still leaves the turn recorded.
func (s *MessageService) AddUserMessage(ctx context.Context, userID, conversationID, content string) (model.MessageRecord, error) {
	return s.conversations.AddMessage(ctx, userID, conversationID, model.RoleUser, content)
}

// Reply generates the whole assistant reply and stores it.
func (s *MessageService) Reply(ctx context.Context, userID, conversationID string) (model.MessageRecord, error) {
	req, err := s.request(ctx, userID, conversationID)
	if err != nil {
		return model.MessageRecord{}, err
	}

	start := time.Now()
	resp, err := s.llmClient.Complete(ctx, req)
	if err != nil {
		metrics.RecordLLMStream(s.llmClient.Name(), "error", time.Since(start).Seconds())
		return model.MessageRecord{}, fmt.Errorf("generate reply: %w", err)
	}
	metrics.RecordLLMStream(s.llmClient.Name(), "success", time.Since(start).Seconds())

	if resp.Content == "" {
		return model.MessageRecord{}, ErrEmptyReply
	}
	return s.conversations.AddMessage(ctx, userID, conversationID, model.RoleAssistant, resp.Content)
}

// ReplyStream generates the assistant reply fragment by fragment, calling
// onFragment for each, and stores the assembled reply once complete.
func (s *MessageService) ReplyStream(ctx context.Context, userID, conversationID string, onFragment llm.StreamCallback) (model.MessageRecord, error) {
	req, err := s.request(ctx, userID, conversationID)
	if err != nil {
		return model.MessageRecord{}, err
	}

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	start := time.Now()
	fragments := 0
	resp, err := s.llmClient.CompleteStream(ctx, req, func(fragment string, index int) error {
		fragments++
		return onFragment(fragment, index)
	})
	if err != nil {
		metrics.RecordLLMStream(s.llmClient.Name(), "error", time.Since(start).Seconds())
		s.conversations.RecordStream(ctx, userID, conversationID, "error", fragments, err)
		s.logger.Warn("reply stream failed",
			zap.String("conversation_id", conversationID),
			zap.Int("fragments", fragments),
			zap.Error(err),
		)
		return model.MessageRecord{}, fmt.Errorf("stream reply: %w", err)
	}
	metrics.RecordLLMStream(s.llmClient.Name(), "success", time.Since(start).Seconds())
	s.conversations.RecordStream(ctx, userID, conversationID, "end", fragments, nil)

	return s.conversations.AddMessage(ctx, userID, conversationID, model.RoleAssistant, resp.Content)
}

func (s *MessageService) request(ctx context.Context, userID, conversationID string) (*llm.CompletionRequest, error) {
	history, err := s.conversations.History(ctx, userID, conversationID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.ChatMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return &llm.CompletionRequest{
		System:   s.systemPrompt,
		Messages: messages,
	}, nil
}
