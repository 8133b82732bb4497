// Package service provides the development server's conversation logic.
package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
	"github.com/capitalize-ai/conversational-client/pkg/metrics"
)

// DefaultTitle is given to conversations created without a title. It is
// replaced by a title derived from the first user message.
const DefaultTitle = "New conversation"

const titleLength = 50

// ErrNotFound is returned for conversations that do not exist or belong to
// another user.
var ErrNotFound = errors.New("conversation not found")

// Journal records server activity. A nil Journal disables journaling.
type Journal interface {
	Publish(ctx context.Context, e model.JournalEntry) (uint64, error)
}

type conversation struct {
	model.Conversation
	userID string
}

// ConversationService keeps conversations and their messages in memory.
type ConversationService struct {
	journal Journal
	logger  *logger.Logger

	mu            sync.RWMutex
	nextConvID    int64
	nextMessageID int64
	conversations map[string]*conversation
}

// NewConversationService creates a new conversation service.
func NewConversationService(journal Journal, log *logger.Logger) *ConversationService {
	return &ConversationService{
		journal:       journal,
		logger:        logger.OrGlobal(log).Named("conversations"),
		conversations: make(map[string]*conversation),
	}
}

// Create creates a new conversation.
func (s *ConversationService) Create(ctx context.Context, userID, title string) *model.Conversation {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()

	s.mu.Lock()
	s.nextConvID++
	conv := &conversation{
		Conversation: model.Conversation{
			ID:        model.ServerID(strconv.FormatInt(s.nextConvID, 10)),
			UserID:    model.ServerID(userID),
			Title:     title,
			CreatedAt: model.NewTimestamp(now),
			UpdatedAt: model.NewTimestamp(now),
		},
		userID: userID,
	}
	s.conversations[conv.ID.String()] = conv
	out := conv.Conversation
	s.mu.Unlock()

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", out.ID.String()),
		zap.String("user_id", userID),
	)
	return &out
}

// Get returns a conversation with its messages.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, err := s.lookup(userID, conversationID)
	if err != nil {
		return nil, err
	}
	out := conv.Conversation
	out.Messages = append([]model.MessageRecord(nil), conv.Messages...)
	return &out, nil
}

// List returns the user's conversations without messages, most recently
// updated first.
func (s *ConversationService) List(ctx context.Context, userID string) []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]model.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.userID != userID {
			continue
		}
		c := conv.Conversation
		c.Messages = nil
		convs = append(convs, c)
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt.Time) {
			return convs[i].CreatedAt.After(convs[j].CreatedAt.Time)
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt.Time)
	})
	return convs
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(userID, conversationID); err != nil {
		return err
	}
	delete(s.conversations, conversationID)
	return nil
}

// DeleteMany removes every listed conversation owned by userID and returns
// how many were removed. Unknown ids are skipped.
func (s *ConversationService) DeleteMany(ctx context.Context, userID string, ids []model.ServerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, err := s.lookup(userID, id.String()); err != nil {
			continue
		}
		delete(s.conversations, id.String())
		deleted++
	}
	return deleted
}

// DeleteAll removes every conversation owned by userID.
func (s *ConversationService) DeleteAll(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, conv := range s.conversations {
		if conv.userID == userID {
			delete(s.conversations, id)
			deleted++
		}
	}
	return deleted
}

// AddMessage appends a message to a conversation. The first user message of
// an untitled conversation also names it.
func (s *ConversationService) AddMessage(ctx context.Context, userID, conversationID string, role model.Role, content string) (model.MessageRecord, error) {
	s.mu.Lock()
	conv, err := s.lookup(userID, conversationID)
	if err != nil {
		s.mu.Unlock()
		return model.MessageRecord{}, err
	}

	s.nextMessageID++
	now := time.Now().UTC()
	rec := model.MessageRecord{
		ID:             model.ServerID(strconv.FormatInt(s.nextMessageID, 10)),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		CreatedAt:      model.NewTimestamp(now),
	}
	conv.Messages = append(conv.Messages, rec)
	conv.UpdatedAt = model.NewTimestamp(now)
	if role == model.RoleUser && conv.Title == DefaultTitle {
		conv.Title = ExtractTitle(content)
	}
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()
	s.record(ctx, model.JournalEntry{
		Kind:           model.JournalMessage,
		UserID:         userID,
		ConversationID: conversationID,
		Message:        &rec,
		At:             now,
	})
	return rec, nil
}

// History returns the last limit messages of a conversation in order.
func (s *ConversationService) History(ctx context.Context, userID, conversationID string, limit int) ([]model.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, err := s.lookup(userID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]model.MessageRecord(nil), msgs...), nil
}

// RecordStream journals the outcome of a streamed reply.
func (s *ConversationService) RecordStream(ctx context.Context, userID, conversationID, outcome string, fragments int, cause error) {
	e := model.JournalEntry{
		Kind:           model.JournalStream,
		UserID:         userID,
		ConversationID: conversationID,
		Outcome:        outcome,
		Fragments:      fragments,
		At:             time.Now().UTC(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	s.record(ctx, e)
}

func (s *ConversationService) record(ctx context.Context, e model.JournalEntry) {
	if s.journal == nil {
		return
	}
	// The request may already be gone; the journal entry should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.journal.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to journal entry",
			zap.String("kind", string(e.Kind)),
			zap.String("conversation_id", e.ConversationID),
			zap.Error(err),
		)
	}
}

// lookup must be called with s.mu held.
func (s *ConversationService) lookup(userID, conversationID string) (*conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok || conv.userID != userID {
		return nil, ErrNotFound
	}
	return conv, nil
}

// ExtractTitle derives a conversation title from the first user message: its
// first 50 characters, with an ellipsis when it was longer.
func ExtractTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= titleLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleLength]) + "..."
}
