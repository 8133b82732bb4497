package model

import (
	"errors"
	"time"
	"unicode/utf8"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxContentLength bounds a single user message (~100KB).
const MaxContentLength = 100000

var (
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrContentTooLong  = errors.New("content exceeds maximum length")
	ErrContentEncoding = errors.New("content must be valid UTF-8")
)

// Message is one entry of a transcript.
type Message struct {
	ID             MessageID `json:"id"`
	ConversationID string    `json:"conversation_id"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	CreatedAt time.Time `json:"created_at"`

	// Streaming is true only while an assistant reply is still being assembled.
	Streaming bool `json:"streaming,omitempty"`
}

// MessageRecord is a message as the server reports it.
type MessageRecord struct {
	ID             ServerID  `json:"id"`
	ConversationID ServerID  `json:"conversation_id,omitempty"`
	Role           Role      `json:"role,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      Timestamp `json:"created_at"`
}

// ToMessage converts a server record into a finalized transcript message.
func (r MessageRecord) ToMessage(conversationID string) Message {
	return Message{
		ID:             PersistedID(r.ID.String()),
		ConversationID: conversationID,
		Role:           r.Role,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt.Time,
	}
}

// SendMessageRequest is the body of an exchange request.
type SendMessageRequest struct {
	Content   string `json:"content"`
	UseStream bool   `json:"use_stream"`
}

// SendMessageResponse is the body of a non-streamed exchange.
type SendMessageResponse struct {
	UserMessage *MessageRecord `json:"user_message,omitempty"`
	AIMessage   *MessageRecord `json:"ai_message,omitempty"`
}

// ValidateContent checks user supplied message text.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return ErrContentEncoding
	}
	return nil
}
