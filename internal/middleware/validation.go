package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/capitalize-ai/conversational-client/internal/model"
)

// MaxTitleLength bounds a conversation title in bytes.
const MaxTitleLength = 256

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	return model.ValidateContent(content)
}

// ValidateConversationID checks that id is a positive integer.
func ValidateConversationID(id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > MaxTitleLength {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
