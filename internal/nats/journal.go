package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/conversational-client/internal/model"
)

const (
	// StreamName is the name of the journal stream.
	StreamName = "CHAT_JOURNAL"

	// SubjectPrefix is the prefix for all journal subjects.
	SubjectPrefix = "chat"
)

// Journal publishes journal entries to JetStream.
type Journal struct {
	client *Client
	maxAge time.Duration
}

// NewJournal creates a journal keeping entries for maxAge.
func NewJournal(client *Client, maxAge time.Duration) *Journal {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Journal{client: client, maxAge: maxAge}
}

// EnsureStream ensures the journal stream exists.
func (j *Journal) EnsureStream(ctx context.Context) error {
	js := j.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      j.maxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Development server messages and reply outcomes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish appends e to the journal and returns its stream sequence.
func (j *Journal) Publish(ctx context.Context, e model.JournalEntry) (uint64, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	ack, err := j.client.JetStream().Publish(ctx, Subject(e), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish journal entry: %w", err)
	}
	return ack.Sequence, nil
}

// Healthy reports whether the connection is up.
func (j *Journal) Healthy() bool {
	return j.client.IsConnected()
}

// Subject returns the subject of an entry:
// chat.<user>.<conversation>.msg.<role> or chat.<user>.<conversation>.stream.<outcome>.
func Subject(e model.JournalEntry) string {
	leaf := e.Outcome
	if e.Kind == model.JournalMessage && e.Message != nil {
		leaf = string(e.Message.Role)
	}
	return strings.Join([]string{
		SubjectPrefix,
		token(e.UserID),
		token(e.ConversationID),
		token(string(e.Kind)),
		token(leaf),
	}, ".")
}

// token makes s usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.', r == '*', r == '>', r <= ' ', r == 0x7f:
			return '_'
		default:
			return r
		}
	}, s)
}
