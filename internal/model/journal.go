package model

import "time"

// JournalKind distinguishes journal entries.
type JournalKind string

const (
	JournalMessage JournalKind = "msg"
	JournalStream  JournalKind = "stream"
)

// JournalEntry is one record of the development server's event journal: a
// stored message, or the outcome of a streamed reply.
type JournalEntry struct {
	Kind           JournalKind    `json:"kind"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Message        *MessageRecord `json:"message,omitempty"`
	Outcome        string         `json:"outcome,omitempty"`
	Error          string         `json:"error,omitempty"`
	Fragments      int            `json:"fragments,omitempty"`
	At             time.Time      `json:"at"`
}
