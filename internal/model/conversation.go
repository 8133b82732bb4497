// Package model defines data structures shared by the chat client and the
// development server.
package model

// Conversation represents a conversation thread as reported by the server.
type Conversation struct {
	ID        ServerID        `json:"id"`
	UserID    ServerID        `json:"user_id,omitempty"`
	Title     string          `json:"title"`
	CreatedAt Timestamp       `json:"created_at"`
	UpdatedAt Timestamp       `json:"updated_at"`
	Messages  []MessageRecord `json:"messages,omitempty"`
}

// Transcript converts the conversation's records into finalized transcript
// messages in server order.
func (c *Conversation) Transcript() []Message {
	msgs := make([]Message, 0, len(c.Messages))
	for _, r := range c.Messages {
		msgs = append(msgs, r.ToMessage(c.ID.String()))
	}
	return msgs
}
