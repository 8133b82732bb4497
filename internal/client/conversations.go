package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/capitalize-ai/conversational-client/internal/model"
)

func conversationPath(id string) string {
	return "/api/conversations/" + url.PathEscape(id)
}

// ListConversations returns the user's conversations without messages.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := c.get(ctx, "/api/conversations", &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// GetConversation returns a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.get(ctx, conversationPath(id), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation creates a conversation. An empty title lets the server
// name it after the first message.
func (c *Client) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	var query url.Values
	if title != "" {
		query = url.Values{"title": {title}}
	}
	var conv model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", query, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation deletes one conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(id), nil, nil, nil)
}

type batchDeleteRequest struct {
	ConversationIDs []model.ServerID `json:"conversation_ids"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

// DeleteConversations deletes several conversations at once and returns how
// many the server removed. A server that does not report a count is assumed
// to have removed them all.
func (c *Client) DeleteConversations(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, errors.New("no conversation ids")
	}
	req := batchDeleteRequest{ConversationIDs: make([]model.ServerID, len(ids))}
	for i, id := range ids {
		req.ConversationIDs[i] = model.ServerID(id)
	}

	resp := deleteResponse{Deleted: len(ids)}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/batch-delete", nil, req, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// DeleteAllConversations deletes every conversation of the user. The count is
// zero when the server does not report one.
func (c *Client) DeleteAllConversations(ctx context.Context) (int, error) {
	var resp deleteResponse
	if err := c.do(ctx, http.MethodDelete, "/api/conversations/all", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}
