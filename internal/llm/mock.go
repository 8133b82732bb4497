package llm

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// MockClient answers without calling any provider. Replies echo the last user
// message and are streamed word by word, with Delay between fragments.
type MockClient struct {
	Delay time.Duration
}

// NewMockClient creates a mock responder.
func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{Delay: delay}
}

// Name returns the provider name.
func (c *MockClient) Name() string {
	return string(ProviderMock)
}

// Reply returns the canned answer for req.
func (c *MockClient) Reply(req *CompletionRequest) string {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return "Hello! How can I help you today?"
	}
	return "You said: " + last
}

// Complete returns the whole reply at once.
func (c *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := c.Reply(req)
	return &CompletionResponse{
		Content:    content,
		Model:      string(ProviderMock),
		TokensIn:   len(req.Messages),
		TokensOut:  utf8.RuneCountInString(content),
		StopReason: "end_turn",
	}, nil
}

// CompleteStream reports the reply in word sized fragments.
func (c *MockClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	content := c.Reply(req)

	for i, fragment := range fragments(content) {
		if i > 0 && c.Delay > 0 {
			timer := time.NewTimer(c.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(fragment, i); err != nil {
			return nil, err
		}
	}

	return &CompletionResponse{
		Content:    content,
		Model:      string(ProviderMock),
		TokensIn:   len(req.Messages),
		TokensOut:  utf8.RuneCountInString(content),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// fragments splits s after each space, keeping the separators so the pieces
// concatenate back to s.
func fragments(s string) []string {
	if s == "" {
		return nil
	}
	return strings.SplitAfter(s, " ")
}
