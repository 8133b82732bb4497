// Package llm generates assistant replies for the development server.
package llm

import (
	"context"
	"fmt"
	"time"
)

// DefaultSystemPrompt is sent ahead of the conversation history.
const DefaultSystemPrompt = "You are a helpful assistant. Give accurate, useful answers in a friendly, " +
	"professional tone, with explanations and examples where they help. " +
	"When you are unsure, say so and ask for more detail."

// StreamCallback is called for each fragment during streaming.
type StreamCallback func(fragment string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage is one history entry sent to a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for reply providers.
type Client interface {
	// Complete returns the whole reply at once.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream reports the reply fragment by fragment through callback
	// and returns the assembled response.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of reply provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderMock      Provider = "mock"
)

// Options configures NewClient.
type Options struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	Model           string
	MockDelay       time.Duration
}

// NewClient creates a client for provider. The mock provider needs no key.
func NewClient(provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts.AnthropicAPIKey, opts.Model)
	case ProviderOpenAI:
		return NewOpenAIClient(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.Model)
	case ProviderMock, "":
		return NewMockClient(opts.MockDelay), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func defaultMaxTokens(n int) int {
	if n == 0 {
		return 2048
	}
	return n
}
