package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_CompleteStream(t *testing.T) {
	c := NewMockClient(0)
	req := &CompletionRequest{Messages: []ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "héllo wörld"},
	}}

	var got []string
	resp, err := c.CompleteStream(context.Background(), req, func(fragment string, index int) error {
		assert.Equal(t, len(got), index)
		got = append(got, fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "You said: héllo wörld", resp.Content)
	assert.Equal(t, resp.Content, strings.Join(got, ""))
	assert.Len(t, got, 4)
}

func TestMockClient_CompleteMatchesStream(t *testing.T) {
	c := NewMockClient(0)
	req := &CompletionRequest{Messages: []ChatMessage{{Role: "user", Content: "ping"}}}

	full, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	streamed, err := c.CompleteStream(context.Background(), req, func(string, int) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, full.Content, streamed.Content)
}

func TestMockClient_CallbackError(t *testing.T) {
	boom := errors.New("client gone")
	c := NewMockClient(0)
	_, err := c.CompleteStream(context.Background(), &CompletionRequest{}, func(string, int) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestMockClient_Canceled(t *testing.T) {
	c := NewMockClient(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req := &CompletionRequest{Messages: []ChatMessage{{Role: "user", Content: "a b c"}}}
	_, err := c.CompleteStream(ctx, req, func(string, int) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(ProviderMock, Options{})
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())

	_, err = NewClient(ProviderAnthropic, Options{})
	assert.Error(t, err)

	_, err = NewClient(ProviderOpenAI, Options{})
	assert.Error(t, err)

	c, err = NewClient(ProviderOpenAI, Options{OpenAIAPIKey: "k", OpenAIBaseURL: "https://api.deepseek.com/"})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	_, err = NewClient("bogus", Options{})
	assert.Error(t, err)
}
