package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversational-client/internal/handler"
	"github.com/capitalize-ai/conversational-client/internal/llm"
	"github.com/capitalize-ai/conversational-client/internal/middleware"
	"github.com/capitalize-ai/conversational-client/internal/service"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

const secret = "cli-test-secret"

func startBackend(t *testing.T) string {
	t.Helper()
	log := logger.NewNop()
	convs := service.NewConversationService(nil, log)
	msgs := service.NewMessageService(convs, llm.NewMockClient(time.Millisecond), 20, log)

	srv := httptest.NewServer(handler.NewRouter(handler.RouterConfig{
		JWTSecret:         secret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		Health:            handler.NewHealthHandler(nil),
		Conversations:     handler.NewConversationHandler(convs, log),
		Messages:          handler.NewMessageHandler(msgs, log),
		Logger:            log,
	}))
	t.Cleanup(srv.Close)

	token, err := middleware.IssueToken(secret, "cli-user", time.Hour)
	require.NoError(t, err)

	t.Setenv("CHAT_API_URL", srv.URL)
	t.Setenv("CHAT_TOKEN", token)
	t.Setenv("LOG_LEVEL", "error")
	return srv.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	startBackend(t)

	out, err := runCLI(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations yet.")

	out, err = runCLI(t, "new", "Travel plans")
	require.NoError(t, err)
	assert.Contains(t, out, "1\tTravel plans")

	out, err = runCLI(t, "send", "1", "where", "to?")
	require.NoError(t, err)
	assert.Equal(t, "assistant> You said: where to?\n", out)

	out, err = runCLI(t, "send", "--no-stream", "1", "and when?")
	require.NoError(t, err)
	assert.Equal(t, "assistant> You said: and when?\n", out)

	out, err = runCLI(t, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "# Travel plans")
	assert.Contains(t, out, "user> where to?\nassistant> You said: where to?\n")
	assert.Contains(t, out, "user> and when?\nassistant> You said: and when?\n")

	out, err = runCLI(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Travel plans")

	_, err = runCLI(t, "new")
	require.NoError(t, err)
	_, err = runCLI(t, "new")
	require.NoError(t, err)

	out, err = runCLI(t, "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted conversation 1.")

	out, err = runCLI(t, "delete", "2", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 conversations.")

	_, err = runCLI(t, "show", "1")
	assert.Error(t, err)
}

func TestCLI_DeleteAll(t *testing.T) {
	startBackend(t)

	for i := 0; i < 3; i++ {
		_, err := runCLI(t, "new")
		require.NoError(t, err)
	}
	out, err := runCLI(t, "delete", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 3 conversations.")

	_, err = runCLI(t, "delete", "--all", "1")
	assert.Error(t, err)
	_, err = runCLI(t, "delete")
	assert.Error(t, err)
}

func TestCLI_Unauthorized(t *testing.T) {
	startBackend(t)

	out, err := runCLI(t, "--token", "forged", "list")
	require.Error(t, err)
	assert.Contains(t, out, "rejected the access token")
}

func TestCLI_SendToUnknownConversation(t *testing.T) {
	startBackend(t)

	_, err := runCLI(t, "send", "42", "hello")
	assert.Error(t, err)
}
