package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversational-client/internal/llm"
	"github.com/capitalize-ai/conversational-client/internal/middleware"
	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/internal/service"
	"github.com/capitalize-ai/conversational-client/internal/stream"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

const testSecret = "test-secret"

type checkFunc func() bool

func (f checkFunc) Healthy() bool { return f() }

type testServer struct {
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T, client llm.Client) *testServer {
	t.Helper()
	log := logger.NewNop()
	convs := service.NewConversationService(nil, log)
	msgs := service.NewMessageService(convs, client, 20, log)

	token, err := middleware.IssueToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	return &testServer{
		handler: NewRouter(RouterConfig{
			JWTSecret:         testSecret,
			RateLimitRequests: 1000,
			RateLimitWindow:   time.Minute,
			AllowedOrigins:    []string{"http://localhost:3000"},
			Health:            NewHealthHandler(nil),
			Conversations:     NewConversationHandler(convs, log),
			Messages:          NewMessageHandler(msgs, log),
			Logger:            log,
		}),
		token: token,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) create(t *testing.T, title string) model.Conversation {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/conversations", map[string]string{"title": title})
	require.Equal(t, http.StatusCreated, rec.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	return conv
}

func TestRouter_RequiresAuth(t *testing.T) {
	s := newTestServer(t, llm.NewMockClient(0))

	for _, header := range []string{"", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}

	forged, err := middleware.IssueToken("other-secret", "alice", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ConversationCRUD(t *testing.T) {
	s := newTestServer(t, llm.NewMockClient(0))

	conv := s.create(t, "First")
	assert.Equal(t, "First", conv.Title)
	assert.NotEmpty(t, conv.ID)

	rec := s.do(t, http.MethodPost, "/api/conversations?title=From+query", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "From query")

	rec = s.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/conversations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/conversations/"+conv.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_BatchDelete(t *testing.T) {
	s := newTestServer(t, llm.NewMockClient(0))
	a := s.create(t, "a")
	b := s.create(t, "b")

	rec := s.do(t, http.MethodPost, "/api/conversations/batch-delete", BatchDeleteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/conversations/batch-delete", BatchDeleteRequest{
		ConversationIDs: []model.ServerID{a.ID, b.ID, "404"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BatchDeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Deleted)

	rec = s.do(t, http.MethodPost, "/api/conversations/batch-delete", BatchDeleteRequest{
		ConversationIDs: []model.ServerID{a.ID},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.create(t, "c")
	s.create(t, "d")
	rec = s.do(t, http.MethodDelete, "/api/conversations/all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/conversations/all", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SendStreamed(t *testing.T) {
	s := newTestServer(t, llm.NewMockClient(0))
	conv := s.create(t, "")

	rec := s.do(t, http.MethodPost, "/api/conversations/"+conv.ID.String()+"/messages",
		model.SendMessageRequest{Content: "hello there", UseStream: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), ContentTypeNDJSON))

	d := stream.NewDecoder(logger.NewNop())
	events := append(d.Feed(rec.Body.Bytes()), d.Flush()...)
	require.NotEmpty(t, events)
	assert.Zero(t, d.Stats().Dropped())

	var content strings.Builder
	for _, ev := range events[:len(events)-1] {
		chunk, ok := ev.(model.ChunkEvent)
		require.True(t, ok)
		content.WriteString(chunk.Content)
	}
	assert.Equal(t, "You said: hello there", content.String())

	end, ok := events[len(events)-1].(model.EndEvent)
	require.True(t, ok)
	assert.NotEmpty(t, end.ServerID())

	rec = s.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String(), nil)
	var stored model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, end.ServerID(), stored.Messages[1].ID.String())
	assert.Equal(t, "hello there", stored.Title)
}

type brokenClient struct{ *llm.MockClient }

func (brokenClient) CompleteStream(_ context.Context, _ *llm.CompletionRequest, _ llm.StreamCallback) (*llm.CompletionResponse, error) {
	return nil, errors.New("boom")
}

func TestRouter_SendStreamedError(t *testing.T) {
	s := newTestServer(t, brokenClient{llm.NewMockClient(0)})
	conv := s.create(t, "t")

	rec := s.do(t, http.MethodPost, "/api/conversations/"+conv.ID.String()+"/messages",
		model.SendMessageRequest{Content: "hi", UseStream: true})
	require.Equal(t, http.StatusOK, rec.Code)

	d := stream.NewDecoder(logger.NewNop())
	events := append(d.Feed(rec.Body.Bytes()), d.Flush()...)
	require.Len(t, events, 1)
	errEv, ok := events[0].(model.ErrorEvent)
	require.True(t, ok)
	assert.Contains(t, errEv.Message, "boom")
}

func TestRouter_SendSync(t *testing.T) {
	s := newTestServer(t, llm.NewMockClient(0))
	conv := s.create(t, "t")

	rec := s.do(t, http.MethodPost, "/api/conversations/"+conv.ID.String()+"/messages",
		model.SendMessageRequest{Content: "sync please"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.UserMessage)
	require.NotNil(t, resp.AIMessage)
	assert.Equal(t, "sync please", resp.UserMessage.Content)
	assert.Equal(t, "You said: sync please", resp.AIMessage.Content)
	assert.NotEqual(t, resp.UserMessage.ID, resp.AIMessage.ID)
}

func TestRouter_SendRejects(t *testing.T) {
	s := newTestServer(t, llm.NewMockClient(0))
	conv := s.create(t, "t")

	rec := s.do(t, http.MethodPost, "/api/conversations/"+conv.ID.String()+"/messages",
		model.SendMessageRequest{Content: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/conversations/999/messages",
		model.SendMessageRequest{Content: "hi", UseStream: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestHealth(t *testing.T) {
	healthy := true
	h := NewHealthHandler(map[string]Checker{"journal": checkFunc(func() bool { return healthy })})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "journal unavailable")

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
