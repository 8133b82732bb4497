// Package chat coordinates the transcript, the backend and the per-reply
// reconcilers. It owns the send lifecycle: optimistic insertion, streaming,
// finalization, cleanup on failure, and conversation switching.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/internal/reconcile"
	"github.com/capitalize-ai/conversational-client/internal/stream"
	"github.com/capitalize-ai/conversational-client/internal/transcript"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
	"github.com/capitalize-ai/conversational-client/pkg/metrics"
)

const tracerName = "github.com/capitalize-ai/conversational-client/internal/chat"

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// current transcript.
	ErrInvalidState = errors.New("invalid state")

	// ErrSendInFlight is returned when a conversation already has a reply
	// in progress.
	ErrSendInFlight = fmt.Errorf("%w: a reply is already in progress", ErrInvalidState)

	// ErrInvalidContent is returned for message text that cannot be sent.
	ErrInvalidContent = errors.New("invalid message content")

	// ErrEmptyStream is returned when a streamed reply ended without a
	// single event.
	ErrEmptyStream = errors.New("stream ended without events")

	// ErrMissingReply is returned when a non-streamed exchange answered
	// without an assistant message.
	ErrMissingReply = errors.New("response has no ai_message")

	// errSwitched cancels in-flight replies when their transcript goes away.
	errSwitched = errors.New("conversation switched")
)

// API is the part of the backend the controller needs.
type API interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	DeleteConversations(ctx context.Context, ids []string) (int, error)
	SendMessage(ctx context.Context, conversationID, content string) (*model.SendMessageResponse, error)
	StreamMessage(ctx context.Context, conversationID, content string) (io.ReadCloser, error)
}

// session is the send state of one conversation.
type session struct {
	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

func (s *session) setCancel(cancel context.CancelCauseFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *session) abort(cause error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel(cause)
	}
	s.mu.Unlock()
}

// Controller is safe for concurrent use.
type Controller struct {
	api    API
	store  *transcript.Store
	logger *logger.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	sessions map[string]*session
}

// NewController creates a controller rendering into store.
func NewController(api API, store *transcript.Store, log *logger.Logger) *Controller {
	return &Controller{
		api:      api,
		store:    store,
		logger:   logger.OrGlobal(log).Named("chat"),
		tracer:   otel.Tracer(tracerName),
		sessions: make(map[string]*session),
	}
}

// Store returns the transcript the controller writes to.
func (c *Controller) Store() *transcript.Store {
	return c.store
}

func (c *Controller) session(conversationID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[conversationID]
	if !ok {
		s = &session{}
		c.sessions[conversationID] = s
	}
	return s
}

// abortAll cancels every in-flight reply.
func (c *Controller) abortAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.abort(cause)
	}
}

func (c *Controller) forget(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if s, ok := c.sessions[id]; ok {
			s.abort(errSwitched)
			delete(c.sessions, id)
		}
	}
}

// SwitchConversation loads a conversation and makes it the active transcript.
// Replies still streaming into the previous transcript are aborted before the
// switch; one that slips in afterwards is detached by its stale generation.
func (c *Controller) SwitchConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	ctx, span := c.tracer.Start(ctx, "chat.SwitchConversation",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	conv, err := c.api.GetConversation(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	c.abortAll(errSwitched)
	gen := c.store.Replace(conversationID, conv.Transcript())

	span.SetAttributes(attribute.Int("messages", len(conv.Messages)))
	c.logger.Debug("conversation switched",
		zap.String("conversation_id", conversationID),
		zap.Uint64("generation", uint64(gen)),
		zap.Int("messages", len(conv.Messages)),
	)
	return conv, nil
}

// CreateConversation creates a conversation on the server and switches to it.
func (c *Controller) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	c.abortAll(errSwitched)
	c.store.Replace(conv.ID.String(), conv.Transcript())
	return conv, nil
}

// CloseConversation drops the active transcript and aborts any reply.
func (c *Controller) CloseConversation() {
	c.abortAll(errSwitched)
	c.store.Clear()
}

// DeleteConversation deletes a conversation. The transcript is cleared when
// it was the active one.
func (c *Controller) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.api.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	c.dropped(conversationID)
	return nil
}

// DeleteConversations deletes several conversations in one request.
func (c *Controller) DeleteConversations(ctx context.Context, conversationIDs []string) (int, error) {
	n, err := c.api.DeleteConversations(ctx, conversationIDs)
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	c.dropped(conversationIDs...)
	return n, nil
}

func (c *Controller) dropped(ids ...string) {
	c.forget(ids...)
	active, _, ok := c.store.Active()
	for _, id := range ids {
		if ok && id == active {
			c.store.Clear()
			break
		}
	}
}

// begin checks the preconditions of a send, takes the conversation's single
// flight slot and inserts the user message with an empty reply placeholder.
func (c *Controller) begin(conversationID, text string) (*session, transcript.Generation, model.Message, error) {
	var placeholder model.Message

	if err := model.ValidateContent(text); err != nil {
		return nil, 0, placeholder, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}

	active, gen, ok := c.store.Active()
	if !ok || active != conversationID {
		return nil, 0, placeholder, fmt.Errorf("%w: conversation %s is not active", ErrInvalidState, conversationID)
	}

	sess := c.session(conversationID)
	if !sess.inFlight.CompareAndSwap(false, true) {
		return nil, 0, placeholder, ErrSendInFlight
	}

	now := time.Now()
	user := model.Message{
		ID:             model.NewProvisionalID(),
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        text,
		CreatedAt:      now,
	}
	placeholder = model.Message{
		ID:             model.NewProvisionalID(),
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		CreatedAt:      now,
		Streaming:      true,
	}
	if err := c.store.Append(gen, user, placeholder); err != nil {
		sess.inFlight.Store(false)
		return nil, 0, placeholder, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return sess, gen, placeholder, nil
}

// Send posts text to the active conversation and streams the reply into the
// transcript. It returns the finalized assistant message. On failure the
// placeholder is removed and the user message stays.
func (c *Controller) Send(ctx context.Context, conversationID, text string) (model.Message, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "chat.Send",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	sess, gen, placeholder, err := c.begin(conversationID, text)
	if err != nil {
		span.RecordError(err)
		return model.Message{}, err
	}
	defer sess.inFlight.Store(false)

	metrics.ClientStreamsActive.Inc()
	defer metrics.ClientStreamsActive.Dec()

	ctx, cancel := context.WithCancelCause(ctx)
	sess.setCancel(cancel)
	defer func() {
		sess.setCancel(nil)
		cancel(nil)
	}()

	log := c.logger.WithConversation(conversationID).With(zap.Stringer("message_id", placeholder.ID))
	rec := reconcile.New(c.store, gen, placeholder.ID, log)

	msg, err := c.stream(ctx, rec, conversationID, text, log)
	c.finish(span, "stream", start, err)
	return msg, err
}

func (c *Controller) stream(ctx context.Context, rec *reconcile.Reconciler, conversationID, text string, log *logger.Logger) (model.Message, error) {
	body, err := c.api.StreamMessage(ctx, conversationID, text)
	if err != nil {
		rec.Abort(err)
		return model.Message{}, fmt.Errorf("send message: %w", rec.Err())
	}
	defer body.Close()

	dec := stream.NewDecoder(log)
	runErr := dec.Run(ctx, body, func(ev model.Event) error {
		if rec.Apply(ev).Terminal() {
			return stream.ErrStop
		}
		return nil
	})

	if st := dec.Stats(); st.Dropped() > 0 {
		log.Warn("stream had undecodable lines",
			zap.Int("malformed", st.Malformed),
			zap.Int("unknown", st.Unknown),
			zap.Int("events", st.Events),
		)
	}

	if runErr != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errSwitched) {
			runErr = fmt.Errorf("%w: %w", cause, runErr)
		}
		rec.Abort(runErr)
		return model.Message{}, fmt.Errorf("stream reply: %w", rec.Err())
	}

	switch rec.Complete() {
	case reconcile.StateFinalized:
		return rec.Result(), nil
	case reconcile.StateIdle:
		rec.Abort(ErrEmptyStream)
		return model.Message{}, fmt.Errorf("stream reply: %w", rec.Err())
	default:
		return model.Message{}, fmt.Errorf("stream reply: %w", rec.Err())
	}
}

// SendSync is Send over the non-streamed endpoint. The reply is applied as a
// single synthetic end, so the transcript ends up as it would for a streamed
// reply with the same content.
func (c *Controller) SendSync(ctx context.Context, conversationID, text string) (model.Message, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "chat.SendSync",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	sess, gen, placeholder, err := c.begin(conversationID, text)
	if err != nil {
		span.RecordError(err)
		return model.Message{}, err
	}
	defer sess.inFlight.Store(false)

	ctx, cancel := context.WithCancelCause(ctx)
	sess.setCancel(cancel)
	defer func() {
		sess.setCancel(nil)
		cancel(nil)
	}()

	log := c.logger.WithConversation(conversationID).With(zap.Stringer("message_id", placeholder.ID))
	rec := reconcile.New(c.store, gen, placeholder.ID, log)

	msg, err := c.exchange(ctx, rec, conversationID, text)
	c.finish(span, "sync", start, err)
	return msg, err
}

func (c *Controller) exchange(ctx context.Context, rec *reconcile.Reconciler, conversationID, text string) (model.Message, error) {
	resp, err := c.api.SendMessage(ctx, conversationID, text)
	if err != nil {
		rec.Abort(err)
		return model.Message{}, fmt.Errorf("send message: %w", rec.Err())
	}
	if resp.AIMessage == nil {
		rec.Abort(ErrMissingReply)
		return model.Message{}, fmt.Errorf("send message: %w", rec.Err())
	}

	if rec.Resolve(*resp.AIMessage) != reconcile.StateFinalized {
		return model.Message{}, fmt.Errorf("apply reply: %w", rec.Err())
	}
	return rec.Result(), nil
}

func (c *Controller) finish(span trace.Span, mode string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrDetached):
		outcome = "detached"
	default:
		outcome = "error"
	}
	metrics.RecordSend(mode, outcome, time.Since(start).Seconds())

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}
