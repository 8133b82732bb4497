package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/capitalize-ai/conversational-client/internal/model"
)

func messagesPath(conversationID string) string {
	return conversationPath(conversationID) + "/messages"
}

// SendMessage performs a non-streamed exchange and returns both stored
// messages.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*model.SendMessageResponse, error) {
	var resp model.SendMessageResponse
	req := model.SendMessageRequest{Content: content, UseStream: false}
	if err := c.do(ctx, http.MethodPost, messagesPath(conversationID), nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamMessage starts a streamed exchange and returns the NDJSON body. The
// caller must close it. Canceling ctx aborts the connection.
//
// When the stream idle timeout is set, a body that yields no bytes for that
// long is aborted and reads fail with ErrStreamIdle. The timer also covers
// waiting for the response headers.
func (c *Client) StreamMessage(ctx context.Context, conversationID, content string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	req, err := c.newRequest(ctx, http.MethodPost, messagesPath(conversationID), nil,
		model.SendMessageRequest{Content: content, UseStream: true})
	if err != nil {
		cancel(nil)
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson, application/json")

	body := &idleBody{ctx: ctx, cancel: cancel}
	body.arm(c.streamIdleTimeout)

	resp, err := c.http.Do(req)
	if err != nil {
		body.stop()
		if cause := context.Cause(ctx); errors.Is(cause, ErrStreamIdle) {
			err = cause
		}
		cancel(nil)
		return nil, fmt.Errorf("stream message: %w", err)
	}
	if err := c.checkStatus(resp); err != nil {
		body.stop()
		resp.Body.Close()
		cancel(nil)
		return nil, err
	}

	body.rc = resp.Body
	return body, nil
}

// idleBody cancels the request when no bytes arrive within the timeout.
type idleBody struct {
	rc     io.ReadCloser
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	once    sync.Once
}

func (b *idleBody) arm(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	b.timeout = timeout
	b.timer = time.AfterFunc(timeout, func() { b.cancel(ErrStreamIdle) })
}

func (b *idleBody) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Reset(b.timeout)
	}
}

func (b *idleBody) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.reset()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		if cause := context.Cause(b.ctx); errors.Is(cause, ErrStreamIdle) {
			return n, cause
		}
	}
	return n, err
}

func (b *idleBody) Close() error {
	var err error
	b.once.Do(func() {
		b.stop()
		err = b.rc.Close()
		b.cancel(nil)
	})
	return err
}
