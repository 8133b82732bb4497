// Package client talks to the chat backend over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/pkg/logger"
)

var (
	// ErrUnauthenticated is returned for 401 responses. The session is over
	// and the user has to sign in again.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStreamIdle is returned when a streamed body produced no bytes within
	// the idle timeout.
	ErrStreamIdle = errors.New("stream idle timeout")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets callers test a 401 with errors.Is(err, ErrUnauthenticated).
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Tokens  TokenSource

	// HTTPClient defaults to a client without an overall timeout; deadlines
	// are set per request so streamed bodies are not cut off.
	HTTPClient *http.Client

	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
	RetryMaxElapsed   time.Duration

	// OnUnauthorized runs after every 401, e.g. to discard stored credentials.
	OnUnauthorized func()

	Logger *logger.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client

	requestTimeout    time.Duration
	streamIdleTimeout time.Duration
	retryMaxElapsed   time.Duration
	onUnauthorized    func()

	logger *logger.Logger
}

// New creates a client for the backend at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}

	c := &Client{
		base:              base,
		tokens:            opts.Tokens,
		http:              opts.HTTPClient,
		requestTimeout:    opts.RequestTimeout,
		streamIdleTimeout: opts.StreamIdleTimeout,
		retryMaxElapsed:   opts.RetryMaxElapsed,
		onUnauthorized:    opts.OnUnauthorized,
		logger:            logger.OrGlobal(opts.Logger).Named("client"),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 30 * time.Second
	}
	if c.retryMaxElapsed <= 0 {
		c.retryMaxElapsed = 10 * time.Second
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends one request and decodes a JSON response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// get is do for idempotent reads: network errors, 5xx and 429 are retried
// with exponential backoff.
func (c *Client) get(ctx context.Context, path string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.retryMaxElapsed

	op := func() error {
		err := c.do(ctx, http.MethodGet, path, nil, nil, out)
		if err == nil || retryable(ctx, err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying request",
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrUnauthenticated) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr)
}

// checkStatus turns a non-2xx response into a *StatusError. The body is read
// for an "error" or "detail" message.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	se := &StatusError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		se.Message = body.Error
		if se.Message == "" && len(body.Detail) > 0 {
			var detail string
			if json.Unmarshal(body.Detail, &detail) == nil {
				se.Message = detail
			} else {
				se.Message = string(body.Detail)
			}
		}
	} else {
		se.Message = strings.TrimSpace(string(data))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("request unauthenticated", zap.String("path", resp.Request.URL.Path))
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
	}
	return se
}
