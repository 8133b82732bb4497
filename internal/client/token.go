package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when a token source has nothing to offer.
var ErrNoToken = errors.New("no access token")

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, typically from CHAT_TOKEN.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// FileTokenSource reads the token from a file on every request, so a token
// refreshed on disk is picked up without a restart.
type FileTokenSource struct {
	Path string
}

// Token implements TokenSource.
func (f FileTokenSource) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s does not exist", ErrNoToken, f.Path)
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrNoToken, f.Path)
	}
	return tok, nil
}

// NewTokenSource prefers a token file over an inline token.
func NewTokenSource(token, file string) TokenSource {
	if file != "" {
		return FileTokenSource{Path: file}
	}
	return StaticToken(token)
}
