package create

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenSource provides the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token, or ErrNotAuthorized when it is empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNotAuthorized
	}
	return strings.TrimSpace(string(t)), nil
}

// FileToken reads the token from a file on every call, so an external login
// helper can refresh it while the daemon is running.
type FileToken string

// Token returns the file's trimmed content.
func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: token file %s does not exist", ErrNotAuthorized, string(f))
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: token file %s is empty", ErrNotAuthorized, string(f))
	}
	return token, nil
}
