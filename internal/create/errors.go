package create

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is returned when no token is available or the remote
	// rejected the token with a 401.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrSyncRetryExhausted is returned by WriteFile when the remote listing
	// never confirmed the write.
	ErrSyncRetryExhausted = errors.New("remote write not confirmed")
)

// APIError is a failed request to the remote API.
type APIError struct {
	Method string
	Path   string
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("api %s %s returned status %d", e.Method, e.Path, e.Status)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

// IsRetryable returns true for failures that may succeed later: server
// errors, rate limiting and unconfirmed writes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSyncRetryExhausted) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == 429
	}
	return false
}
