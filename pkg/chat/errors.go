package chat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoMessages means the request carried an empty conversation.
	ErrNoMessages = errors.New("chat: no messages provided")

	// ErrStreamClosed means Recv was called on a closed stream.
	ErrStreamClosed = errors.New("chat: stream closed")

	// ErrProviderUnavailable means the provider cannot serve requests.
	ErrProviderUnavailable = errors.New("chat: provider unavailable")
)

// APIError is a non-2xx response from a chat backend.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited reports whether the request was throttled.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports an invalid or missing API key.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsForbidden reports a permission failure.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// IsNotFound reports an unknown model or endpoint.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsServerError reports a backend-side failure.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsRetryable reports whether retrying the request may succeed.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// ProviderError tags an underlying failure with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("chat provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError tags err with the provider name. API errors pass through
// untouched so status predicates keep working.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return &ProviderError{Provider: provider, Err: err}
}
