package stt

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoAPIKey means the provider was built without credentials.
	ErrNoAPIKey = errors.New("stt: API key required")

	// ErrEmptyAudio means there is nothing to transcribe.
	ErrEmptyAudio = errors.New("stt: empty audio")
)

// APIError is a non-2xx response from a transcription backend.
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
	return fmt.Sprintf("stt provider %s: %v", e.Provider, e.Err)
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
