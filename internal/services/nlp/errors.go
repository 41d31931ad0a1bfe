package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

var (
	// ErrProviderUnavailable covers timeouts, unreachable backends and disabled providers
	ErrProviderUnavailable = errors.New("nlp provider unavailable")
	// ErrMalformedResult is returned when provider output fails structural validation
	ErrMalformedResult = errors.New("malformed nlp result")
	// ErrNoChoicesInResponse is returned when the completion has no choices
	ErrNoChoicesInResponse = errors.New("no choices in response")
)

// APIError represents an error from the provider API
type APIError struct {
	Message    string
	Type       string
	Code       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// IsRateLimited reports a 429 that is not quota exhaustion
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests && e.Code != "insufficient_quota"
}

// ExtractAPIError converts an SDK error into an APIError, or returns nil
func ExtractAPIError(err error) *APIError {
	var sdkErr *openai.Error
	if !errors.As(err, &sdkErr) {
		return nil
	}
	return &APIError{
		Message:    sdkErr.Message,
		Type:       sdkErr.Type,
		Code:       sdkErr.Code,
		StatusCode: sdkErr.StatusCode,
	}
}

// classifyProviderError maps transport and API failures onto the package sentinels
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if apiErr := ExtractAPIError(err); apiErr != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, apiErr)
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}
