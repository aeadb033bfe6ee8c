// Package clio provides the HTTP client for the practice-management
// provider API: token caching with single-flight refresh, bearer-token
// requests with a single forced-refresh retry on 401, paginated record
// listing, and the slow aggregation report endpoint.
package clio

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for provider failure classification.
// Use errors.Is(err, clio.ErrUnauthorized) to check.
var (
	// ErrTokenExchangeFailed indicates the provider rejected a credential
	// exchange at the token endpoint.
	ErrTokenExchangeFailed = errors.New("clio: token exchange failed")

	ErrBadRequest   = errors.New("clio: bad request")
	ErrUnauthorized = errors.New("clio: unauthorized")
	ErrForbidden    = errors.New("clio: forbidden")
	ErrNotFound     = errors.New("clio: not found")
	ErrThrottled    = errors.New("clio: throttled")
	ErrServerError  = errors.New("clio: server error")

	// ErrAggregateUnavailable indicates the provider's list metadata did
	// not include the cheap count/sum fields. Shallow drift detection
	// degrades to a local-only report; this is not a hard failure.
	ErrAggregateUnavailable = errors.New("clio: aggregate unavailable")
)

// ProviderError wraps a sentinel error with the HTTP status code and the
// provider's response body for debugging.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("clio: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return fmt.Errorf("clio: unexpected HTTP status %d", code)
	}
}
