// Package gwerr defines the gateway's error taxonomy. Every failure that can
// reach a caller maps to one of these classes so handlers and the usage
// accountant can agree on how a request terminated.
package gwerr

import (
	"errors"
	"fmt"
)

// Fail-fast sentinels. None of these produce a usage record: the request is
// rejected before any upstream call is made.
var (
	ErrAuth             = errors.New("missing or invalid caller identity")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrModelUnavailable = errors.New("no source with a healthy credential")
)

// ErrModelListingUnsupported is returned by adapters whose wire protocol has
// no catalog endpoint.
var ErrModelListingUnsupported = errors.New("model listing not supported by this protocol")

// ProviderError is the canonical shape for an upstream non-2xx response.
// Adapters convert every provider-specific error body into this form;
// malformed bodies become a generic ProviderError rather than a panic or an
// unstructured error.
type ProviderError struct {
	Status   int    `json:"status"`
	Code     string `json:"code,omitempty"`
	Type     string `json:"type,omitempty"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s upstream %d (%s): %s", e.Provider, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s upstream %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether a pre-stream failover to another source is worth
// attempting. Client-shaped errors (bad request, context too long) will fail
// everywhere, so the router should not burn other credentials on them.
func (e *ProviderError) Retryable() bool {
	switch e.Status {
	case 400, 404, 413, 422:
		return false
	}
	return true
}

// NewProviderError builds a ProviderError with a generic code/type when the
// upstream body could not be parsed.
func NewProviderError(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = "upstream error"
	}
	return &ProviderError{
		Status:   status,
		Code:     "upstream_error",
		Type:     "api_error",
		Message:  message,
		Provider: provider,
	}
}

// StreamError marks a failure after content was already forwarded downstream.
// It is terminal: failover is no longer allowed because the caller has seen
// partial output.
type StreamError struct {
	Provider string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream failed mid-flight: %v", e.Provider, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// TimeoutError indicates no upstream data arrived within the allowed idle
// window, either while connecting or between chunks.
type TimeoutError struct {
	Provider string
	Phase    string // "connect" or "stream"
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out during %s", e.Provider, e.Phase)
}

// AsProvider unwraps err into a *ProviderError when possible.
func AsProvider(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsFailFast reports whether err is one of the pre-dispatch rejections that
// must not be logged as usage.
func IsFailFast(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrModelUnavailable)
}
