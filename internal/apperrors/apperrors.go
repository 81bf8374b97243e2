// SPDX-License-Identifier: AGPL-3.0-only

// Package apperrors extends the runtime's plain-string error helpers
// (internal/errors) with typed error values for the handful of error
// kinds that HTTP and WebSocket handlers need to switch on: auth
// failures, rate limiting, transform/stream/tool failures, and so on.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// AuthKind distinguishes the ways an Authenticator can fail.
type AuthKind int

const (
	AuthFailed AuthKind = iota
	TokenExpired
	DeviceCodeExpired
	AccessDenied
)

// AuthError reports an authentication or credential-refresh failure.
type AuthError struct {
	Kind    AuthKind
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "auth error"
	}
	return e.Message
}

// ToolKind distinguishes the ways tool execution can fail.
type ToolKind int

const (
	ToolFailed ToolKind = iota
	ToolNotFound
	ToolInvalidArgs
	ToolTimeout
)

// ToolError reports a tool-resolution or execution failure.
type ToolError struct {
	Kind    ToolKind
	Message string
}

func (e *ToolError) Error() string { return e.Message }

// APIError reports a non-2xx response from an LLM backend.
type APIError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status=%d retryable=%v): %s", e.Status, e.Retryable, e.Message)
}

// RateLimitedError reports a 429 with a Retry-After hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TransformError reports a request/response shape conversion failure.
// Transform errors are never retried.
type TransformError struct {
	Reason string
}

func (e *TransformError) Error() string { return "transform: " + e.Reason }

// StreamError reports an SSE framing or chunk-parsing failure.
type StreamError struct {
	Reason string
}

func (e *StreamError) Error() string { return "stream: " + e.Reason }

// ConfigError reports a configuration validation failure.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// StorageError wraps a session-store or database failure.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// NetworkError wraps a transport-level failure reaching a provider.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Cancelled is returned when an operation was aborted by cancellation.
var Cancelled = errors.New("cancelled")

// Internal wraps an error that should be surfaced to the caller as an
// opaque internal failure, without leaking implementation detail.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return "internal: " + e.Err.Error() }
func (e *InternalError) Unwrap() error { return e.Err }

// HTTPStatus maps a typed error to the status code §7 requires.
func HTTPStatus(err error) int {
	var authErr *AuthError
	var apiErr *APIError
	var rateErr *RateLimitedError
	var cfgErr *ConfigError
	var toolErr *ToolError

	switch {
	case errors.As(err, &authErr):
		return 401
	case errors.As(err, &rateErr):
		return 429
	case errors.As(err, &cfgErr):
		return 400
	case errors.As(err, &toolErr):
		return 400
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return 502
	case errors.Is(err, Cancelled):
		return 499
	default:
		return 500
	}
}

// ErrorType returns the taxonomy tag §7 uses in the JSON error body's
// "type" field.
func ErrorType(err error) string {
	var authErr *AuthError
	var apiErr *APIError
	var rateErr *RateLimitedError
	var cfgErr *ConfigError
	var toolErr *ToolError
	var xformErr *TransformError
	var streamErr *StreamError
	var storeErr *StorageError
	var netErr *NetworkError

	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limited"
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &toolErr):
		return "tool"
	case errors.As(err, &xformErr):
		return "transform"
	case errors.As(err, &streamErr):
		return "stream"
	case errors.As(err, &storeErr):
		return "storage"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &apiErr):
		return "api"
	case errors.Is(err, Cancelled):
		return "cancelled"
	default:
		return "internal"
	}
}
