package sentry_transport

import (
	"errors"
	"fmt"
	"time"
)

// Error codes carried by PluginError.
const (
	CodeConfiguration = "configuration"
	CodeBufferFull    = "buffer_full"
	CodeRateLimited   = "rate_limited"
	CodeNetwork       = "network"
	CodeServer        = "server"
)

// PluginError represents a plugin-specific error
type PluginError struct {
	Op      string
	Code    string
	Message string
}

func (e *PluginError) Error() string {
	return e.Message
}

// ConfigurationError is returned when the DSN or transport options are malformed.
type ConfigurationError struct {
	PluginError
	Err error
}

func newConfigurationError(op, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		PluginError: PluginError{Op: op, Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)},
	}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// BufferFullError means the concurrency ceiling was reached and the request was dropped.
type BufferFullError struct {
	PluginError
	Limit int
}

// ErrBufferFull is the sentinel matched by errors.Is for every BufferFullError.
var ErrBufferFull = &BufferFullError{
	PluginError: PluginError{Op: "buffer_add", Code: CodeBufferFull, Message: "request buffer is full"},
}

func (e *BufferFullError) Is(target error) bool {
	_, ok := target.(*BufferFullError)
	return ok
}

// RateLimitedError is returned without touching the network while a category is backed off.
type RateLimitedError struct {
	PluginError
	Payload       any
	Type          RequestType
	DisabledUntil time.Time
}

func newRateLimitedError(payload any, typ RequestType, until time.Time) *RateLimitedError {
	return &RateLimitedError{
		PluginError: PluginError{
			Op:   "transport_send",
			Code: CodeRateLimited,
			Message: fmt.Sprintf("transport locked till %s due to too many requests",
				until.UTC().Format(time.RFC3339)),
		},
		Payload:       payload,
		Type:          typ,
		DisabledUntil: until,
	}
}

// NetworkError wraps a failure to reach the server or read its response.
type NetworkError struct {
	PluginError
	Cause error
}

func newNetworkError(cause error) *NetworkError {
	return &NetworkError{
		PluginError: PluginError{Op: "transport_send", Code: CodeNetwork, Message: "network error: " + cause.Error()},
		Cause:       cause,
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// ServerError carries a non-success response as reported by the server.
type ServerError struct {
	PluginError
	StatusCode int
	Status     Status
	Detail     string
}

func newServerError(code int, detail string) *ServerError {
	return &ServerError{
		PluginError: PluginError{
			Op:      "transport_send",
			Code:    CodeServer,
			Message: fmt.Sprintf("HTTP %d: %s", code, detail),
		},
		StatusCode: code,
		Status:     StatusFromHTTPCode(code),
		Detail:     detail,
	}
}

// IsRateLimited reports whether err was produced by a local rate-limit gate.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
