package sentry_transport

import "net/http"

// Status is the outcome of a delivery attempt as classified from the HTTP response.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusSkipped   Status = "skipped"
	StatusSuccess   Status = "success"
	StatusRateLimit Status = "rate_limit"
	StatusInvalid   Status = "invalid"
	StatusFailed    Status = "failed"
)

// StatusFromHTTPCode maps an HTTP status code to a delivery Status.
func StatusFromHTTPCode(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return StatusSuccess
	case code == http.StatusTooManyRequests:
		return StatusRateLimit
	case code >= 400 && code < 500:
		return StatusInvalid
	case code >= 500:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Response is what a successful send resolves with.
type Response struct {
	Status Status `json:"status"`
}
