package sentry_transport

import (
	"time"
)

// RequestType discriminates outbound requests; it doubles as the rate limit category.
type RequestType string

const (
	RequestTypeEvent       RequestType = "event"
	RequestTypeTransaction RequestType = "transaction"
	RequestTypeSession     RequestType = "session"
)

// Event is a normalized event produced by the SDK. The transport treats it as
// an opaque payload apart from Type.
type Event struct {
	EventID     string            `json:"event_id"`
	Type        string            `json:"type,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Level       string            `json:"level,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	Logger      string            `json:"logger,omitempty"`
	Message     string            `json:"message,omitempty"`
	Release     string            `json:"release,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
	Exception   any               `json:"exception,omitempty"`
	Contexts    map[string]any    `json:"contexts,omitempty"`
	User        map[string]any    `json:"user,omitempty"`
	SDK         *SdkInfo          `json:"sdk,omitempty"`
}

// SdkInfo identifies the producing SDK.
type SdkInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SessionStatus is the state of a release-health session.
type SessionStatus string

const (
	SessionOk       SessionStatus = "ok"
	SessionExited   SessionStatus = "exited"
	SessionCrashed  SessionStatus = "crashed"
	SessionAbnormal SessionStatus = "abnormal"
)

// Session is a release-health session update.
type Session struct {
	SID       string        `json:"sid"`
	DID       string        `json:"did,omitempty"`
	Init      bool          `json:"init"`
	Started   time.Time     `json:"started"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  float64       `json:"duration"`
	Status    SessionStatus `json:"status"`
	Errors    int           `json:"errors"`
	Attrs     *SessionAttrs `json:"attrs,omitempty"`
}

// SessionAttrs are the immutable session attributes.
type SessionAttrs struct {
	Release     string `json:"release,omitempty"`
	Environment string `json:"environment,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
}

// SentryRequest is a single serialized payload ready for transmission.
type SentryRequest struct {
	URL  string
	Type RequestType
	Body []byte
}
