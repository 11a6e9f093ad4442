package sentry_transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRPCTimeout = 30 * time.Second

	// waiting outlives the HTTP client timeout so a timed out request is
	// reported as a network error
	rpcWaitMargin = time.Second
)

// SentryEvent is a payload submitted over RPC. Payload is the JSON encoded
// Event or Session, selected by Type.
type SentryEvent struct {
	ID      string `json:"event_id"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// SendResult represents the result of a send operation
type SendResult struct {
	Success   bool   `json:"success"`
	EventID   string `json:"event_id"`
	Status    Status `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	RateLimit bool   `json:"rate_limit,omitempty"`
}

// RPC provides RPC methods for PHP communication
type RPC struct {
	plugin *Plugin
	logger *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(plugin *Plugin, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPC{
		plugin: plugin,
		logger: logger,
	}
}

// SendEvent sends a single event or session and waits for the outcome
func (r *RPC) SendEvent(event *SentryEvent, result *SendResult) error {
	r.logger.Debug("received single event via RPC",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type))

	*result = *r.send(event)
	return nil
}

// SendSession sends a session update regardless of the declared type
func (r *RPC) SendSession(event *SentryEvent, result *SendResult) error {
	r.logger.Debug("received session via RPC", zap.String("sid", event.ID))

	session := *event
	session.Type = string(RequestTypeSession)

	*result = *r.send(&session)
	return nil
}

// SendBatch sends events concurrently. Each event gets its own result, a
// failing event does not abort the rest.
func (r *RPC) SendBatch(events []*SentryEvent, result *[]*SendResult) error {
	if len(events) == 0 {
		*result = []*SendResult{}
		return nil
	}

	r.logger.Debug("received batch of events via RPC", zap.Int("count", len(events)))

	results := make([]*SendResult, len(events))

	var g errgroup.Group
	for i, event := range events {
		i, event := i, event
		g.Go(func() error {
			results[i] = r.send(event)
			return nil
		})
	}
	_ = g.Wait()

	*result = results
	return nil
}

// Status reports the in-flight count and the rate limit table
func (r *RPC) Status(_ bool, status *TransportStatus) error {
	*status = *r.plugin.Status()
	return nil
}

func (r *RPC) send(event *SentryEvent) *SendResult {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout())
	defer cancel()

	var (
		resp *Response
		err  error
	)

	switch RequestType(event.Type) {
	case RequestTypeSession:
		session := &Session{}
		if err = json.Unmarshal([]byte(event.Payload), session); err == nil {
			resp, err = r.plugin.SendSession(ctx, session)
		}
	case RequestTypeEvent, RequestTypeTransaction, "":
		e := &Event{}
		if err = json.Unmarshal([]byte(event.Payload), e); err == nil {
			if e.EventID == "" {
				e.EventID = event.ID
			}
			if e.Type == "" && event.Type == string(RequestTypeTransaction) {
				e.Type = event.Type
			}
			resp, err = r.plugin.SendEvent(ctx, e)
		}
	default:
		err = fmt.Errorf("unsupported payload type %q", event.Type)
	}

	if err != nil {
		r.logger.Error("failed to send event",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err))

		res := &SendResult{
			EventID:   event.ID,
			Error:     err.Error(),
			RateLimit: IsRateLimited(err),
		}
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			res.Status = serverErr.Status
		}
		return res
	}

	return &SendResult{
		Success: true,
		EventID: event.ID,
		Status:  resp.Status,
	}
}

func (r *RPC) timeout() time.Duration {
	if r.plugin.config != nil && r.plugin.config.Transport.Timeout > 0 {
		return r.plugin.config.Transport.Timeout + rpcWaitMargin
	}
	return defaultRPCTimeout + rpcWaitMargin
}
