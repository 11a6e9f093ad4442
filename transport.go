package sentry_transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	userAgent = "sentry-transport-rr/1.0.0"

	// responses are short; read at most this much so keep-alive still works
	maxDrainResponseBytes = 16 << 10
)

// Transport delivers events and sessions. Every failure is returned to the
// caller, nothing is retried internally.
type Transport interface {
	SendEvent(ctx context.Context, event *Event) (*Response, error)
	SendSession(ctx context.Context, session *Session) (*Response, error)
	// Close waits up to timeout for in-flight requests and reports whether
	// everything was delivered in time. A non-positive timeout waits forever.
	Close(timeout time.Duration) bool
}

// HTTPTransport handles HTTP communication with Sentry
type HTTPTransport struct {
	config      *TransportConfig
	api         *API
	client      *http.Client
	builder     RequestBuilder
	buffer      *RequestBuffer
	rateLimiter *RateLimiter
	metrics     *metricsCollector
	logger      *zap.Logger
}

// TransportOption overrides parts of an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		t.client = client
	}
}

// WithRoundTripper keeps the configured client but swaps its transport.
func WithRoundTripper(rt http.RoundTripper) TransportOption {
	return func(t *HTTPTransport) {
		t.client.Transport = rt
	}
}

// WithRequestBuilder replaces how payloads are serialized.
func WithRequestBuilder(builder RequestBuilder) TransportOption {
	return func(t *HTTPTransport) {
		t.builder = builder
	}
}

// WithRateLimiter shares or injects a rate limiter.
func WithRateLimiter(rl *RateLimiter) TransportOption {
	return func(t *HTTPTransport) {
		t.rateLimiter = rl
	}
}

func withMetrics(mc *metricsCollector) TransportOption {
	return func(t *HTTPTransport) {
		t.metrics = mc
	}
}

// NewHTTPTransport creates a new HTTP transport. Zero fields of config take
// their defaults; config itself is not modified and may be nil.
func NewHTTPTransport(config *TransportConfig, dsnStr string, logger *zap.Logger, opts ...TransportOption) (*HTTPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := TransportConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.InitDefaults()
	config = &cfg

	dsn, err := ParseDSN(dsnStr)
	if err != nil {
		return nil, err
	}
	api, err := NewAPI(dsn, config.Endpoint)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify, //nolint:gosec
		},
	}

	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			cfgErr := newConfigurationError("transport_proxy", "invalid proxy URL %q", config.Proxy)
			cfgErr.Err = err
			return nil, cfgErr
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	t := &HTTPTransport{
		config: config,
		api:    api,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		builder: NewRequestBuilder(api),
		buffer:  NewRequestBuffer(config.BufferSize),
		logger:  logger,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.rateLimiter == nil {
		t.rateLimiter = NewRateLimiter(logger)
	}
	if t.metrics != nil {
		t.metrics.inFlight = t.buffer.Len
	}

	return t, nil
}

// SendEvent delivers a single event.
func (t *HTTPTransport) SendEvent(ctx context.Context, event *Event) (*Response, error) {
	req, err := t.builder.EventRequest(event)
	if err != nil {
		return nil, fmt.Errorf("failed to build event request: %w", err)
	}

	return t.sendRequest(ctx, req, event)
}

// SendSession delivers a single session update.
func (t *HTTPTransport) SendSession(ctx context.Context, session *Session) (*Response, error) {
	req, err := t.builder.SessionRequest(session)
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}

	return t.sendRequest(ctx, req, session)
}

// sendRequest checks the rate limit before admitting the request into the
// buffer, so locally rejected requests never hold a slot.
func (t *HTTPTransport) sendRequest(ctx context.Context, req *SentryRequest, payload any) (*Response, error) {
	if t.rateLimiter.IsRateLimited(string(req.Type)) {
		disabledUntil := t.rateLimiter.DisabledUntil(string(req.Type))
		t.metrics.IncRateLimitedEvents(req.Type)
		t.logger.Debug("request rate limited",
			zap.String("type", string(req.Type)),
			zap.Time("disabled_until", disabledUntil))

		return nil, newRateLimitedError(payload, req.Type, disabledUntil)
	}

	pending, err := t.buffer.Add(func() (*Response, error) {
		return t.do(req)
	})
	if err != nil {
		t.metrics.IncDroppedEvents(req.Type)
		t.logger.Warn("request buffer is full, dropping request",
			zap.String("type", string(req.Type)),
			zap.Int("limit", t.buffer.Limit()))

		return nil, err
	}

	return pending.Wait(ctx)
}

// do performs the POST. It is not bound to the caller's context: once
// admitted, a request runs to completion or until the client timeout.
func (t *HTTPTransport) do(req *SentryRequest) (*Response, error) {
	httpReq, err := t.createRequest(req)
	if err != nil {
		t.metrics.IncNetworkErrors(req.Type)
		return nil, newNetworkError(err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.metrics.IncNetworkErrors(req.Type)
		t.logger.Error("HTTP request failed",
			zap.String("type", string(req.Type)),
			zap.Error(err))

		return nil, newNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDrainResponseBytes))
	if err != nil {
		t.metrics.IncNetworkErrors(req.Type)
		t.logger.Error("failed to read response body",
			zap.String("type", string(req.Type)),
			zap.Error(err))

		return nil, newNetworkError(err)
	}

	status := StatusFromHTTPCode(resp.StatusCode)

	if t.rateLimiter.HandleRateLimitHeaders(resp.Header) {
		t.logger.Warn("too many requests, backing off",
			zap.String("type", string(req.Type)),
			zap.Time("disabled_until", t.rateLimiter.DisabledUntil(string(req.Type))))
	}

	if status == StatusSuccess {
		t.metrics.IncSuccessfulEvents(req.Type)
		t.logger.Debug("request sent successfully",
			zap.String("type", string(req.Type)),
			zap.Int("status_code", resp.StatusCode))

		return &Response{Status: status}, nil
	}

	detail := resp.Header.Get("X-Sentry-Error")
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	t.metrics.IncFailedEvents(req.Type)
	t.logger.Error("request rejected by server",
		zap.String("type", string(req.Type)),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", string(status)),
		zap.String("response", detail))

	return nil, newServerError(resp.StatusCode, detail)
}

// createRequest creates an HTTP request for the payload
func (t *HTTPTransport) createRequest(req *SentryRequest) (*http.Request, error) {
	body := req.Body
	if t.config.Compression {
		compressed, err := gzipBody(body)
		if err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		body = compressed
	}

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	contentType := "application/x-sentry-envelope"
	if req.Type == RequestTypeEvent {
		contentType = "application/json"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", userAgent)
	if t.config.Compression {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}

	return httpReq, nil
}

// Close drains in-flight requests and releases idle connections.
func (t *HTTPTransport) Close(timeout time.Duration) bool {
	drained := t.buffer.Drain(timeout)
	t.client.CloseIdleConnections()

	return drained
}

// RateLimiter returns the rate limiter
func (t *HTTPTransport) RateLimiter() *RateLimiter {
	return t.rateLimiter
}

// Buffer returns the request buffer
func (t *HTTPTransport) Buffer() *RequestBuffer {
	return t.buffer
}

// API returns the endpoint resolver
func (t *HTTPTransport) API() *API {
	return t.api
}
