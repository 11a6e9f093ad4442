package sentry_transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roadrunner-server/endure/v2/dep"
	"github.com/roadrunner-server/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Plugin represents the main plugin structure. It owns the transport for the
// lifetime of the process: Init builds it, Stop drains it.
type Plugin struct {
	config    *Config
	logger    *zap.Logger
	transport Transport
	metrics   *metricsCollector

	// Lifecycle
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	serving  atomic.Bool
}

// Configurer interface for config plugin
type Configurer interface {
	UnmarshalKey(name string, out interface{}) error
	Has(name string) bool
}

// Logger interface for logger plugin
type Logger interface {
	NamedLogger(name string) *zap.Logger
}

// SentryTransporter interface for other plugins to use
type SentryTransporter interface {
	SendEvent(ctx context.Context, event *Event) (*Response, error)
	SendSession(ctx context.Context, session *Session) (*Response, error)
	Status() *TransportStatus
}

// TransportStatus is a point-in-time view of the delivery state.
type TransportStatus struct {
	DSNConfigured bool                 `json:"dsn_configured"`
	InFlight      int                  `json:"in_flight"`
	Limit         int                  `json:"limit"`
	RateLimits    map[string]time.Time `json:"rate_limits"`
}

// Init initializes the plugin
func (p *Plugin) Init(cfg Configurer, log Logger) error {
	const op = errors.Op("sentry_transport_init")

	// Check if configuration section exists
	if !cfg.Has(PluginName) {
		return errors.E(op, errors.Disabled)
	}

	config := &Config{}
	if err := cfg.UnmarshalKey(PluginName, config); err != nil {
		return errors.E(op, err)
	}

	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return errors.E(op, err)
	}

	if !config.Enabled {
		return errors.E(op, errors.Disabled)
	}

	p.config = config
	p.logger = withLevel(log.NamedLogger(PluginName), config.Logging.Level)
	p.metrics = newMetricsCollector()

	if config.DSN != "" {
		transport, err := NewHTTPTransport(&config.Transport, config.DSN, p.logger, withMetrics(p.metrics))
		if err != nil {
			return errors.E(op, err)
		}
		p.transport = transport
	} else {
		p.logger.Warn("no DSN configured, events will be logged but not transmitted")
		p.transport = NewNoopTransport(p.logger)
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("sentry transport plugin initialized",
		zap.Bool("dsn_configured", config.DSN != ""),
		zap.Int("buffer_size", config.Transport.BufferSize),
		zap.Bool("compression", config.Transport.Compression))

	return nil
}

// withLevel raises the minimum level of l; unknown levels leave it untouched.
func withLevel(l *zap.Logger, level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return l
	}
	return l.WithOptions(zap.IncreaseLevel(lvl))
}

// Serve starts the plugin
func (p *Plugin) Serve() chan error {
	errCh := make(chan error, 1)

	if p.config == nil {
		errCh <- errors.E(errors.Op("sentry_transport_serve"), errors.Str("plugin not initialized"))
		return errCh
	}

	p.serving.Store(true)
	go func() {
		defer close(p.doneCh)

		p.logger.Info("sentry transport plugin started")
		<-p.stopCh
		p.logger.Info("sentry transport plugin stopped")
	}()

	return errCh
}

// Stop drains in-flight requests, using the context deadline as the budget.
func (p *Plugin) Stop(ctx context.Context) error {
	const op = errors.Op("sentry_transport_stop")

	if p.transport == nil {
		return nil
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			timeout = time.Nanosecond
		}
	}

	var errs error
	if !p.transport.Close(timeout) {
		p.logger.Warn("sentry transport stopped before all requests were delivered")
		errs = multierr.Append(errs, errors.E(op, errors.Str("in-flight requests were not drained")))
	}

	p.stopOnce.Do(func() {
		close(p.stopCh)
	})

	if p.serving.Load() {
		select {
		case <-p.doneCh:
		case <-ctx.Done():
			errs = multierr.Append(errs, errors.E(op, ctx.Err()))
		}
	}

	return errs
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return PluginName
}

// RPC returns the RPC interface
func (p *Plugin) RPC() interface{} {
	return NewRPC(p, p.logger)
}

// MetricsCollector exposes the plugin metrics to the metrics plugin
func (p *Plugin) MetricsCollector() []prometheus.Collector {
	return []prometheus.Collector{p.metrics}
}

// Provides returns the dependencies this plugin provides
func (p *Plugin) Provides() []*dep.Out {
	return []*dep.Out{
		dep.Bind((*SentryTransporter)(nil), p.Transporter),
	}
}

// Transporter returns the transport interface
func (p *Plugin) Transporter() SentryTransporter {
	return p
}

// SendEvent implements SentryTransporter interface
func (p *Plugin) SendEvent(ctx context.Context, event *Event) (*Response, error) {
	if p.transport == nil {
		return nil, errors.E(errors.Op("sentry_transport_send_event"), errors.Str("plugin not initialized"))
	}

	return p.transport.SendEvent(ctx, event)
}

// SendSession implements SentryTransporter interface
func (p *Plugin) SendSession(ctx context.Context, session *Session) (*Response, error) {
	if p.transport == nil {
		return nil, errors.E(errors.Op("sentry_transport_send_session"), errors.Str("plugin not initialized"))
	}

	return p.transport.SendSession(ctx, session)
}

// Status implements SentryTransporter interface
func (p *Plugin) Status() *TransportStatus {
	status := &TransportStatus{RateLimits: map[string]time.Time{}}

	ht, ok := p.transport.(*HTTPTransport)
	if !ok {
		return status
	}

	status.DSNConfigured = true
	status.InFlight = ht.Buffer().Len()
	status.Limit = ht.Buffer().Limit()
	status.RateLimits = ht.RateLimiter().Snapshot()

	return status
}

// NoopTransport is used when no DSN is configured
type NoopTransport struct {
	logger *zap.Logger
}

// NewNoopTransport creates a transport that only logs
func NewNoopTransport(logger *zap.Logger) *NoopTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopTransport{logger: logger}
}

// SendEvent implements Transport interface
func (n *NoopTransport) SendEvent(_ context.Context, event *Event) (*Response, error) {
	n.logger.Info("dry-run: would send event",
		zap.String("event_id", event.EventID),
		zap.String("type", event.Type))

	return &Response{Status: StatusSkipped}, nil
}

// SendSession implements Transport interface
func (n *NoopTransport) SendSession(_ context.Context, session *Session) (*Response, error) {
	n.logger.Info("dry-run: would send session",
		zap.String("sid", session.SID),
		zap.String("status", string(session.Status)))

	return &Response{Status: StatusSkipped}, nil
}

// Close implements Transport interface
func (n *NoopTransport) Close(time.Duration) bool {
	return true
}
