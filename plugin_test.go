package sentry_transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testConfigurer struct {
	has bool
	cfg Config
}

func (c *testConfigurer) UnmarshalKey(_ string, out interface{}) error {
	*out.(*Config) = c.cfg
	return nil
}

func (c *testConfigurer) Has(string) bool {
	return c.has
}

type testLogger struct {
	logger *zap.Logger
}

func (l *testLogger) NamedLogger(name string) *zap.Logger {
	return l.logger.Named(name)
}

func newObservedLogger() (*testLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &testLogger{logger: zap.New(core)}, logs
}

func TestPluginInitDisabled(t *testing.T) {
	log, _ := newObservedLogger()

	p := &Plugin{}
	err := p.Init(&testConfigurer{has: false}, log)
	assert.True(t, errors.Is(errors.Disabled, err))

	p = &Plugin{}
	err = p.Init(&testConfigurer{has: true, cfg: Config{Enabled: false, DSN: "https://abc@o1.ingest/1"}}, log)
	assert.True(t, errors.Is(errors.Disabled, err))
}

func TestPluginInitInvalidDSN(t *testing.T) {
	log, _ := newObservedLogger()

	p := &Plugin{}
	err := p.Init(&testConfigurer{has: true, cfg: Config{Enabled: true, DSN: "https://abc@o1.ingest"}}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project ID")
}

func TestPluginWithoutDSNIsDryRun(t *testing.T) {
	log, logs := newObservedLogger()

	p := &Plugin{}
	require.NoError(t, p.Init(&testConfigurer{has: true, cfg: Config{Enabled: true}}, log))
	p.Serve()

	resp, err := p.SendEvent(context.Background(), &Event{EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, resp.Status)

	resp, err = p.SendSession(context.Background(), &Session{SID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, resp.Status)

	assert.Equal(t, 1, logs.FilterMessage("dry-run: would send event").Len())
	assert.Equal(t, 1, logs.FilterMessage("dry-run: would send session").Len())
	assert.False(t, p.Status().DSNConfigured)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Stop(ctx))
}

func TestPluginSendAndStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRetryAfter, "120")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	log, logs := newObservedLogger()
	cfg := Config{
		Enabled:   true,
		DSN:       dsnFor(t, server.URL),
		Transport: TransportConfig{BufferSize: 5},
		Logging:   LoggingConfig{Level: "debug"},
	}

	p := &Plugin{}
	require.NoError(t, p.Init(&testConfigurer{has: true, cfg: cfg}, log))
	assert.Equal(t, PluginName, p.Name())
	p.Serve()

	resp, err := p.SendEvent(context.Background(), &Event{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 1, logs.FilterMessage("too many requests, backing off").Len())

	status := p.Status()
	assert.True(t, status.DSNConfigured)
	assert.Equal(t, 5, status.Limit)
	assert.Equal(t, 0, status.InFlight)
	assert.Contains(t, status.RateLimits, CategoryAll)

	_, err = p.SendSession(context.Background(), &Session{})
	assert.True(t, IsRateLimited(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Stop(ctx))
}

func TestPluginStopTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	log, _ := newObservedLogger()
	p := &Plugin{}
	require.NoError(t, p.Init(&testConfigurer{has: true, cfg: Config{Enabled: true, DSN: dsnFor(t, server.URL)}}, log))
	p.Serve()

	go func() {
		_, _ = p.SendEvent(context.Background(), &Event{Message: "stuck"})
	}()
	require.Eventually(t, func() bool { return p.Status().InFlight == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Stop(ctx))
}

func TestPluginNotInitialized(t *testing.T) {
	p := &Plugin{}

	_, err := p.SendEvent(context.Background(), &Event{})
	assert.Error(t, err)

	_, err = p.SendSession(context.Background(), &Session{})
	assert.Error(t, err)

	assert.Error(t, <-p.Serve())
	assert.NoError(t, p.Stop(context.Background()))
}
