package sentry_transport

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// dsnFor builds a DSN pointing at a test server.
func dsnFor(t *testing.T, serverURL string) string {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)

	return u.Scheme + "://public@" + u.Host + "/42"
}

func testTransportConfig() *TransportConfig {
	return &TransportConfig{
		Timeout:        5 * time.Second,
		ConnectTimeout: time.Second,
		BufferSize:     DefaultBufferSize,
	}
}

func newTestTransport(t *testing.T, serverURL string, opts ...TransportOption) *HTTPTransport {
	t.Helper()
	return newTestTransportWithConfig(t, testTransportConfig(), serverURL, opts...)
}

func newTestTransportWithConfig(t *testing.T, cfg *TransportConfig, serverURL string, opts ...TransportOption) *HTTPTransport {
	t.Helper()

	tr, err := NewHTTPTransport(cfg, dsnFor(t, serverURL), zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close(time.Second) })

	return tr
}

func okResponse(r *http.Request, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       http.NoBody,
		Request:    r,
	}
}

func fixedClock(now *time.Time) func() time.Time {
	return func() time.Time { return *now }
}

// envelopeLines splits an envelope into header, item header and payload. It
// is called from handler goroutines, so it must not stop the test.
func envelopeLines(t *testing.T, body []byte) []string {
	t.Helper()

	lines := strings.SplitN(string(body), "\n", 3)
	if !assert.Len(t, lines, 3) {
		return []string{"{}", "{}", "{}"}
	}
	return lines
}
