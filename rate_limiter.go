package sentry_transport

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// CategoryAll gates every request type when no category-specific entry exists.
	CategoryAll = "all"

	HeaderRateLimits = "X-Sentry-Rate-Limits"
	HeaderRetryAfter = "Retry-After"

	defaultRetryAfter = 60 * time.Second
)

// RateLimiter handles Sentry rate limiting based on response headers
type RateLimiter struct {
	mu         sync.RWMutex
	rateLimits map[string]time.Time // category -> disabled until time
	now        func() time.Time
	logger     *zap.Logger
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(logger *zap.Logger, opts ...RateLimiterOption) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	rl := &RateLimiter{
		rateLimits: make(map[string]time.Time),
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// IsRateLimited checks if the given category is currently rate limited
func (rl *RateLimiter) IsRateLimited(category string) bool {
	return rl.now().Before(rl.DisabledUntil(category))
}

// DisabledUntil returns the category's own expiry if one was ever set,
// otherwise the "all" expiry. The zero time means the category is open.
func (rl *RateLimiter) DisabledUntil(category string) time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if until, ok := rl.rateLimits[category]; ok {
		return until
	}
	return rl.rateLimits[CategoryAll]
}

// HandleRateLimitHeaders updates the table from a response. X-Sentry-Rate-Limits
// wins over Retry-After when both are present. It reports whether any
// limiting directive was found.
func (rl *RateLimiter) HandleRateLimitHeaders(headers http.Header) bool {
	limits := headerValue(headers, HeaderRateLimits)
	retryAfter := headerValue(headers, HeaderRetryAfter)
	if limits == "" && retryAfter == "" {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if limits != "" {
		rl.parseRateLimitHeader(limits, now)
		return true
	}

	rl.parseRetryAfterHeader(retryAfter, now)
	return true
}

// parseRateLimitHeader parses the X-Sentry-Rate-Limits header
// Format: "retry_after:categories[:scope[:reason_code]]", entries separated by commas
func (rl *RateLimiter) parseRateLimitHeader(header string, now time.Time) {
	for _, limit := range strings.Split(strings.TrimSpace(header), ",") {
		parts := strings.SplitN(strings.TrimSpace(limit), ":", 3)

		retryAfterSeconds, err := leadingInt(parts[0])
		if err != nil {
			rl.logger.Warn("failed to parse retry_after from rate limit header", zap.String("value", parts[0]))
			retryAfterSeconds = int(defaultRetryAfter / time.Second)
		}
		disabledUntil := now.Add(time.Duration(retryAfterSeconds) * time.Second)

		var categories string
		if len(parts) > 1 {
			categories = parts[1]
		}

		for _, category := range strings.Split(categories, ";") {
			category = strings.TrimSpace(category)
			if category == "" {
				category = CategoryAll
			}

			rl.rateLimits[category] = disabledUntil
			rl.logger.Debug("rate limit applied",
				zap.String("category", category),
				zap.Time("disabled_until", disabledUntil),
				zap.Int("retry_after_seconds", retryAfterSeconds))
		}
	}
}

// parseRetryAfterHeader parses the Retry-After header
func (rl *RateLimiter) parseRetryAfterHeader(header string, now time.Time) {
	disabledUntil := now.Add(parseRetryAfter(now, header))
	rl.rateLimits[CategoryAll] = disabledUntil
	rl.logger.Debug("global rate limit applied via Retry-After header",
		zap.String("header", header),
		zap.Time("disabled_until", disabledUntil))
}

// parseRetryAfter converts a Retry-After value (delay in seconds or an
// HTTP-date) into a delay relative to now. A date in the past yields a
// negative delay.
func parseRetryAfter(now time.Time, header string) time.Duration {
	header = strings.TrimSpace(header)

	if seconds, err := leadingInt(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if date, err := http.ParseTime(header); err == nil {
		return date.Sub(now)
	}

	return defaultRetryAfter
}

// leadingInt parses the integer prefix of s, so "1.5" and "30s" yield 1 and
// 30. It fails when s does not start with a digit.
func leadingInt(s string) (int, error) {
	s = strings.TrimSpace(s)

	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}

	return strconv.Atoi(s[:end])
}

// Snapshot returns a copy of the rate limit table.
func (rl *RateLimiter) Snapshot() map[string]time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	status := make(map[string]time.Time, len(rl.rateLimits))
	for category, disabledUntil := range rl.rateLimits {
		status[category] = disabledUntil
	}

	return status
}

// headerValue looks a header up case-insensitively, including keys that were
// stored without canonicalization.
func headerValue(headers http.Header, key string) string {
	if v := headers.Get(key); v != "" {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
