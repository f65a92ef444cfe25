package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/voltmap/voltmap/internal/api/models"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// Requests per window
	RequestLimit int
	// Window duration
	WindowLength time.Duration
}

// Default rate limit configurations.
var (
	// ReadRateLimit applies to view and station reads, which the shell polls (600 req/min).
	ReadRateLimit = RateLimitConfig{
		RequestLimit: 600,
		WindowLength: time.Minute,
	}

	// ActionRateLimit applies to user actions and scanner submissions (120 req/min).
	ActionRateLimit = RateLimitConfig{
		RequestLimit: 120,
		WindowLength: time.Minute,
	}
)

// PerMinute returns a one-minute window allowing limit requests.
func PerMinute(limit int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: limit, WindowLength: time.Minute}
}

// RateLimitByIP limits requests per client IP. Run chi's RealIP before it.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceeded(cfg.WindowLength)),
	)
}

func rateLimitExceeded(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path

		// httprate does not expose the reset time; the window length is an upper bound.
		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
