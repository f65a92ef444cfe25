// Package feed fetches station records from the remote station feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/voltmap/voltmap/internal/station"
	"github.com/voltmap/voltmap/internal/telemetry"
)

const tracerName = "github.com/voltmap/voltmap/internal/feed"

// ErrFeedUnavailable indicates the feed could not be fetched.
var ErrFeedUnavailable = errors.New("station feed unavailable")

// maxFeedBytes bounds the size of a feed document.
const maxFeedBytes = 8 << 20

// StatusError is a non-2xx response from the feed.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// DecodeError is a feed document that is not a station list.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// RequestRecorder receives per-request metrics.
type RequestRecorder interface {
	RecordFeedRequest(source string, duration time.Duration, err error)
}

// Config holds configuration for the HTTP station feed.
type Config struct {
	// URL of the feed document.
	URL string

	// Timeout is the per-request timeout.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the first retry delay.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval caps the retry delay.
	// Default: 5 seconds
	MaxInterval time.Duration

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig

	// HTTPClient overrides the client. Its Timeout is left alone when set.
	HTTPClient *http.Client

	// Logger for feed requests.
	Logger zerolog.Logger

	// Metrics records each request. Optional.
	Metrics RequestRecorder
}

// HTTPSource is a station.Source backed by a JSON document served over HTTP.
// Requests go through a circuit breaker; 5xx and network errors are retried with
// exponential backoff, 4xx and malformed documents are not.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]station.RawRecord]
	cfg        Config
	logger     zerolog.Logger
	metrics    RequestRecorder
}

var _ station.Source = (*HTTPSource)(nil)

// NewHTTPSource creates a feed source. The URL must be absolute http or https.
func NewHTTPSource(cfg Config) (*HTTPSource, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error parsing feed url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("feed url must be absolute http(s), got %q", cfg.URL)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPSource{
		url:        u.String(),
		httpClient: httpClient,
		breaker:    newBreaker[[]station.RawRecord]("station-feed", cfg.Breaker),
		cfg:        cfg,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Name returns "http".
func (s *HTTPSource) Name() string { return "http" }

// BreakerState returns the circuit breaker state.
func (s *HTTPSource) BreakerState() gobreaker.State { return s.breaker.State() }

// Fetch downloads and decodes the feed.
// Every failure wraps ErrFeedUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context) ([]station.RawRecord, error) {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "feed.fetch")
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialInterval
	bo.MaxInterval = s.cfg.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx)

	var records []station.RawRecord
	attempt := 0

	operation := func() error {
		attempt++
		recs, err := s.breaker.Execute(func() ([]station.RawRecord, error) {
			return s.fetchOnce(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("station feed request failed, retrying")
			return err
		}
		records = recs
		return nil
	}

	err := backoff.Retry(operation, policy)
	span.SetAttributes(
		attribute.Int("feed.attempts", attempt),
		attribute.String("feed.breaker_state", s.breaker.State().String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feed unavailable")
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	span.SetAttributes(attribute.Int("feed.records", len(records)))
	return records, nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context) (recs []station.RawRecord, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordFeedRequest(s.Name(), time.Since(start), err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error requesting feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	recs, err = station.ParseFeed(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	s.logger.Debug().
		Int("records", len(recs)).
		Dur("duration", time.Since(start)).
		Msg("station feed fetched")
	return recs, nil
}

// retryable reports whether a failed attempt may succeed on retry.
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	var decodeErr *DecodeError
	return !errors.As(err, &decodeErr)
}
