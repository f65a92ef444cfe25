package feed

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds configuration for the feed circuit breaker.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open (default: 1).
	MaxRequests uint32

	// Interval clears failure counts while closed. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing (default: 60 seconds).
	Timeout time.Duration

	// ReadyToTrip decides when to open (default: DefaultReadyToTrip).
	ReadyToTrip func(counts gobreaker.Counts) bool

	// OnStateChange is called on every state change.
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultReadyToTrip opens the breaker after 3 consecutive failed fetches.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	return counts.ConsecutiveFailures >= 3
}

func newBreaker[T any](name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[T] {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   cfg.ReadyToTrip,
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  breakerSuccess,
	})
}

// breakerSuccess counts client errors as successes: a 4xx or a malformed document says
// nothing about the feed being down.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < 500
	}
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
