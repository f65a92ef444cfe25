// Package geolocation adapts position sources to a one-shot result contract.
package geolocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/voltmap/voltmap/internal/station"
)

// ErrLocationUnavailable indicates the position could not be determined.
var ErrLocationUnavailable = errors.New("location unavailable")

// Locator resolves the current device position.
type Locator interface {
	Locate(ctx context.Context) (station.Coordinate, error)
}

// Result is the single outcome of a position request. Exactly one of Position or Err is set.
type Result struct {
	Position station.Coordinate
	Err      error
}

// Request asks locator for a position without blocking the caller.
// Exactly one Result is delivered on the returned channel, after which it is closed.
// A panicking locator or an invalid coordinate yields ErrLocationUnavailable.
func Request(ctx context.Context, locator Locator) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)
		out <- locate(ctx, locator)
	}()

	return out
}

func locate(ctx context.Context, locator Locator) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: locator panicked: %v", ErrLocationUnavailable, r)}
		}
	}()

	if locator == nil {
		return Result{Err: fmt.Errorf("%w: no locator configured", ErrLocationUnavailable)}
	}

	pos, err := locator.Locate(ctx)
	if err != nil {
		if !errors.Is(err, ErrLocationUnavailable) {
			err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
		}
		return Result{Err: err}
	}
	if !pos.Valid() {
		return Result{Err: fmt.Errorf("%w: invalid position %v,%v", ErrLocationUnavailable, pos.Lat, pos.Lng)}
	}
	return Result{Position: pos}
}

// StaticLocator always reports the same position.
type StaticLocator struct {
	Position station.Coordinate
}

// Locate returns the fixed position.
func (l StaticLocator) Locate(ctx context.Context) (station.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return station.Coordinate{}, err
	}
	return l.Position, nil
}

// FailingLocator always fails, as a device without location permission does.
type FailingLocator struct {
	Reason string
}

// Locate returns ErrLocationUnavailable.
func (l FailingLocator) Locate(context.Context) (station.Coordinate, error) {
	reason := l.Reason
	if reason == "" {
		reason = "permission denied"
	}
	return station.Coordinate{}, fmt.Errorf("%w: %s", ErrLocationUnavailable, reason)
}
