// Package scan connects code-capture devices to the charging flow.
//
// A Capture produces decoded payloads until stopped. A Session tags every payload with the
// generation of the scanner visit it belongs to, so the coordinator can drop payloads that
// arrive after the visit ended.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for scan operations.
var (
	// ErrPayloadRejected indicates a decoded payload did not authorize a session.
	ErrPayloadRejected = errors.New("scan payload rejected")
	// ErrCaptureActive indicates Start was called on a capture that is already running.
	ErrCaptureActive = errors.New("capture already active")
	// ErrCaptureInactive indicates a payload was offered while no capture is running.
	ErrCaptureInactive = errors.New("capture not active")
)

// Capture is a camera-and-decoder pipeline.
// Start begins capturing and returns the stream of decoded payloads; Stop releases the camera.
type Capture interface {
	Start(ctx context.Context) (<-chan string, error)
	Stop()
}

// DeliverFunc receives a decoded payload tagged with its session generation.
type DeliverFunc func(gen uint64, payload string)

// Session drives one capture per scanner visit.
// It is not safe for concurrent use; the client calls it from its event loop only.
type Session struct {
	gen     uint64
	capture Capture
	cancel  context.CancelFunc
}

// Begin ends any running visit and starts capture for a new one.
// Payloads are forwarded to deliver with the new generation until End is called.
func (s *Session) Begin(ctx context.Context, capture Capture, deliver DeliverFunc) (uint64, error) {
	s.End()

	s.gen++
	gen := s.gen

	cctx, cancel := context.WithCancel(ctx)
	payloads, err := capture.Start(cctx)
	if err != nil {
		cancel()
		return gen, fmt.Errorf("error starting capture: %w", err)
	}
	s.capture = capture
	s.cancel = cancel

	go func() {
		for {
			select {
			case <-cctx.Done():
				return
			case payload, ok := <-payloads:
				if !ok {
					return
				}
				deliver(gen, payload)
			}
		}
	}()

	return gen, nil
}

// End stops the running capture. Calling it without a running capture does nothing.
func (s *Session) End() {
	if s.capture == nil {
		return
	}
	s.cancel()
	s.capture.Stop()
	s.capture = nil
	s.cancel = nil
}

// Generation returns the generation of the current or most recent visit.
func (s *Session) Generation() uint64 { return s.gen }

// Active reports whether a capture is running.
func (s *Session) Active() bool { return s.capture != nil }

var _ Capture = (*ChannelCapture)(nil)

// ChannelCapture is an in-memory capture fed through Push.
type ChannelCapture struct {
	mu     sync.Mutex
	out    chan string
	starts int
	stops  int
}

// NewChannelCapture creates an idle in-memory capture.
func NewChannelCapture() *ChannelCapture {
	return &ChannelCapture{}
}

// Start opens the payload stream.
func (c *ChannelCapture) Start(_ context.Context) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out != nil {
		return nil, ErrCaptureActive
	}
	c.out = make(chan string, 8)
	c.starts++
	return c.out, nil
}

// Stop closes the payload stream.
func (c *ChannelCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out == nil {
		return
	}
	close(c.out)
	c.out = nil
	c.stops++
}

// Push offers a decoded payload. It fails when the capture is stopped or its buffer is full.
func (c *ChannelCapture) Push(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out == nil {
		return ErrCaptureInactive
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return fmt.Errorf("capture buffer full")
	}
}

// Active reports whether the capture is running.
func (c *ChannelCapture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out != nil
}

// Stops returns how many times a running capture was stopped.
func (c *ChannelCapture) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Starts returns how many times the capture was started.
func (c *ChannelCapture) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}
