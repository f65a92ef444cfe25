package scan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmap/voltmap/internal/scan"
)

type delivery struct {
	gen     uint64
	payload string
}

type collector struct {
	mu  sync.Mutex
	got []delivery
}

func (c *collector) deliver(gen uint64, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, delivery{gen: gen, payload: payload})
}

func (c *collector) snapshot() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]delivery, len(c.got))
	copy(out, c.got)
	return out
}

type brokenCapture struct{}

func (brokenCapture) Start(context.Context) (<-chan string, error) { return nil, errors.New("no camera") }
func (brokenCapture) Stop()                                        {}

func TestSession_ForwardsWithGeneration(t *testing.T) {
	capture := scan.NewChannelCapture()
	sink := &collector{}
	var session scan.Session

	gen, err := session.Begin(context.Background(), capture, sink.deliver)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	assert.True(t, session.Active())
	assert.True(t, capture.Active())

	require.NoError(t, capture.Push("SESSION-OK"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []delivery{{gen: 1, payload: "SESSION-OK"}}, sink.snapshot())
}

func TestSession_EndStopsCaptureOnce(t *testing.T) {
	capture := scan.NewChannelCapture()
	var session scan.Session

	_, err := session.Begin(context.Background(), capture, func(uint64, string) {})
	require.NoError(t, err)

	session.End()
	session.End()

	assert.False(t, session.Active())
	assert.False(t, capture.Active())
	assert.Equal(t, 1, capture.Stops())
	assert.ErrorIs(t, capture.Push("late"), scan.ErrCaptureInactive)
}

func TestSession_BeginEndsPreviousVisit(t *testing.T) {
	capture := scan.NewChannelCapture()
	sink := &collector{}
	var session scan.Session

	first, err := session.Begin(context.Background(), capture, sink.deliver)
	require.NoError(t, err)
	second, err := session.Begin(context.Background(), capture, sink.deliver)
	require.NoError(t, err)

	assert.Greater(t, second, first)
	assert.Equal(t, second, session.Generation())
	assert.Equal(t, 2, capture.Starts())
	assert.Equal(t, 1, capture.Stops())

	require.NoError(t, capture.Push("p"))
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, second, sink.snapshot()[0].gen)
}

func TestSession_StartFailure(t *testing.T) {
	var session scan.Session

	_, err := session.Begin(context.Background(), brokenCapture{}, func(uint64, string) {})
	require.Error(t, err)
	assert.False(t, session.Active())

	session.End()
}

func TestChannelCapture(t *testing.T) {
	capture := scan.NewChannelCapture()

	assert.ErrorIs(t, capture.Push("x"), scan.ErrCaptureInactive)

	ch, err := capture.Start(context.Background())
	require.NoError(t, err)

	_, err = capture.Start(context.Background())
	assert.ErrorIs(t, err, scan.ErrCaptureActive)

	require.NoError(t, capture.Push("a"))
	assert.Equal(t, "a", <-ch)

	capture.Stop()
	_, open := <-ch
	assert.False(t, open)

	capture.Stop()
	assert.Equal(t, 1, capture.Stops())
}
