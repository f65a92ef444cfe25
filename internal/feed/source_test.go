package feed_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmap/voltmap/internal/feed"
	"github.com/voltmap/voltmap/internal/station"
)

const feedDoc = `{"stations":[
	{"id":"1","name":"Downtown Plaza","address":"100 Biscayne Blvd","lat":25.7617,"lng":-80.1918,
	 "available":3,"total":4,"cost":0.35,"amenities":["WiFi"],"status":"available"},
	{"id":"2","name":"Bad","address":"x","lat":"north","lng":0,"available":0,"total":0,"cost":0,
	 "amenities":[],"status":"busy"}
]}`

type requestLog struct {
	mu    sync.Mutex
	calls int
	errs  int
}

func (r *requestLog) RecordFeedRequest(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err != nil {
		r.errs++
	}
}

func newSource(t *testing.T, url string, cfg feed.Config) *feed.HTTPSource {
	t.Helper()
	cfg.URL = url
	cfg.Logger = zerolog.New(io.Discard)
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	src, err := feed.NewHTTPSource(cfg)
	require.NoError(t, err)
	return src
}

func TestNewHTTPSource_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com/feed", "/feed.json", "://bad"} {
		_, err := feed.NewHTTPSource(feed.Config{URL: u})
		assert.Error(t, err, u)
	}
}

func TestHTTPSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedDoc))
	}))
	defer server.Close()

	metrics := &requestLog{}
	src := newSource(t, server.URL, feed.Config{Metrics: metrics})

	raws, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)

	accepted, rejected := station.AcceptAll(raws)
	require.Len(t, accepted, 1)
	assert.Equal(t, "Downtown Plaza", accepted[0].Name())
	assert.Len(t, rejected, 1)

	assert.Equal(t, 1, metrics.calls)
	assert.Equal(t, 0, metrics.errs)
	assert.Equal(t, "http", src.Name())
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feedDoc))
	}))
	defer server.Close()

	src := newSource(t, server.URL, feed.Config{MaxRetries: 3})

	raws, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, raws, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPSource_NoRetryOnClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus bool
	}{
		{"not found", http.StatusNotFound, "", true},
		{"malformed document", http.StatusOK, "<html>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			src := newSource(t, server.URL, feed.Config{})

			_, err := src.Fetch(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, feed.ErrFeedUnavailable)

			var statusErr *feed.StatusError
			var decodeErr *feed.DecodeError
			if tt.wantStatus {
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tt.status, statusErr.StatusCode)
			} else {
				assert.ErrorAs(t, err, &decodeErr)
			}
			assert.Equal(t, int32(1), hits.Load())
			assert.Equal(t, gobreaker.StateClosed, src.BreakerState())
		})
	}
}

func TestHTTPSource_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := newSource(t, server.URL, feed.Config{MaxRetries: 5})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrFeedUnavailable)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, gobreaker.StateOpen, src.BreakerState())
	assert.Equal(t, int32(3), hits.Load())

	// Open breaker fails fast without touching the server.
	_, err = src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPSource_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := newSource(t, server.URL, feed.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx)
	assert.ErrorIs(t, err, feed.ErrFeedUnavailable)
}

func TestHTTPSource_WithCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedDoc))
	}))
	defer server.Close()

	catalog := station.NewCatalog(station.CatalogConfig{
		Source: newSource(t, server.URL, feed.Config{}),
		Logger: zerolog.New(io.Discard),
	})
	require.NoError(t, catalog.Refresh(context.Background()))

	stations := catalog.Stations()
	require.Len(t, stations, 1)
	assert.Equal(t, "1", stations[0].ID())
}
