// Package client runs the VoltMap client: one event loop that owns the navigation machine,
// the map state and the scan session, fed by user actions and by the geolocation and
// code-scan collaborators.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltmap/voltmap/internal/directions"
	"github.com/voltmap/voltmap/internal/geolocation"
	"github.com/voltmap/voltmap/internal/mapview"
	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/render"
	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/scan"
	"github.com/voltmap/voltmap/internal/station"
)

// Sentinel errors for client operations.
var (
	// ErrClosed is returned when the event loop is not running.
	ErrClosed = errors.New("client is not running")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("client is already running")
	// ErrScannerNotOpen is returned when a payload arrives outside the scanner.
	ErrScannerNotOpen = errors.New("scanner is not open")
	// ErrNoStationSelected is returned when directions are requested outside the details view.
	ErrNoStationSelected = errors.New("no station selected")
)

// Catalog is the validated station set.
type Catalog interface {
	Refresh(ctx context.Context) error
	Stations() []*station.Station
	Get(id string) (*station.Station, error)
}

// Metrics receives client events. *telemetry.ClientMetrics implements it.
type Metrics interface {
	RecordTransition(ctx context.Context, event, from, to string)
	RecordScan(ctx context.Context, outcome string)
	RecordDirections(ctx context.Context, opened bool)
	RecordLocation(ctx context.Context, source string)
}

// Config holds configuration for the client.
type Config struct {
	// Catalog provides validated stations.
	Catalog Catalog

	// Locator resolves the device position once at startup.
	Locator geolocation.Locator

	// Capture is the code-scan pipeline started on entering the scanner.
	Capture scan.Capture

	// Guard builds directions links.
	Guard *directions.Guard

	// Opener opens directions links.
	Opener directions.Opener

	// Machine is the navigation machine. A default one is created when nil.
	Machine *navigation.Machine

	// Map configures the map controller.
	Map mapview.Config

	// RefreshInterval re-fetches the station feed periodically. Zero disables it.
	RefreshInterval time.Duration

	// Logger for client events.
	Logger zerolog.Logger

	// Metrics records client events. Optional.
	Metrics Metrics
}

type event struct {
	name  string
	apply func()
	done  chan struct{}
}

// Client is the single-threaded coordinator. All state lives on the goroutine running Run;
// every exported method posts an event to it and waits for the event to complete.
type Client struct {
	catalog         Catalog
	locator         geolocation.Locator
	capture         scan.Capture
	guard           *directions.Guard
	opener          directions.Opener
	machine         *navigation.Machine
	mapCtl          *mapview.Controller
	refreshInterval time.Duration
	logger          zerolog.Logger
	metrics         Metrics

	scanSession scan.Session
	loopCtx     context.Context

	events  chan event
	stopped chan struct{}
	running atomic.Bool
	ready   atomic.Bool
	stop    sync.Once
}

// New creates a client. Run must be called before any other method returns.
func New(cfg Config) (*Client, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("client: catalog is required")
	}
	if cfg.Guard == nil {
		return nil, errors.New("client: directions guard is required")
	}

	machine := cfg.Machine
	if machine == nil {
		machine = navigation.NewMachine(navigation.Config{Logger: cfg.Logger})
	}
	opener := cfg.Opener
	if opener == nil {
		opener = &directions.RecordingOpener{}
	}
	capture := cfg.Capture
	if capture == nil {
		capture = scan.NewChannelCapture()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	cfg.Map.Logger = cfg.Logger.With().Str("component", "map").Logger()

	return &Client{
		catalog:         cfg.Catalog,
		locator:         cfg.Locator,
		capture:         capture,
		guard:           cfg.Guard,
		opener:          opener,
		machine:         machine,
		mapCtl:          mapview.NewController(cfg.Map, cfg.Catalog, machine, machine),
		refreshInterval: cfg.RefreshInterval,
		logger:          cfg.Logger,
		metrics:         metrics,
		events:          make(chan event, 16),
		stopped:         make(chan struct{}),
	}, nil
}

// Ready reports whether the startup feed refresh has completed.
func (c *Client) Ready() bool { return c.ready.Load() }

// Run loads the station feed, issues the startup geolocation request and processes events
// until ctx is cancelled. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.shutdown()

	c.loopCtx = ctx

	if err := c.catalog.Refresh(ctx); err != nil {
		// Not fatal: the map renders with whatever the catalog holds.
		c.logger.Error().Err(err).Msg("initial station refresh failed")
	}
	c.ready.Store(true)

	if c.refreshInterval > 0 {
		go c.refreshLoop(ctx)
	}

	c.requestLocation(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			ev.apply()
			if ev.done != nil {
				close(ev.done)
			}
		}
	}
}

func (c *Client) shutdown() {
	c.scanSession.End()
	c.stop.Do(func() { close(c.stopped) })
}

func (c *Client) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.catalog.Refresh(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("station refresh failed, serving last snapshot")
			}
		}
	}
}

// requestLocation fires the one-shot geolocation request. The outcome is applied as an event.
func (c *Client) requestLocation(ctx context.Context) {
	attempt := c.mapCtl.BeginLocate()
	results := geolocation.Request(ctx, c.locator)

	go func() {
		res, ok := <-results
		if !ok {
			return
		}
		c.post(event{name: "location", apply: func() { c.applyLocation(attempt, res) }})
	}()
}

func (c *Client) applyLocation(attempt uint64, res geolocation.Result) {
	var applied bool
	if res.Err != nil {
		applied = c.mapCtl.OnLocationFailed(attempt, res.Err)
	} else {
		applied = c.mapCtl.OnLocationResolved(attempt, res.Position)
	}
	if applied {
		c.metrics.RecordLocation(c.loopCtx, string(c.mapCtl.Snapshot().LocationSource))
	}
}

// post enqueues an event without waiting for it. It gives up once the loop has stopped.
func (c *Client) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// do runs fn on the event loop and waits for it to finish.
func (c *Client) do(ctx context.Context, name string, fn func()) error {
	if !c.running.Load() {
		return ErrClosed
	}

	ev := event{name: name, apply: fn, done: make(chan struct{})}
	select {
	case c.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrClosed
	}

	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrClosed
	}
}

// afterTransition applies the side effects of a view change: metrics and the scan session.
func (c *Client) afterTransition(event string, tr navigation.Transition) {
	if !tr.Changed {
		return
	}
	c.metrics.RecordTransition(c.loopCtx, event, string(tr.From.Kind()), string(tr.To.Kind()))

	if tr.LeftScanner() {
		c.scanSession.End()
	}
	if tr.EnteredScanner() {
		if _, err := c.scanSession.Begin(c.loopCtx, c.capture, c.deliverScan); err != nil {
			c.logger.Warn().Err(err).Msg("code capture unavailable")
		}
	}
}

// deliverScan is called by the scan session goroutine for each decoded payload.
func (c *Client) deliverScan(gen uint64, payload string) {
	c.post(event{name: "scan", apply: func() { _ = c.applyScan(c.loopCtx, gen, payload) }})
}

func (c *Client) applyScan(ctx context.Context, gen uint64, payload string) error {
	if gen != c.scanSession.Generation() || c.machine.View().Kind() != navigation.KindScanner {
		c.logger.Debug().Uint64("generation", gen).Msg("dropping payload from closed scanner")
		c.metrics.RecordScan(ctx, "stale")
		return ErrScannerNotOpen
	}

	tr, err := c.machine.ScanResult(ctx, payload)
	if err != nil {
		c.metrics.RecordScan(ctx, "rejected")
		return err
	}
	c.metrics.RecordScan(ctx, "accepted")
	c.afterTransition("scan_result", tr)
	return nil
}

// Select opens the details of the station with the given ID.
func (c *Client) Select(ctx context.Context, id string) error {
	var opErr error
	err := c.do(ctx, "select", func() {
		st, err := c.catalog.Get(id)
		if err != nil {
			opErr = err
			return
		}
		c.afterTransition("select", c.mapCtl.OnStationCardActivated(st))
	})
	if err != nil {
		return err
	}
	return opErr
}

// StartCharging opens the scanner for the selected station when it is available.
func (c *Client) StartCharging(ctx context.Context) error {
	return c.do(ctx, "start_charging", func() {
		c.afterTransition("start_charging", c.machine.StartCharging())
	})
}

// Back returns to the previous view.
func (c *Client) Back(ctx context.Context) error {
	return c.do(ctx, "back", func() {
		c.afterTransition("back", c.machine.Back())
	})
}

// NavigateTo switches views from the bottom navigation.
func (c *Client) NavigateTo(ctx context.Context, kind navigation.Kind) error {
	return c.do(ctx, "navigate", func() {
		c.afterTransition("navigate", c.machine.NavigateTo(kind))
	})
}

// Search sets the map search query.
func (c *Client) Search(ctx context.Context, query string) error {
	return c.do(ctx, "search", func() {
		c.mapCtl.SetSearchQuery(query)
	})
}

// SubmitScan hands a decoded payload to the open scanner, as the capture pipeline would.
func (c *Client) SubmitScan(ctx context.Context, payload string) error {
	var opErr error
	err := c.do(ctx, "scan", func() {
		opErr = c.applyScan(ctx, c.scanSession.Generation(), payload)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Directions opens a directions link to the selected station.
// Coordinates the guard rejects open nothing and return directions.ErrInvalidCoordinate.
func (c *Client) Directions(ctx context.Context) (*url.URL, error) {
	var (
		target *url.URL
		opErr  error
	)
	err := c.do(ctx, "directions", func() {
		details, ok := c.machine.View().(navigation.DetailsView)
		if !ok || details.Station == nil {
			opErr = ErrNoStationSelected
			return
		}

		loc := details.Station.Location()
		target, opErr = c.guard.Open(ctx, c.opener, loc.Lat, loc.Lng)
		c.metrics.RecordDirections(ctx, opErr == nil)
		if opErr != nil {
			c.logger.Info().Err(opErr).Str("station_id", details.Station.ID()).Msg("directions not opened")
		}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, fmt.Errorf("error building directions: %w", opErr)
	}
	return target, nil
}

// Render builds the current view tree.
func (c *Client) Render(ctx context.Context) (render.Tree, error) {
	var tree render.Tree
	err := c.do(ctx, "render", func() {
		tree = render.Build(render.Input{
			View:     c.machine.View(),
			Map:      c.mapCtl.Snapshot(),
			Markers:  c.mapCtl.Markers(),
			Stations: c.mapCtl.Filtered(),
			Session:  c.machine.Session(),
			Guard:    c.guard,
		})
	})
	return tree, err
}

// View returns the active view.
func (c *Client) View(ctx context.Context) (navigation.View, error) {
	var view navigation.View
	err := c.do(ctx, "view", func() { view = c.machine.View() })
	return view, err
}

// MapState returns the map state.
func (c *Client) MapState(ctx context.Context) (mapview.State, error) {
	var state mapview.State
	err := c.do(ctx, "map_state", func() { state = c.mapCtl.Snapshot() })
	return state, err
}

// Session returns the charging session state.
func (c *Client) Session(ctx context.Context) (navigation.Session, error) {
	var session navigation.Session
	err := c.do(ctx, "session", func() { session = c.machine.Session() })
	return session, err
}

// Stations lists validated stations matching query without changing the map search,
// ordered as the map list orders them.
func (c *Client) Stations(ctx context.Context, query string) ([]*station.Station, error) {
	var out []*station.Station
	err := c.do(ctx, "stations", func() {
		state := c.mapCtl.Snapshot()
		out = mapview.Filter(c.catalog.Stations(), sanitize.Text(query), state.UserLocation)
	})
	return out, err
}

// Station returns one validated station.
func (c *Client) Station(ctx context.Context, id string) (*station.Station, error) {
	// The catalog is safe for concurrent reads; no need to go through the loop.
	if !c.running.Load() {
		return nil, ErrClosed
	}
	return c.catalog.Get(id)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(context.Context, string, string, string) {}
func (noopMetrics) RecordScan(context.Context, string)                       {}
func (noopMetrics) RecordDirections(context.Context, bool)                   {}
func (noopMetrics) RecordLocation(context.Context, string)                   {}
