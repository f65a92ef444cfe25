// Package mapview owns the map center, the user location and the searchable station list.
package mapview

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tkrajina/gpxgo/gpx"

	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/station"
)

// DefaultFallback is downtown Miami, the region shown when the device position is unknown.
var DefaultFallback = station.Coordinate{Lat: 25.7617, Lng: -80.1918}

// DefaultZoom is the initial map zoom level.
const DefaultZoom = 13

// LocationSource records where the user location came from.
type LocationSource string

const (
	LocationUnknown  LocationSource = "unknown"
	LocationGPS      LocationSource = "gps"
	LocationFallback LocationSource = "fallback"
)

// Style is the marker style token handed to the map renderer.
type Style string

const (
	StyleAvailable Style = "marker-available"
	StyleBusy      Style = "marker-busy"
	StyleOffline   Style = "marker-offline"
)

// MarkerStyle maps a status to its marker style. Anything unrecognized renders as offline.
func MarkerStyle(s station.Status) Style {
	switch s {
	case station.StatusAvailable:
		return StyleAvailable
	case station.StatusBusy:
		return StyleBusy
	default:
		return StyleOffline
	}
}

// Marker is one station pin on the map.
type Marker struct {
	StationID string             `json:"station_id"`
	Position  station.Coordinate `json:"position"`
	Style     Style              `json:"style"`
	Popup     sanitize.Field     `json:"popup"`
}

// State is the map view state. Center is always a valid coordinate.
type State struct {
	Center         station.Coordinate  `json:"center"`
	UserLocation   *station.Coordinate `json:"user_location,omitempty"`
	LocationSource LocationSource      `json:"location_source"`
	SearchQuery    sanitize.Field      `json:"search_query"`
	Zoom           int                 `json:"zoom"`
}

// StationLister provides the validated station set.
type StationLister interface {
	Stations() []*station.Station
}

// Selector receives station selections.
type Selector interface {
	Select(st *station.Station) navigation.Transition
}

// Config holds configuration for the map controller.
type Config struct {
	// Fallback is the region used when geolocation fails (default: downtown Miami).
	Fallback station.Coordinate

	// Zoom is the initial zoom level (default: 13).
	Zoom int

	// Logger for location events.
	Logger zerolog.Logger
}

// Controller owns State. It is not safe for concurrent use; the client calls it from its event loop.
type Controller struct {
	fallback station.Coordinate
	logger   zerolog.Logger

	stations StationLister
	selector Selector
	session  navigation.SessionReader

	state       State
	nextAttempt uint64
	pending     map[uint64]struct{}
}

// NewController creates a controller centered on the fallback region.
func NewController(cfg Config, stations StationLister, selector Selector, session navigation.SessionReader) *Controller {
	fallback := cfg.Fallback
	if fallback == (station.Coordinate{}) || !fallback.Valid() {
		fallback = DefaultFallback
	}
	zoom := cfg.Zoom
	if zoom <= 0 {
		zoom = DefaultZoom
	}

	return &Controller{
		fallback: fallback,
		logger:   cfg.Logger,
		stations: stations,
		selector: selector,
		session:  session,
		state: State{
			Center:         fallback,
			LocationSource: LocationUnknown,
			Zoom:           zoom,
		},
		pending: make(map[uint64]struct{}),
	}
}

// BeginLocate opens a geolocation attempt and returns its id.
func (c *Controller) BeginLocate() uint64 {
	c.nextAttempt++
	c.pending[c.nextAttempt] = struct{}{}
	return c.nextAttempt
}

// OnLocationResolved applies a position fix for attempt.
// It reports false when the attempt already settled or was never opened.
// An invalid position is treated as a failure.
func (c *Controller) OnLocationResolved(attempt uint64, pos station.Coordinate) bool {
	if !c.settle(attempt, "resolved") {
		return false
	}
	if !pos.Valid() {
		c.logger.Warn().
			Float64("lat", pos.Lat).
			Float64("lng", pos.Lng).
			Msg("geolocation returned invalid position, using fallback")
		c.applyFallback()
		return true
	}

	c.state.UserLocation = &pos
	c.state.Center = pos
	c.state.LocationSource = LocationGPS
	return true
}

// OnLocationFailed applies a geolocation failure for attempt by falling back to the default region.
func (c *Controller) OnLocationFailed(attempt uint64, err error) bool {
	if !c.settle(attempt, "failed") {
		return false
	}
	c.logger.Info().Err(err).Msg("geolocation unavailable, using fallback region")
	c.applyFallback()
	return true
}

func (c *Controller) settle(attempt uint64, outcome string) bool {
	if _, ok := c.pending[attempt]; !ok {
		c.logger.Debug().
			Uint64("attempt", attempt).
			Str("outcome", outcome).
			Msg("ignoring stale geolocation callback")
		return false
	}
	delete(c.pending, attempt)
	return true
}

func (c *Controller) applyFallback() {
	fallback := c.fallback
	c.state.UserLocation = &fallback
	c.state.Center = fallback
	c.state.LocationSource = LocationFallback
}

// OnStationCardActivated forwards the selection and recenters on st when the selection was
// accepted and st can be plotted.
// A nil station is ignored.
func (c *Controller) OnStationCardActivated(st *station.Station) navigation.Transition {
	if st == nil {
		return navigation.Transition{}
	}
	tr := c.selector.Select(st)
	if tr.Changed && st.Plottable() {
		c.state.Center = st.Location()
	}
	return tr
}

// SetSearchQuery stores the sanitized query.
func (c *Controller) SetSearchQuery(text string) {
	c.state.SearchQuery = sanitize.Text(strings.TrimSpace(text))
}

// Filtered returns validated stations matching the search query, nearest first when the user
// location is known and by name otherwise.
func (c *Controller) Filtered() []*station.Station {
	return Filter(c.stations.Stations(), c.state.SearchQuery, c.state.UserLocation)
}

// Filter matches query against the plain name and address of each station, ignoring case.
// Matching never sees escape sequences, so "amp" does not match "&".
func Filter(stations []*station.Station, query sanitize.Field, from *station.Coordinate) []*station.Station {
	needle := sanitize.Fold(query)

	type entry struct {
		st   *station.Station
		name string
		dist float64
	}
	entries := make([]entry, 0, len(stations))
	for _, st := range stations {
		if st == nil {
			continue
		}
		name := sanitize.Fold(st.Name())
		address := sanitize.Fold(st.Address())
		if needle != "" && !strings.Contains(name, needle) && !strings.Contains(address, needle) {
			continue
		}
		e := entry{st: st, name: name, dist: -1}
		if from != nil && st.Plottable() {
			loc := st.Location()
			e.dist = gpx.Distance2D(from.Lat, from.Lng, loc.Lat, loc.Lng, true)
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if from != nil && a.dist != b.dist {
			// Unplottable stations (dist -1) sort last.
			if a.dist < 0 || b.dist < 0 {
				return b.dist < 0
			}
			return a.dist < b.dist
		}
		if a.name != b.name {
			return a.name < b.name
		}
		return a.st.ID() < b.st.ID()
	})

	out := make([]*station.Station, len(entries))
	for i, e := range entries {
		out[i] = e.st
	}
	return out
}

// Markers returns a marker for every filtered station that can be plotted.
func (c *Controller) Markers() []Marker {
	filtered := c.Filtered()
	markers := make([]Marker, 0, len(filtered))
	for _, st := range filtered {
		if !st.Plottable() {
			continue
		}
		markers = append(markers, Marker{
			StationID: st.DisplayID().String(),
			Position:  st.Location(),
			Style:     MarkerStyle(st.Status()),
			Popup:     sanitize.Text(st.Name()),
		})
	}
	return markers
}

// ShowChargingBanner reports whether the active-session banner is visible.
func (c *Controller) ShowChargingBanner() bool {
	return c.session != nil && c.session.IsCharging()
}

// Snapshot returns a copy of the map state.
func (c *Controller) Snapshot() State {
	out := c.state
	if c.state.UserLocation != nil {
		loc := *c.state.UserLocation
		out.UserLocation = &loc
	}
	return out
}
