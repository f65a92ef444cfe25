// Package station provides the charging station model and the validation that every
// record from the station feed must pass before it can reach the map, search or detail views.
package station

import (
	"errors"
	"math"

	"github.com/voltmap/voltmap/internal/sanitize"
)

// Sentinel errors for station operations.
var (
	// ErrMalformedRecord indicates a feed record failed structural validation.
	ErrMalformedRecord = errors.New("malformed station record")
	// ErrStationNotFound indicates no validated station exists with the given ID.
	ErrStationNotFound = errors.New("station not found")
)

// RawRecord is a station record exactly as received from the feed.
// Nothing about its shape or contents is trusted.
type RawRecord map[string]any

// Record field names as they appear in the feed.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldAddress   = "address"
	FieldLat       = "lat"
	FieldLng       = "lng"
	FieldAvailable = "available"
	FieldTotal     = "total"
	FieldCost      = "cost"
	FieldAmenities = "amenities"
	FieldStatus    = "status"
)

// Status is the operational state of a station.
type Status string

const (
	// StatusAvailable means at least one connector can start a session.
	StatusAvailable Status = "available"
	// StatusBusy means every connector is in use.
	StatusBusy Status = "busy"
	// StatusOffline means the station is not reachable.
	StatusOffline Status = "offline"
)

// ParseStatus returns the status for s and whether it is one of the known values.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusAvailable, StatusBusy, StatusOffline:
		return Status(s), true
	default:
		return "", false
	}
}

// Coordinate represents a geographic point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is a finite point inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Issue is a condition the validator flags on an otherwise well-formed record.
// Flagged stations are still accepted; views neutralize the condition at point of use.
type Issue string

const (
	// IssueAvailabilityExceedsTotal is flagged when available > total.
	IssueAvailabilityExceedsTotal Issue = "availability_exceeds_total"
	// IssueNegativeCount is flagged when available or total is negative.
	IssueNegativeCount Issue = "negative_count"
	// IssueNegativeCost is flagged when cost is negative or not finite.
	IssueNegativeCost Issue = "negative_cost"
	// IssueCoordinateRange is flagged when the coordinate cannot be plotted.
	IssueCoordinateRange Issue = "coordinate_out_of_range"
)

// Station is a record that passed structural validation.
// The only way to obtain one is Accept, so holding a *Station proves the record was validated.
// Text fields are still raw and must be sanitized before rendering.
type Station struct {
	id        string
	name      string
	address   string
	location  Coordinate
	available int
	total     int
	cost      float64
	amenities []string
	status    Status
	issues    []Issue
}

// ID returns the opaque station identifier.
func (s *Station) ID() string { return s.id }

// DisplayID returns the identifier as it is handed to the shell. Catalog.Get accepts it too.
func (s *Station) DisplayID() sanitize.Field { return sanitize.Text(s.id) }

// Name returns the unsanitized station name.
func (s *Station) Name() string { return s.name }

// Address returns the unsanitized station address.
func (s *Station) Address() string { return s.address }

// Location returns the station coordinate as received. It may be out of range; see Plottable.
func (s *Station) Location() Coordinate { return s.location }

// Available returns the raw available connector count.
func (s *Station) Available() int { return s.available }

// Total returns the raw total connector count.
func (s *Station) Total() int { return s.total }

// Cost returns the raw price per kWh.
func (s *Station) Cost() float64 { return s.cost }

// Status returns the validated status.
func (s *Station) Status() Status { return s.status }

// Amenities returns a copy of the unsanitized amenity labels.
func (s *Station) Amenities() []string {
	out := make([]string, len(s.amenities))
	copy(out, s.amenities)
	return out
}

// Issues returns a copy of the flagged conditions.
func (s *Station) Issues() []Issue {
	out := make([]Issue, len(s.issues))
	copy(out, s.issues)
	return out
}

// HasIssue reports whether the given condition was flagged.
func (s *Station) HasIssue(issue Issue) bool {
	for _, i := range s.issues {
		if i == issue {
			return true
		}
	}
	return false
}

// Degraded reports whether any condition was flagged.
func (s *Station) Degraded() bool { return len(s.issues) > 0 }

// Plottable reports whether the station can be placed on the map and used as a center.
func (s *Station) Plottable() bool { return s.location.Valid() }

// Rejection describes a record that failed validation.
type Rejection struct {
	Index  int
	ID     string
	Reason error
}
