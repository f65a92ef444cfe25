// Package render builds the view tree handed to the UI shell.
// Every text value in a Tree is sanitized; every number is clamped for display.
package render

import (
	"github.com/voltmap/voltmap/internal/directions"
	"github.com/voltmap/voltmap/internal/mapview"
	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/station"
)

// AppTitle is shown in the header.
const AppTitle = "VoltMap"

// Input is everything Build needs. It is read-only.
type Input struct {
	View     navigation.View
	Map      mapview.State
	Markers  []mapview.Marker
	Stations []*station.Station
	Session  navigation.Session
	Guard    *directions.Guard
}

// Tree is the rendered application. Exactly one body matching View is set, except for
// an inert view, which has none.
type Tree struct {
	Header  Header          `json:"header"`
	View    navigation.Kind `json:"view"`
	Map     *MapBody        `json:"map,omitempty"`
	Details *DetailsBody    `json:"details,omitempty"`
	Scanner *ScannerBody    `json:"scanner,omitempty"`
	Profile *ProfileBody    `json:"profile,omitempty"`
}

// Header is the top bar.
type Header struct {
	Title             sanitize.Field `json:"title"`
	ChargingIndicator bool           `json:"charging_indicator"`
}

// MapBody is the map view.
type MapBody struct {
	Center         station.Coordinate     `json:"center"`
	Zoom           int                    `json:"zoom"`
	UserLocation   *station.Coordinate    `json:"user_location,omitempty"`
	LocationSource mapview.LocationSource `json:"location_source"`
	SearchQuery    sanitize.Field         `json:"search_query"`
	Markers        []mapview.Marker       `json:"markers"`
	Cards          []Card                 `json:"cards"`
	ChargingBanner bool                   `json:"charging_banner"`
}

// Card is one entry in the station list under the map.
type Card struct {
	StationID   string         `json:"station_id"`
	Name        sanitize.Field `json:"name"`
	Address     sanitize.Field `json:"address"`
	StatusLabel sanitize.Field `json:"status_label"`
	Style       mapview.Style  `json:"style"`
	Available   int            `json:"available"`
	Total       int            `json:"total"`
	Cost        string         `json:"cost"`
}

// DetailsBody is the station detail view.
type DetailsBody struct {
	StationID        string           `json:"station_id"`
	Name             sanitize.Field   `json:"name"`
	Address          sanitize.Field   `json:"address"`
	StatusLabel      sanitize.Field   `json:"status_label"`
	Style            mapview.Style    `json:"style"`
	Amenities        []sanitize.Field `json:"amenities"`
	Available        int              `json:"available"`
	Total            int              `json:"total"`
	Cost             string           `json:"cost"`
	Degraded         bool             `json:"degraded"`
	DirectionsURL    string           `json:"directions_url"`
	CanStartCharging bool             `json:"can_start_charging"`
}

// ScannerBody is the code-scan view.
type ScannerBody struct {
	StationID   string         `json:"station_id,omitempty"`
	StationName sanitize.Field `json:"station_name,omitempty"`
}

// ProfileBody is the user profile with charging history, newest first.
type ProfileBody struct {
	Charging bool                      `json:"charging"`
	Active   *navigation.ChargeRecord  `json:"active,omitempty"`
	History  []navigation.ChargeRecord `json:"history"`
}

// Build renders in. It has no side effects.
func Build(in Input) Tree {
	kind := navigation.KindMap
	if in.View != nil {
		kind = in.View.Kind()
	}

	tree := Tree{
		Header: Header{
			Title:             sanitize.Text(AppTitle),
			ChargingIndicator: in.Session.IsCharging,
		},
		View: kind,
	}

	switch view := in.View.(type) {
	case navigation.DetailsView:
		if view.Station != nil {
			tree.Details = details(view.Station, in.Guard)
		}
	case navigation.ScannerView:
		body := &ScannerBody{}
		if view.Station != nil {
			body.StationID = view.Station.DisplayID().String()
			body.StationName = sanitize.Text(view.Station.Name())
		}
		tree.Scanner = body
	case navigation.ProfileView:
		tree.Profile = profile(in.Session)
	default:
		tree.Map = mapBody(in)
	}

	return tree
}

func mapBody(in Input) *MapBody {
	markers := in.Markers
	if markers == nil {
		markers = []mapview.Marker{}
	}

	cards := make([]Card, 0, len(in.Stations))
	for _, st := range in.Stations {
		if st == nil {
			continue
		}
		available, total, _ := counts(st)
		cards = append(cards, Card{
			StationID:   st.DisplayID().String(),
			Name:        sanitize.Text(st.Name()),
			Address:     sanitize.Text(st.Address()),
			StatusLabel: sanitize.Text(string(st.Status())),
			Style:       mapview.MarkerStyle(st.Status()),
			Available:   available,
			Total:       total,
			Cost:        sanitize.Cost(st.Cost()),
		})
	}

	body := &MapBody{
		Center:         in.Map.Center,
		Zoom:           in.Map.Zoom,
		LocationSource: in.Map.LocationSource,
		SearchQuery:    in.Map.SearchQuery,
		Markers:        markers,
		Cards:          cards,
		ChargingBanner: in.Session.IsCharging,
	}
	if in.Map.UserLocation != nil {
		loc := *in.Map.UserLocation
		body.UserLocation = &loc
	}
	return body
}

func details(st *station.Station, guard *directions.Guard) *DetailsBody {
	available, total, clamped := counts(st)

	body := &DetailsBody{
		StationID:        st.DisplayID().String(),
		Name:             sanitize.Text(st.Name()),
		Address:          sanitize.Text(st.Address()),
		StatusLabel:      sanitize.Text(string(st.Status())),
		Style:            mapview.MarkerStyle(st.Status()),
		Amenities:        sanitize.Strings(st.Amenities()),
		Available:        available,
		Total:            total,
		Cost:             sanitize.Cost(st.Cost()),
		Degraded:         st.Degraded() || clamped,
		CanStartCharging: st.Status() == station.StatusAvailable,
	}

	if guard != nil {
		loc := st.Location()
		if target, err := guard.Target(loc.Lat, loc.Lng); err == nil {
			body.DirectionsURL = target.String()
		}
	}
	return body
}

// counts clamps connector counts for display. Available never exceeds total.
func counts(st *station.Station) (available, total int, clamped bool) {
	available = sanitize.Count(st.Available())
	total = sanitize.Count(st.Total())
	if available > total {
		return total, total, true
	}
	return available, total, false
}

func profile(session navigation.Session) *ProfileBody {
	history := make([]navigation.ChargeRecord, 0, len(session.History))
	for i := len(session.History) - 1; i >= 0; i-- {
		history = append(history, chargeRecord(session.History[i]))
	}

	body := &ProfileBody{
		Charging: session.IsCharging,
		History:  history,
	}
	if session.Active != nil {
		active := chargeRecord(*session.Active)
		body.Active = &active
	}
	return body
}

// chargeRecord escapes the station id, which may come straight from a scanned payload.
func chargeRecord(rec navigation.ChargeRecord) navigation.ChargeRecord {
	rec.StationID = sanitize.Text(rec.StationID).String()
	return rec
}
