package models

import (
	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/station"
)

// SelectRequest is the body of POST /v1/actions/select.
type SelectRequest struct {
	StationID string `json:"station_id"`
}

// NavigateRequest is the body of POST /v1/actions/navigate.
type NavigateRequest struct {
	View string `json:"view"`
}

// SearchRequest is the body of POST /v1/actions/search.
type SearchRequest struct {
	Query string `json:"query"`
}

// ScanRequest is the body of POST /v1/scanner/decode.
type ScanRequest struct {
	Payload string `json:"payload"`
}

// DirectionsResponse carries the directions link that was opened.
type DirectionsResponse struct {
	URL string `json:"url"`
}

// Station is a validated station. Text is sanitized for display.
type Station struct {
	ID        string             `json:"id"`
	Name      sanitize.Field     `json:"name"`
	Address   sanitize.Field     `json:"address"`
	Location  station.Coordinate `json:"location"`
	Available int                `json:"available"`
	Total     int                `json:"total"`
	Cost      string             `json:"cost"`
	Amenities []sanitize.Field   `json:"amenities"`
	Status    station.Status     `json:"status"`
	Degraded  bool               `json:"degraded"`
	Plottable bool               `json:"plottable"`
	Issues    []string           `json:"issues,omitempty"`
}

// NewStation converts a validated station for the wire.
func NewStation(st *station.Station) Station {
	available := sanitize.Count(st.Available())
	total := sanitize.Count(st.Total())
	if available > total {
		available = total
	}

	issues := st.Issues()
	var issueNames []string
	for _, issue := range issues {
		issueNames = append(issueNames, string(issue))
	}

	return Station{
		ID:        st.DisplayID().String(),
		Name:      sanitize.Text(st.Name()),
		Address:   sanitize.Text(st.Address()),
		Location:  st.Location(),
		Available: available,
		Total:     total,
		Cost:      sanitize.Cost(st.Cost()),
		Amenities: sanitize.Strings(st.Amenities()),
		Status:    st.Status(),
		Degraded:  st.Degraded(),
		Plottable: st.Plottable(),
		Issues:    issueNames,
	}
}

// StationList is the body of GET /v1/stations.
type StationList struct {
	Items []Station `json:"items"`
	Count int       `json:"count"`
}
