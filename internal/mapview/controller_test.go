package mapview_test

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmap/voltmap/internal/mapview"
	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/station"
)

type stationList []*station.Station

func (l stationList) Stations() []*station.Station { return l }

type fakeSession bool

func (f fakeSession) IsCharging() bool { return bool(f) }

type recordingSelector struct {
	selected []*station.Station
	refuse   bool
}

func (r *recordingSelector) Select(st *station.Station) navigation.Transition {
	r.selected = append(r.selected, st)
	if r.refuse {
		return navigation.Transition{From: navigation.MapView{}, To: navigation.MapView{}}
	}
	return navigation.Transition{From: navigation.MapView{}, To: navigation.DetailsView{Station: st}, Changed: true}
}

func record(id, name, address, status string, lat, lng float64) station.RawRecord {
	return station.RawRecord{
		"id": id, "name": name, "address": address, "lat": lat, "lng": lng,
		"available": 1, "total": 2, "cost": 0.3, "amenities": []any{}, "status": status,
	}
}

// fixture mixes valid, hostile and malformed records the way a live feed might.
func fixture(t *testing.T) stationList {
	t.Helper()
	accepted, rejected := station.AcceptAll([]station.RawRecord{
		record("1", "Downtown Plaza", "100 Biscayne Blvd", "available", 25.7617, -80.1918),
		record("2", "Brickell Centre", "701 S Miami Ave", "busy", 25.7663, -80.1931),
		record("3", "<img src=x onerror=alert(1)>", "Wynwood", "offline", 25.8010, -80.1993),
		record("4", "Off The Globe", "Nowhere", "available", 999, -80.19),
		record("5", "Plaza Malformed", "Downtown", "charging", 25.77, -80.19),
		with(record("6", "Plaza Amenities", "Downtown", "available", 25.77, -80.19), "amenities", "WiFi"),
	})
	require.Len(t, rejected, 2)
	return stationList(accepted)
}

func with(raw station.RawRecord, key string, value any) station.RawRecord {
	raw[key] = value
	return raw
}

func newController(t *testing.T, stations stationList, sel *recordingSelector, charging bool) *mapview.Controller {
	t.Helper()
	return mapview.NewController(mapview.Config{
		Fallback: station.Coordinate{Lat: 40.7128, Lng: -74.0060},
		Logger:   zerolog.New(io.Discard),
	}, stations, sel, fakeSession(charging))
}

func ids(stations []*station.Station) []string {
	out := make([]string, len(stations))
	for i, s := range stations {
		out[i] = s.ID()
	}
	return out
}

func TestNewController_Defaults(t *testing.T) {
	c := mapview.NewController(mapview.Config{Fallback: station.Coordinate{Lat: 200}}, stationList{}, &recordingSelector{}, nil)

	state := c.Snapshot()
	assert.Equal(t, mapview.DefaultFallback, state.Center)
	assert.Equal(t, mapview.DefaultZoom, state.Zoom)
	assert.Nil(t, state.UserLocation)
	assert.Equal(t, mapview.LocationUnknown, state.LocationSource)
	assert.False(t, c.ShowChargingBanner())
}

func TestController_LocationResolved(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)
	pos := station.Coordinate{Lat: 25.77, Lng: -80.2}

	attempt := c.BeginLocate()
	assert.True(t, c.OnLocationResolved(attempt, pos))

	state := c.Snapshot()
	require.NotNil(t, state.UserLocation)
	assert.Equal(t, pos, *state.UserLocation)
	assert.Equal(t, pos, state.Center)
	assert.Equal(t, mapview.LocationGPS, state.LocationSource)

	// A second outcome for the same attempt is ignored.
	assert.False(t, c.OnLocationFailed(attempt, errors.New("late")))
	assert.False(t, c.OnLocationResolved(attempt, station.Coordinate{Lat: 1, Lng: 1}))
	assert.Equal(t, pos, c.Snapshot().Center)

	// Unknown attempts are ignored too.
	assert.False(t, c.OnLocationResolved(99, pos))
}

func TestController_LocationFailedUsesFallback(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)
	fallback := station.Coordinate{Lat: 40.7128, Lng: -74.0060}

	assert.True(t, c.OnLocationFailed(c.BeginLocate(), errors.New("permission denied")))

	state := c.Snapshot()
	require.NotNil(t, state.UserLocation)
	assert.Equal(t, fallback, *state.UserLocation)
	assert.Equal(t, fallback, state.Center)
	assert.True(t, state.Center.Valid())
	assert.Equal(t, mapview.LocationFallback, state.LocationSource)
}

func TestController_InvalidFixFallsBack(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)

	assert.True(t, c.OnLocationResolved(c.BeginLocate(), station.Coordinate{Lat: 91, Lng: 0}))
	assert.Equal(t, mapview.LocationFallback, c.Snapshot().LocationSource)
	assert.True(t, c.Snapshot().Center.Valid())
}

func TestController_OnStationCardActivated(t *testing.T) {
	stations := fixture(t)
	sel := &recordingSelector{}
	c := newController(t, stations, sel, false)

	before := c.Snapshot().Center
	assert.False(t, c.OnStationCardActivated(nil).Changed)
	assert.Empty(t, sel.selected)

	// Unplottable station is selectable but does not move the map.
	offGlobe := stations[3]
	require.Equal(t, "4", offGlobe.ID())
	assert.True(t, c.OnStationCardActivated(offGlobe).Changed)
	assert.Equal(t, before, c.Snapshot().Center)

	plaza := stations[0]
	c.OnStationCardActivated(plaza)
	assert.Equal(t, plaza.Location(), c.Snapshot().Center)
	assert.Equal(t, []*station.Station{offGlobe, plaza}, sel.selected)
}

func TestController_OnStationCardActivated_RefusedKeepsCenter(t *testing.T) {
	stations := fixture(t)
	sel := &recordingSelector{refuse: true}
	c := newController(t, stations, sel, false)

	before := c.Snapshot().Center
	plaza := stations[0]
	require.True(t, plaza.Plottable())

	assert.False(t, c.OnStationCardActivated(plaza).Changed)
	assert.Equal(t, before, c.Snapshot().Center)
	assert.Equal(t, []*station.Station{plaza}, sel.selected)
}

func TestController_FilteredIgnoresEscapes(t *testing.T) {
	accepted, rejected := station.AcceptAll([]station.RawRecord{
		record("1", "O'Brien & Sons", "12 Quay St", "available", 25.77, -80.19),
		record("2", "Harbor <Lot>", "Pier 4", "available", 25.78, -80.18),
	})
	require.Empty(t, rejected)
	c := newController(t, stationList(accepted), &recordingSelector{}, false)

	tests := []struct {
		query string
		want  []string
	}{
		{"39", []string{}},
		{"amp", []string{}},
		{"#", []string{}},
		{"lt", []string{}},
		{";", []string{}},
		{"o'brien", []string{"1"}},
		{"&", []string{"1"}},
		{"SONS", []string{"1"}},
		{"<lot>", []string{"2"}},
		{"&amp;", []string{"1"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c.SetSearchQuery(tt.query)
			assert.Equal(t, tt.want, ids(c.Filtered()))
		})
	}
}

func TestController_Filtered(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"3", "2", "1", "4"}},
		{"plaza", []string{"1"}},
		{"PLAZA", []string{"1"}},
		{"miami ave", []string{"2"}},
		{"<img", []string{"3"}},
		{"malformed", []string{}},
		{"amenities", []string{}},
		{"zzz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c.SetSearchQuery(tt.query)
			assert.Equal(t, tt.want, ids(c.Filtered()))
		})
	}
}

func TestController_SearchQueryIsSanitized(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)

	c.SetSearchQuery("<script>")
	assert.Equal(t, "&lt;script&gt;", c.Snapshot().SearchQuery.String())
}

func TestController_FilteredByDistance(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)

	// Standing in Wynwood; the off-globe station has no distance and sorts last.
	c.OnLocationResolved(c.BeginLocate(), station.Coordinate{Lat: 25.8010, Lng: -80.1993})

	assert.Equal(t, []string{"3", "2", "1", "4"}, ids(c.Filtered()))
}

func TestController_Markers(t *testing.T) {
	c := newController(t, fixture(t), &recordingSelector{}, false)

	markers := c.Markers()
	require.Len(t, markers, 3)

	byID := make(map[string]mapview.Marker)
	for _, m := range markers {
		byID[m.StationID] = m
	}

	assert.Equal(t, mapview.StyleAvailable, byID["1"].Style)
	assert.Equal(t, "Downtown Plaza", byID["1"].Popup.String())
	assert.Equal(t, mapview.StyleBusy, byID["2"].Style)
	assert.Equal(t, mapview.StyleOffline, byID["3"].Style)
	assert.Equal(t, "&lt;img src=x onerror=alert(1)&gt;", byID["3"].Popup.String())
	assert.NotContains(t, byID, "4")
	assert.NotContains(t, byID, "5")
	assert.NotContains(t, byID, "6")
}

func TestController_MarkersEscapeStationID(t *testing.T) {
	accepted, _ := station.AcceptAll([]station.RawRecord{
		record(`"><svg onload=alert(1)>`, "Quay", "Pier 4", "available", 25.77, -80.19),
	})
	require.Len(t, accepted, 1)
	c := newController(t, stationList(accepted), &recordingSelector{}, false)

	markers := c.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, "&#34;&gt;&lt;svg onload=alert(1)&gt;", markers[0].StationID)
}

func TestMarkerStyle(t *testing.T) {
	assert.Equal(t, mapview.StyleAvailable, mapview.MarkerStyle(station.StatusAvailable))
	assert.Equal(t, mapview.StyleBusy, mapview.MarkerStyle(station.StatusBusy))
	assert.Equal(t, mapview.StyleOffline, mapview.MarkerStyle(station.StatusOffline))
	assert.Equal(t, mapview.StyleOffline, mapview.MarkerStyle(station.Status("javascript:alert(1)")))
	assert.Equal(t, mapview.StyleOffline, mapview.MarkerStyle(""))
}

func TestController_ChargingBanner(t *testing.T) {
	assert.True(t, newController(t, fixture(t), &recordingSelector{}, true).ShowChargingBanner())
	assert.False(t, newController(t, fixture(t), &recordingSelector{}, false).ShowChargingBanner())
}
