package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmap/voltmap/internal/api/models"
	"github.com/voltmap/voltmap/internal/station"
)

func TestNewStation(t *testing.T) {
	st, err := station.Accept(station.RawRecord{
		station.FieldID: "7", station.FieldName: "<b>Bay</b> & Co", station.FieldAddress: "1 Bay Rd",
		station.FieldLat: 25.7, station.FieldLng: -80.2, station.FieldAvailable: 5, station.FieldTotal: 2,
		station.FieldCost: 0.4, station.FieldAmenities: []any{"<WiFi>"}, station.FieldStatus: "available",
	})
	require.NoError(t, err)

	out := models.NewStation(st)

	assert.Equal(t, "7", out.ID)
	assert.Equal(t, "&lt;b&gt;Bay&lt;/b&gt; &amp; Co", out.Name.String())
	assert.Equal(t, 2, out.Available)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, "0.40", out.Cost)
	assert.Equal(t, "&lt;WiFi&gt;", out.Amenities[0].String())
	assert.True(t, out.Degraded)
	assert.True(t, out.Plottable)
	assert.Equal(t, []string{string(station.IssueAvailabilityExceedsTotal)}, out.Issues)
}

func TestNewStation_EscapesID(t *testing.T) {
	st, err := station.Accept(station.RawRecord{
		station.FieldID: "<i>7</i>", station.FieldName: "Bay", station.FieldAddress: "1 Bay Rd",
		station.FieldLat: 25.7, station.FieldLng: -80.2, station.FieldAvailable: 1, station.FieldTotal: 2,
		station.FieldCost: 0.4, station.FieldAmenities: []any{}, station.FieldStatus: "available",
	})
	require.NoError(t, err)

	assert.Equal(t, "&lt;i&gt;7&lt;/i&gt;", models.NewStation(st).ID)
}
