package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmap/voltmap/internal/api"
	"github.com/voltmap/voltmap/internal/api/models"
	"github.com/voltmap/voltmap/internal/client"
	"github.com/voltmap/voltmap/internal/directions"
	"github.com/voltmap/voltmap/internal/geolocation"
	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/render"
	"github.com/voltmap/voltmap/internal/scan"
	"github.com/voltmap/voltmap/internal/station"
)

type testBridge struct {
	router  http.Handler
	opener  *directions.RecordingOpener
	capture *scan.WSCapture
}

func newTestBridge(t *testing.T, records []station.RawRecord) *testBridge {
	t.Helper()
	logger := zerolog.New(io.Discard)

	catalog := station.NewCatalog(station.CatalogConfig{
		Source: station.NewStaticSource(records),
		Logger: logger,
	})
	guard, err := directions.NewGuard(directions.DefaultBaseURL)
	require.NoError(t, err)

	b := &testBridge{
		opener:  &directions.RecordingOpener{},
		capture: scan.NewWSCapture(scan.WSConfig{Logger: logger}),
	}

	c, err := client.New(client.Config{
		Catalog: catalog,
		Locator: geolocation.FailingLocator{},
		Capture: b.capture,
		Guard:   guard,
		Opener:  b.opener,
		Logger:  logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, c.Ready, time.Second, 5*time.Millisecond)

	b.router = api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    logger,
		Client:    c,
		Ready:     c,
		Feed:      catalog,
		Scanner:   b.capture,
	})
	return b
}

func (b *testBridge) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	return rec
}

func decodeTree(t *testing.T, rec *httptest.ResponseRecorder) render.Tree {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tree render.Tree
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tree))
	return tree
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return problem
}

func TestRouter_HealthCheck(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	rec := b.do(t, http.MethodGet, "/v1/ops/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	rec := b.do(t, http.MethodGet, "/v1/ops/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_GetView(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	tree := decodeTree(t, b.do(t, http.MethodGet, "/v1/view", ""))

	assert.Equal(t, navigation.KindMap, tree.View)
	assert.Equal(t, "VoltMap", tree.Header.Title.String())
	require.NotNil(t, tree.Map)
	assert.Len(t, tree.Map.Markers, 5)
	assert.Nil(t, tree.Details)
}

func TestRouter_Stations(t *testing.T) {
	records := append(station.MockRecords(),
		station.RawRecord{station.FieldID: "bad", station.FieldName: 12},
		station.RawRecord{
			station.FieldID: "xss", station.FieldName: "<img src=x onerror=alert(1)>", station.FieldAddress: "x",
			station.FieldLat: 25.7, station.FieldLng: -80.2, station.FieldAvailable: 1, station.FieldTotal: 1,
			station.FieldCost: 0.1, station.FieldAmenities: []any{}, station.FieldStatus: "available",
		},
	)
	b := newTestBridge(t, records)

	t.Run("list", func(t *testing.T) {
		rec := b.do(t, http.MethodGet, "/v1/stations", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.StationList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		assert.Equal(t, 6, list.Count)
		for _, st := range list.Items {
			assert.NotEqual(t, "bad", st.ID)
			assert.NotContains(t, st.Name.String(), "<")
		}
	})

	t.Run("query", func(t *testing.T) {
		rec := b.do(t, http.MethodGet, "/v1/stations?q=brickell", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var list models.StationList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Items, 1)
		assert.Equal(t, "2", list.Items[0].ID)
	})

	t.Run("get", func(t *testing.T) {
		rec := b.do(t, http.MethodGet, "/v1/stations/xss", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var st models.Station
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, "&lt;img src=x onerror=alert(1)&gt;", st.Name.String())
	})

	t.Run("rejected record is not found", func(t *testing.T) {
		rec := b.do(t, http.MethodGet, "/v1/stations/bad", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, models.ProblemTypeNotFound, decodeProblem(t, rec).Type)
	})
}

func TestRouter_SelectAndDirections(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	tree := decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/select", `{"station_id":"1"}`))
	assert.Equal(t, navigation.KindDetails, tree.View)
	require.NotNil(t, tree.Details)
	assert.Equal(t, "https://www.google.com/maps?q=25.7617,-80.1918", tree.Details.DirectionsURL)

	rec := b.do(t, http.MethodPost, "/v1/actions/directions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out models.DirectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, tree.Details.DirectionsURL, out.URL)
	require.NotNil(t, b.opener.Last())
	assert.Equal(t, out.URL, b.opener.Last().String())

	tree = decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/back", ""))
	assert.Equal(t, navigation.KindMap, tree.View)
}

func TestRouter_DirectionsRejected(t *testing.T) {
	b := newTestBridge(t, []station.RawRecord{{
		station.FieldID: "far", station.FieldName: "Far", station.FieldAddress: "?",
		station.FieldLat: 999, station.FieldLng: -80.19, station.FieldAvailable: 0, station.FieldTotal: 1,
		station.FieldCost: 0.2, station.FieldAmenities: []any{}, station.FieldStatus: "busy",
	}})

	rec := b.do(t, http.MethodPost, "/v1/actions/directions", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/select", `{"station_id":"far"}`))

	rec = b.do(t, http.MethodPost, "/v1/actions/directions", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, models.ProblemTypeUnprocessable, decodeProblem(t, rec).Type)
	assert.Empty(t, b.opener.Opened())
}

func TestRouter_ActionValidation(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed json", "/v1/actions/select", `{"station_id":`, http.StatusBadRequest},
		{"unknown field", "/v1/actions/select", `{"id":"1"}`, http.StatusBadRequest},
		{"missing station", "/v1/actions/select", `{"station_id":""}`, http.StatusBadRequest},
		{"unknown station", "/v1/actions/select", `{"station_id":"404"}`, http.StatusNotFound},
		{"unknown view", "/v1/actions/navigate", `{"view":"settings"}`, http.StatusBadRequest},
		{"scan outside scanner", "/v1/scanner/decode", `{"payload":"SESSION-OK"}`, http.StatusConflict},
		{"oversized body", "/v1/actions/search", `{"query":"` + strings.Repeat("a", 5000) + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.status, decodeProblem(t, rec).Status)
		})
	}
}

func TestRouter_RequireJSON(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	req := httptest.NewRequest(http.MethodPost, "/v1/actions/search", strings.NewReader("query=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_SearchAndNavigate(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	tree := decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/search", `{"query":"Little Havana"}`))
	require.Len(t, tree.Map.Cards, 1)
	assert.Equal(t, "5", tree.Map.Cards[0].StationID)

	tree = decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/navigate", `{"view":"profile"}`))
	assert.Equal(t, navigation.KindProfile, tree.View)
	require.NotNil(t, tree.Profile)
	assert.Empty(t, tree.Profile.History)
}

func TestRouter_ScanOverDecodeEndpoint(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/select", `{"station_id":"1"}`))
	tree := decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/start-charging", ""))
	require.Equal(t, navigation.KindScanner, tree.View)
	assert.Equal(t, "1", tree.Scanner.StationID)

	rec := b.do(t, http.MethodPost, "/v1/scanner/decode", `{"payload":" "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	tree = decodeTree(t, b.do(t, http.MethodPost, "/v1/scanner/decode", `{"payload":"SESSION-OK"}`))
	assert.Equal(t, navigation.KindMap, tree.View)
	assert.True(t, tree.Header.ChargingIndicator)
	assert.True(t, tree.Map.ChargingBanner)
}

func TestRouter_ScanOverWebSocket(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())
	server := httptest.NewServer(b.router)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/scanner/ws"

	// Closed scanner refuses cameras.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/select", `{"station_id":"1"}`))
	decodeTree(t, b.do(t, http.MethodPost, "/v1/actions/start-charging", ""))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("SESSION-OK")))

	require.Eventually(t, func() bool {
		rec := b.do(t, http.MethodGet, "/v1/view", "")
		var tree render.Tree
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &tree) != nil {
			return false
		}
		return tree.View == navigation.KindMap && tree.Header.ChargingIndicator
	}, 2*time.Second, 10*time.Millisecond)

	// Leaving the scanner closes the camera connection.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)

	assert.Equal(t, "custom_request_id", rec.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	b := newTestBridge(t, station.MockRecords())

	rec := b.do(t, http.MethodGet, "/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ProblemTypeNotFound, decodeProblem(t, rec).Type)

	rec = b.do(t, http.MethodGet, "/v1/actions/back", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	problem := decodeProblem(t, rec)
	assert.Equal(t, models.ProblemTypeMethodNotAllowed, problem.Type)
	assert.Equal(t, "Method not allowed", problem.Title)
}
