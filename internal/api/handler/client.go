package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/voltmap/voltmap/internal/api/models"
	"github.com/voltmap/voltmap/internal/api/response"
	"github.com/voltmap/voltmap/internal/client"
	"github.com/voltmap/voltmap/internal/directions"
	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/render"
	"github.com/voltmap/voltmap/internal/scan"
	"github.com/voltmap/voltmap/internal/station"
)

// maxBodyBytes bounds action and scan request bodies.
const maxBodyBytes = 4096

// Client is the part of the client the bridge drives. *client.Client implements it.
type Client interface {
	Render(ctx context.Context) (render.Tree, error)
	Stations(ctx context.Context, query string) ([]*station.Station, error)
	Station(ctx context.Context, id string) (*station.Station, error)
	Select(ctx context.Context, id string) error
	StartCharging(ctx context.Context) error
	Back(ctx context.Context) error
	NavigateTo(ctx context.Context, kind navigation.Kind) error
	Search(ctx context.Context, query string) error
	Directions(ctx context.Context) (*url.URL, error)
	SubmitScan(ctx context.Context, payload string) error
}

// ClientHandler exposes the client to the UI shell. Every action answers with the
// freshly rendered view tree.
type ClientHandler struct {
	client Client
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(c Client) *ClientHandler {
	return &ClientHandler{client: c}
}

// GetView handles GET /v1/view.
func (h *ClientHandler) GetView(w http.ResponseWriter, r *http.Request) {
	h.respondTree(w, r)
}

// ListStations handles GET /v1/stations?q=.
func (h *ClientHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.client.Stations(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	list := models.StationList{Items: make([]models.Station, 0, len(stations))}
	for _, st := range stations {
		list.Items = append(list.Items, models.NewStation(st))
	}
	list.Count = len(list.Items)
	response.JSON(w, r, http.StatusOK, list)
}

// GetStation handles GET /v1/stations/{stationId}.
func (h *ClientHandler) GetStation(w http.ResponseWriter, r *http.Request) {
	st, err := h.client.Station(r.Context(), chi.URLParam(r, "stationId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewStation(st))
}

// Select handles POST /v1/actions/select.
func (h *ClientHandler) Select(w http.ResponseWriter, r *http.Request) {
	var input models.SelectRequest
	if !decode(w, r, &input) {
		return
	}
	if input.StationID == "" {
		response.BadRequest(w, r, "station_id is required", []models.FieldError{
			{Field: "station_id", Message: "required", Code: "REQUIRED"},
		})
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.client.Select(ctx, input.StationID) })
}

// StartCharging handles POST /v1/actions/start-charging.
func (h *ClientHandler) StartCharging(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.client.StartCharging)
}

// Back handles POST /v1/actions/back.
func (h *ClientHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.client.Back)
}

// Navigate handles POST /v1/actions/navigate.
func (h *ClientHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var input models.NavigateRequest
	if !decode(w, r, &input) {
		return
	}
	kind, ok := navigation.ParseKind(input.View)
	if !ok {
		response.BadRequest(w, r, "unknown view", []models.FieldError{
			{Field: "view", Message: "must be one of map, scanner, profile", Code: "INVALID_ENUM"},
		})
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.client.NavigateTo(ctx, kind) })
}

// Search handles POST /v1/actions/search.
func (h *ClientHandler) Search(w http.ResponseWriter, r *http.Request) {
	var input models.SearchRequest
	if !decode(w, r, &input) {
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.client.Search(ctx, input.Query) })
}

// Directions handles POST /v1/actions/directions. The client opens the link itself; the
// response carries it so the shell can show it.
func (h *ClientHandler) Directions(w http.ResponseWriter, r *http.Request) {
	target, err := h.client.Directions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.DirectionsResponse{URL: target.String()})
}

// Decode handles POST /v1/scanner/decode: a payload decoded by the shell's own camera pipeline.
func (h *ClientHandler) Decode(w http.ResponseWriter, r *http.Request) {
	var input models.ScanRequest
	if !decode(w, r, &input) {
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.client.SubmitScan(ctx, input.Payload) })
}

func (h *ClientHandler) act(w http.ResponseWriter, r *http.Request, action func(ctx context.Context) error) {
	if err := action(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondTree(w, r)
}

func (h *ClientHandler) respondTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.client.Render(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, tree)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	return true
}

// writeError maps client errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, station.ErrStationNotFound):
		response.NotFound(w, r, "station not found")
	case errors.Is(err, client.ErrScannerNotOpen), errors.Is(err, client.ErrNoStationSelected):
		response.Conflict(w, r, err.Error())
	case errors.Is(err, scan.ErrPayloadRejected):
		response.Unprocessable(w, r, "scan payload rejected")
	case errors.Is(err, directions.ErrInvalidCoordinate):
		response.Unprocessable(w, r, "station location cannot be used for directions")
	case errors.Is(err, client.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(w, r, "client is not running")
	default:
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
