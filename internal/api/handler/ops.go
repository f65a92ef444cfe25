// Package handler provides HTTP handlers for the VoltMap shell bridge.
package handler

import (
	"net/http"
	"time"

	"github.com/voltmap/voltmap/internal/api/models"
	"github.com/voltmap/voltmap/internal/api/response"
)

// ReadinessChecker reports whether the client finished starting up.
type ReadinessChecker interface {
	Ready() bool
}

// FeedStatus reports whether the station snapshot has expired.
type FeedStatus interface {
	Stale() bool
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	ready     ReadinessChecker
	feed      FeedStatus
}

// NewOpsHandler creates a new OpsHandler. ready and feed may be nil.
func NewOpsHandler(version, buildTime string, ready ReadinessChecker, feed FeedStatus) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		ready:     ready,
		feed:      feed,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It fails until the startup feed refresh has run
// and reports DEGRADED while the station snapshot is stale.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.ready != nil && !h.ready.Ready() {
		health.Status = models.HealthStatusFail
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	if h.feed != nil && h.feed.Stale() {
		health.Status = models.HealthStatusDegraded
		health.Details = map[string]any{"stations": "stale"}
	}
	response.JSON(w, r, http.StatusOK, health)
}
