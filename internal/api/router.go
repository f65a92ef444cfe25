// Package api provides the local HTTP bridge between the UI shell and the VoltMap client.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/voltmap/voltmap/internal/api/handler"
	"github.com/voltmap/voltmap/internal/api/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Client is driven by the view, station and action routes.
	Client handler.Client

	// Ready gates the readiness endpoint. Optional.
	Ready handler.ReadinessChecker

	// Feed reports snapshot staleness to the readiness endpoint. Optional.
	Feed handler.FeedStatus

	// Scanner serves the camera websocket. Optional; the route is absent when nil.
	Scanner http.Handler

	// RateLimit overrides the action rate limit (requests per minute per IP).
	RateLimit int
}

// NewRouter creates the chi router with every bridge route.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "voltmap"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Ready, cfg.Feed)
	clientHandler := handler.NewClientHandler(cfg.Client)

	actionLimit := middleware.ActionRateLimit
	if cfg.RateLimit > 0 {
		actionLimit = middleware.PerMinute(cfg.RateLimit)
	}
	readRateLimit := middleware.RateLimitByIP(middleware.ReadRateLimit)
	actionRateLimit := middleware.RateLimitByIP(actionLimit)

	r.NotFound(middleware.NotFound)
	r.MethodNotAllowed(middleware.MethodNotAllowed)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Group(func(r chi.Router) {
			r.Use(readRateLimit)
			r.Get("/view", clientHandler.GetView)
			r.Get("/stations", clientHandler.ListStations)
			r.Get("/stations/{stationId}", clientHandler.GetStation)
		})

		r.Route("/actions", func(r chi.Router) {
			r.Use(actionRateLimit)
			r.Use(middleware.RequireJSON)
			r.Post("/select", clientHandler.Select)
			r.Post("/start-charging", clientHandler.StartCharging)
			r.Post("/back", clientHandler.Back)
			r.Post("/navigate", clientHandler.Navigate)
			r.Post("/search", clientHandler.Search)
			r.Post("/directions", clientHandler.Directions)
		})

		r.Route("/scanner", func(r chi.Router) {
			r.Use(actionRateLimit)
			r.With(middleware.RequireJSON).Post("/decode", clientHandler.Decode)
			if cfg.Scanner != nil {
				r.Method(http.MethodGet, "/ws", cfg.Scanner)
			}
		})
	})

	return r
}
