package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/voltmap/voltmap/internal/api"
	"github.com/voltmap/voltmap/internal/api/middleware"
	"github.com/voltmap/voltmap/internal/client"
	"github.com/voltmap/voltmap/internal/config"
	"github.com/voltmap/voltmap/internal/directions"
	"github.com/voltmap/voltmap/internal/feed"
	"github.com/voltmap/voltmap/internal/geolocation"
	"github.com/voltmap/voltmap/internal/mapview"
	"github.com/voltmap/voltmap/internal/navigation"
	"github.com/voltmap/voltmap/internal/scan"
	"github.com/voltmap/voltmap/internal/station"
	"github.com/voltmap/voltmap/internal/telemetry"
)

func newLogger(cfg config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}

func serve(parent context.Context, cfg config.Config) error {
	log := newLogger(cfg.App)
	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Msg("starting VoltMap")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("error initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.Endpoint).Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing http metrics: %w", err)
	}
	clientMetrics, err := telemetry.NewClientMetrics()
	if err != nil {
		return fmt.Errorf("error initializing client metrics: %w", err)
	}

	source, err := newSource(cfg.Feed, log.With().Str("component", "feed").Logger(), clientMetrics)
	if err != nil {
		return err
	}
	catalog := station.NewCatalog(station.CatalogConfig{
		Source:      source,
		Logger:      log.With().Str("component", "catalog").Logger(),
		SnapshotTTL: cfg.Feed.CacheTTL,
		Recorder:    clientMetrics,
	})
	log.Info().Str("source", source.Name()).Msg("station feed configured")

	authorizer, err := newAuthorizer(cfg.Scan)
	if err != nil {
		return err
	}
	guard, err := directions.NewGuard(cfg.Directions.BaseURL)
	if err != nil {
		return fmt.Errorf("error configuring directions: %w", err)
	}

	capture := scan.NewWSCapture(scan.WSConfig{
		Logger: log.With().Str("component", "scanner").Logger(),
	})

	c, err := client.New(client.Config{
		Catalog: catalog,
		Locator: newLocator(cfg.Geolocation),
		Capture: capture,
		Guard:   guard,
		Opener:  &directions.RecordingOpener{},
		Machine: navigation.NewMachine(navigation.Config{
			Authorizer: authorizer,
			Logger:     log.With().Str("component", "navigation").Logger(),
		}),
		Map: mapview.Config{
			Fallback: cfg.Map.Fallback(),
			Zoom:     cfg.Map.Zoom,
		},
		RefreshInterval: cfg.Feed.RefreshInterval,
		Logger:          log.With().Str("component", "client").Logger(),
		Metrics:         clientMetrics,
	})
	if err != nil {
		return fmt.Errorf("error creating client: %w", err)
	}

	clientDone := make(chan error, 1)
	go func() { clientDone <- c.Run(ctx) }()

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     httpMetrics,
		Client:      c,
		Ready:       c,
		Feed:        catalog,
		Scanner:     capture,
		RateLimit:   cfg.HTTP.RateLimit,
	})

	server := &http.Server{
		Addr:         "127.0.0.1:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("shell bridge listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("shell bridge failed")
		stop()
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shell bridge forced to shutdown")
	}
	<-clientDone

	log.Info().Msg("stopped")
	return nil
}

func newSource(cfg config.FeedConfig, log zerolog.Logger, metrics feed.RequestRecorder) (station.Source, error) {
	switch {
	case cfg.URL != "":
		src, err := feed.NewHTTPSource(feed.Config{
			URL:        cfg.URL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     log,
			Metrics:    metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("error configuring station feed: %w", err)
		}
		return src, nil
	case cfg.File != "":
		return station.NewFileSource(cfg.File), nil
	default:
		log.Warn().Msg("no station feed configured, serving demo stations")
		return station.NewMockSource(), nil
	}
}

func newLocator(cfg config.GeolocationConfig) geolocation.Locator {
	switch cfg.Mode {
	case config.GeolocationStatic:
		return geolocation.StaticLocator{Position: station.Coordinate{Lat: cfg.Lat, Lng: cfg.Lng}}
	case config.GeolocationPlace:
		return geolocation.NewPlaceLocator(cfg.Place, cfg.Server, nil)
	default:
		return geolocation.FailingLocator{Reason: "no location provider configured"}
	}
}

func newAuthorizer(cfg config.ScanConfig) (scan.Authorizer, error) {
	if cfg.Mode != config.ScanModeChallenge {
		return scan.AcceptAny{}, nil
	}
	authorizer, err := scan.NewChallengeAuthorizer(scan.ChallengeConfig{
		Secret: cfg.Secret,
		TTL:    cfg.ChallengeTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error configuring scan authorizer: %w", err)
	}
	return authorizer, nil
}
