package station

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const snapshotKey = "stations"

// Recorder receives feed refresh outcomes for metrics.
type Recorder interface {
	RecordRefresh(ctx context.Context, source string, accepted, rejected int, err error)
}

// CatalogConfig holds configuration for the station catalog.
type CatalogConfig struct {
	// Source is the station feed.
	Source Source

	// Logger for catalog operations.
	Logger zerolog.Logger

	// SnapshotTTL is how long a fetched feed is considered fresh (default: 5 minutes).
	SnapshotTTL time.Duration

	// Recorder receives refresh metrics. Optional.
	Recorder Recorder
}

// Catalog holds the validated station set. Rejected records never enter it.
type Catalog struct {
	source   Source
	logger   zerolog.Logger
	ttl      time.Duration
	recorder Recorder

	snapshots *cache.Cache

	mu   sync.RWMutex
	last      []*Station // last good snapshot, served when the feed fails
	byID      map[string]*Station
	byDisplay map[string]*Station
}

// NewCatalog creates a new station catalog.
func NewCatalog(cfg CatalogConfig) *Catalog {
	ttl := cfg.SnapshotTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	return &Catalog{
		source:    cfg.Source,
		logger:    cfg.Logger,
		ttl:       ttl,
		recorder:  cfg.Recorder,
		snapshots: cache.New(ttl, 2*ttl),
		byID:      make(map[string]*Station),
		byDisplay: make(map[string]*Station),
	}
}

// Refresh fetches the feed and replaces the validated set.
// On fetch failure the previous snapshot stays in place and the error is returned.
func (c *Catalog) Refresh(ctx context.Context) error {
	raws, err := c.source.Fetch(ctx)
	if err != nil {
		c.logger.Error().Err(err).
			Str("source", c.source.Name()).
			Msg("failed to fetch station feed")
		if c.recorder != nil {
			c.recorder.RecordRefresh(ctx, c.source.Name(), 0, 0, err)
		}
		return fmt.Errorf("error fetching stations: %w", err)
	}

	accepted, rejected := AcceptAll(raws)
	for _, r := range rejected {
		c.logger.Warn().
			Str("source", c.source.Name()).
			Int("index", r.Index).
			Str("station_id", r.ID).
			Err(r.Reason).
			Msg("rejected malformed station record")
	}
	for _, s := range accepted {
		if s.Degraded() {
			c.logger.Debug().
				Str("station_id", s.ID()).
				Interface("issues", s.Issues()).
				Msg("accepted station with flagged issues")
		}
	}

	c.store(accepted)

	c.logger.Info().
		Str("source", c.source.Name()).
		Int("accepted", len(accepted)).
		Int("rejected", len(rejected)).
		Msg("station feed refreshed")

	if c.recorder != nil {
		c.recorder.RecordRefresh(ctx, c.source.Name(), len(accepted), len(rejected), nil)
	}
	return nil
}

func (c *Catalog) store(stations []*Station) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = stations
	c.byID = make(map[string]*Station, len(stations))
	c.byDisplay = make(map[string]*Station, len(stations))
	for _, s := range stations {
		c.byID[s.id] = s
	}
	// Display ids can collide; the first station in feed order keeps the key.
	for _, s := range stations {
		key := s.DisplayID().String()
		if _, taken := c.byDisplay[key]; !taken {
			c.byDisplay[key] = s
		}
	}
	c.snapshots.Set(snapshotKey, stations, c.ttl)
}

// Stale reports whether the snapshot is older than the configured TTL.
func (c *Catalog) Stale() bool {
	_, ok := c.snapshots.Get(snapshotKey)
	return !ok
}

// Stations returns the validated stations, sorted by ID.
func (c *Catalog) Stations() []*Station {
	var stations []*Station
	if cached, ok := c.snapshots.Get(snapshotKey); ok {
		stations = cached.([]*Station)
	} else {
		c.mu.RLock()
		stations = c.last
		c.mu.RUnlock()
	}

	out := make([]*Station, len(stations))
	copy(out, stations)
	sort.SliceStable(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Get returns the validated station with the given ID. An exact ID wins over a display ID.
func (c *Catalog) Get(id string) (*Station, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.byID[id]; ok {
		return s, nil
	}
	if s, ok := c.byDisplay[id]; ok {
		return s, nil
	}
	return nil, ErrStationNotFound
}
