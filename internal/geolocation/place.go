package geolocation

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/muesli/gominatim"

	"github.com/voltmap/voltmap/internal/station"
)

// DefaultNominatimServer is the public OpenStreetMap geocoder.
const DefaultNominatimServer = "https://nominatim.openstreetmap.org/"

// SearchFunc looks up a free-text place and returns matching results.
type SearchFunc func(query string) ([]gominatim.SearchResult, error)

// PlaceLocator resolves a configured place name to a position.
// It serves shells without a GPS fix; the first lookup result is memoized.
type PlaceLocator struct {
	place  string
	search SearchFunc

	mu       sync.Mutex
	resolved *station.Coordinate
}

// NewPlaceLocator creates a locator for place. A nil search queries the given Nominatim server.
func NewPlaceLocator(place, server string, search SearchFunc) *PlaceLocator {
	if search == nil {
		if server == "" {
			server = DefaultNominatimServer
		}
		search = nominatimSearch(server)
	}
	return &PlaceLocator{place: place, search: search}
}

func nominatimSearch(server string) SearchFunc {
	return func(query string) ([]gominatim.SearchResult, error) {
		gominatim.SetServer(server)
		q := gominatim.SearchQuery{
			Q: url.QueryEscape(query),
		}
		return q.Get()
	}
}

// Locate resolves the place. The lookup itself is not cancellable; ctx is checked before it starts.
func (l *PlaceLocator) Locate(ctx context.Context) (station.Coordinate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resolved != nil {
		return *l.resolved, nil
	}
	if err := ctx.Err(); err != nil {
		return station.Coordinate{}, err
	}
	if l.place == "" {
		return station.Coordinate{}, fmt.Errorf("%w: no place configured", ErrLocationUnavailable)
	}

	results, err := l.search(l.place)
	if err != nil {
		return station.Coordinate{}, fmt.Errorf("%w: geocoding error: %w", ErrLocationUnavailable, err)
	}
	if len(results) == 0 {
		return station.Coordinate{}, fmt.Errorf("%w: no results found for %q", ErrLocationUnavailable, l.place)
	}

	pos, err := resultToCoordinate(results[0])
	if err != nil {
		return station.Coordinate{}, fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	l.resolved = &pos
	return pos, nil
}

func resultToCoordinate(result gominatim.SearchResult) (station.Coordinate, error) {
	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return station.Coordinate{}, fmt.Errorf("error parsing latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return station.Coordinate{}, fmt.Errorf("error parsing longitude: %w", err)
	}
	return station.Coordinate{Lat: lat, Lng: lng}, nil
}
