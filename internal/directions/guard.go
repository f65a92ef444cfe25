// Package directions builds outbound mapping-service links from station coordinates.
// It is the only code allowed to turn coordinates into an externally opened URL.
package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// ErrInvalidCoordinate indicates a coordinate that cannot be used in a directions link.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// DefaultBaseURL is the mapping service used when none is configured.
const DefaultBaseURL = "https://www.google.com/maps"

// Opener opens a URL in a new navigation context.
type Opener interface {
	Open(ctx context.Context, target *url.URL) error
}

// Guard validates coordinates and builds directions links.
type Guard struct {
	base *url.URL
}

// NewGuard creates a guard for the given mapping-service base URL.
// The base must be an absolute https URL without a query or fragment.
func NewGuard(baseURL string) (*Guard, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing directions base url: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("directions base url must be absolute https, got %q", baseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("directions base url must not carry a query or fragment")
	}
	return &Guard{base: u}, nil
}

// Target builds <base>?q=<lat>,<lng>. Each coordinate is parsed, range checked and
// percent-encoded on its own; any failure returns an error wrapping ErrInvalidCoordinate.
func (g *Guard) Target(lat, lng any) (*url.URL, error) {
	latV, err := parse("lat", lat, 90)
	if err != nil {
		return nil, err
	}
	lngV, err := parse("lng", lng, 180)
	if err != nil {
		return nil, err
	}

	target := *g.base
	target.RawQuery = "q=" + url.QueryEscape(format(latV)) + "," + url.QueryEscape(format(lngV))
	return &target, nil
}

// Open builds the target and hands it to opener. On rejection the opener is not called.
func (g *Guard) Open(ctx context.Context, opener Opener, lat, lng any) (*url.URL, error) {
	target, err := g.Target(lat, lng)
	if err != nil {
		return nil, err
	}
	if err := opener.Open(ctx, target); err != nil {
		return nil, fmt.Errorf("error opening directions: %w", err)
	}
	return target, nil
}

func parse(name string, v any, limit float64) (float64, error) {
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidCoordinate, name)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrInvalidCoordinate, name)
	}
	if f < -limit || f > limit {
		return 0, fmt.Errorf("%w: %s %v outside [-%v, %v]", ErrInvalidCoordinate, name, f, limit, limit)
	}
	return f, nil
}

func format(v float64) string {
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		return parseDecimal(string(n))
	case string:
		return parseDecimal(n)
	default:
		return 0, false
	}
}

// parseDecimal accepts plain decimal notation only, so strings like "0x1p3" or "Inf" are refused.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
		case (r == '-' || r == '+') && i == 0:
		case r == 'e' || r == 'E' || ((r == '-' || r == '+') && (s[i-1] == 'e' || s[i-1] == 'E')):
		default:
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// recordingLimit bounds the URLs a RecordingOpener keeps.
const recordingLimit = 32

// RecordingOpener keeps the most recently opened URLs in memory. The HTTP surface hands them
// to the shell.
type RecordingOpener struct {
	mu     sync.Mutex
	opened []*url.URL
}

// Open records target.
func (o *RecordingOpener) Open(_ context.Context, target *url.URL) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, target)
	if len(o.opened) > recordingLimit {
		o.opened = o.opened[len(o.opened)-recordingLimit:]
	}
	return nil
}

// Opened returns the recorded URLs in order.
func (o *RecordingOpener) Opened() []*url.URL {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*url.URL, len(o.opened))
	copy(out, o.opened)
	return out
}

// Last returns the most recently opened URL, or nil.
func (o *RecordingOpener) Last() *url.URL {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}
