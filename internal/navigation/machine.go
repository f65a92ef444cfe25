package navigation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/scan"
	"github.com/voltmap/voltmap/internal/station"
)

// Config holds configuration for the navigation machine.
type Config struct {
	// Authorizer checks scanned payloads (default: scan.AcceptAny).
	Authorizer scan.Authorizer

	// Clock stamps charge records (default: time.Now).
	Clock func() time.Time

	// Logger for transitions.
	Logger zerolog.Logger
}

// Machine is the view state machine.
// It is not safe for concurrent use; the client drives it from a single event loop.
type Machine struct {
	view       View
	session    Session
	authorizer scan.Authorizer
	clock      func() time.Time
	logger     zerolog.Logger
}

var _ SessionReader = (*Machine)(nil)

// NewMachine creates a machine showing the map.
func NewMachine(cfg Config) *Machine {
	authorizer := cfg.Authorizer
	if authorizer == nil {
		authorizer = scan.AcceptAny{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Machine{
		view:       MapView{},
		authorizer: authorizer,
		clock:      clock,
		logger:     cfg.Logger,
	}
}

// View returns the active view.
func (m *Machine) View() View { return m.view }

// IsCharging reports whether a charging session is active.
func (m *Machine) IsCharging() bool { return m.session.IsCharging }

// Session returns a copy of the session state.
func (m *Machine) Session() Session {
	out := Session{IsCharging: m.session.IsCharging}
	if m.session.Active != nil {
		active := *m.session.Active
		out.Active = &active
	}
	out.History = make([]ChargeRecord, len(m.session.History))
	copy(out.History, m.session.History)
	return out
}

// Select shows the details of st. It applies from the map, or from details to switch stations.
func (m *Machine) Select(st *station.Station) Transition {
	if st == nil {
		return m.stay("select", "no station")
	}
	switch m.view.(type) {
	case MapView, DetailsView:
		return m.move("select", DetailsView{Station: st})
	default:
		return m.stay("select", "not on map")
	}
}

// StartCharging opens the scanner for the selected station when it is available.
func (m *Machine) StartCharging() Transition {
	details, ok := m.view.(DetailsView)
	if !ok || details.Station == nil {
		return m.stay("start_charging", "no station selected")
	}
	if details.Station.Status() != station.StatusAvailable {
		return m.stay("start_charging", "station not available")
	}
	return m.move("start_charging", ScannerView{Station: details.Station})
}

// ScanResult applies a decoded payload. An authorized payload starts a charging session and
// returns to the map. A rejected payload leaves the scanner open and returns the rejection.
func (m *Machine) ScanResult(ctx context.Context, payload string) (Transition, error) {
	scanner, ok := m.view.(ScannerView)
	if !ok {
		return m.stay("scan_result", "scanner not open"), nil
	}

	var stationID string
	if scanner.Station != nil {
		stationID = scanner.Station.ID()
	}

	authorizedID, err := m.authorizer.Authorize(ctx, stationID, payload)
	if err != nil {
		m.logger.Info().Err(err).Str("station_id", stationID).Msg("scan payload rejected")
		return m.stay("scan_result", "payload rejected"), fmt.Errorf("error authorizing scan: %w", err)
	}

	record := ChargeRecord{
		ID:        "chg_" + uuid.NewString(),
		StationID: authorizedID,
		StartedAt: m.clock(),
	}
	if scanner.Station != nil && scanner.Station.ID() == authorizedID {
		record.StationName = sanitize.Text(scanner.Station.Name())
	}

	m.session.IsCharging = true
	m.session.Active = &record
	m.session.History = append(m.session.History, record)

	m.logger.Info().
		Str("charge_id", record.ID).
		Str("station_id", record.StationID).
		Msg("charging session started")

	return m.move("scan_result", MapView{}), nil
}

// Back returns to the previous view.
func (m *Machine) Back() Transition {
	switch view := m.view.(type) {
	case ScannerView:
		if view.Station == nil {
			return m.move("back", MapView{})
		}
		return m.move("back", DetailsView{Station: view.Station})
	case DetailsView, ProfileView:
		return m.move("back", MapView{})
	default:
		return m.stay("back", "already on map")
	}
}

// NavigateTo switches views from the bottom navigation. Details is not a navigation target.
func (m *Machine) NavigateTo(kind Kind) Transition {
	if m.view.Kind() == kind {
		return m.stay("navigate", "already there")
	}
	switch kind {
	case KindMap:
		return m.move("navigate", MapView{})
	case KindScanner:
		return m.move("navigate", ScannerView{})
	case KindProfile:
		return m.move("navigate", ProfileView{})
	default:
		return m.stay("navigate", "not a navigation target")
	}
}

func (m *Machine) move(event string, to View) Transition {
	from := m.view
	m.view = to

	m.logger.Debug().
		Str("event", event).
		Str("from", string(from.Kind())).
		Str("to", string(to.Kind())).
		Msg("view transition")

	return Transition{From: from, To: to, Changed: true}
}

func (m *Machine) stay(event, reason string) Transition {
	m.logger.Debug().
		Str("event", event).
		Str("view", string(m.view.Kind())).
		Str("reason", reason).
		Msg("event ignored")

	return Transition{From: m.view, To: m.view}
}
