// Package navigation sequences the client's views and owns the charging session state.
package navigation

import (
	"time"

	"github.com/voltmap/voltmap/internal/sanitize"
	"github.com/voltmap/voltmap/internal/station"
)

// Kind identifies a view.
type Kind string

const (
	KindMap     Kind = "map"
	KindDetails Kind = "details"
	KindScanner Kind = "scanner"
	KindProfile Kind = "profile"
)

// ParseKind returns the kind named by s.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindMap, KindDetails, KindScanner, KindProfile:
		return Kind(s), true
	default:
		return "", false
	}
}

// View is the active screen. The set of variants is closed.
type View interface {
	Kind() Kind
	isView()
}

// MapView shows the station map and list.
type MapView struct{}

// DetailsView shows one selected station.
type DetailsView struct {
	Station *station.Station
}

// ScannerView captures an authorization code.
// Station is nil when the scanner was opened from the bottom navigation.
type ScannerView struct {
	Station *station.Station
}

// ProfileView shows the user's charging history.
type ProfileView struct{}

func (MapView) Kind() Kind     { return KindMap }
func (DetailsView) Kind() Kind { return KindDetails }
func (ScannerView) Kind() Kind { return KindScanner }
func (ProfileView) Kind() Kind { return KindProfile }

func (MapView) isView()     {}
func (DetailsView) isView() {}
func (ScannerView) isView() {}
func (ProfileView) isView() {}

// SelectedStation returns the station a view carries, if any.
func SelectedStation(v View) *station.Station {
	switch view := v.(type) {
	case DetailsView:
		return view.Station
	case ScannerView:
		return view.Station
	default:
		return nil
	}
}

// Transition describes the effect of one machine event.
type Transition struct {
	From    View
	To      View
	Changed bool
}

// LeftScanner reports whether the transition moved out of the scanner.
func (t Transition) LeftScanner() bool {
	return t.Changed && t.From.Kind() == KindScanner && t.To.Kind() != KindScanner
}

// EnteredScanner reports whether the transition moved into the scanner.
func (t Transition) EnteredScanner() bool {
	return t.Changed && t.From.Kind() != KindScanner && t.To.Kind() == KindScanner
}

// ChargeRecord is one authorized charging session.
type ChargeRecord struct {
	ID          string         `json:"id"`
	StationID   string         `json:"station_id"`
	StationName sanitize.Field `json:"station_name"`
	StartedAt   time.Time      `json:"started_at"`
}

// Session is the charging state. Only a successful scan writes it.
type Session struct {
	IsCharging bool
	Active     *ChargeRecord
	History    []ChargeRecord
}

// SessionReader exposes the charging flag to views.
type SessionReader interface {
	IsCharging() bool
}
