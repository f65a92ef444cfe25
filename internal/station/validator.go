package station

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// maxExactInteger is the largest magnitude a float64 holds without losing integer precision.
const maxExactInteger = 1 << 53

// ValidationError explains why a record failed structural validation.
type ValidationError struct {
	Field   string // Offending field name
	Message string // Human-readable reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q %s", ErrMalformedRecord.Error(), e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedRecord
}

// Validate reports whether raw matches the station schema. It never panics and has no side effects.
//
// Range conditions (available > total, negative values, coordinates off the globe) do not fail
// validation; Accept flags them as Issues for the views to neutralize.
func Validate(raw RawRecord) bool {
	_, err := Accept(raw)
	return err == nil
}

// Accept validates raw and returns the resulting Station.
// It is the only constructor of Station.
func Accept(raw RawRecord) (*Station, error) {
	if raw == nil {
		return nil, &ValidationError{Field: "", Message: "record is not an object"}
	}

	id, err := stringField(raw, FieldID)
	if err != nil {
		return nil, err
	}
	name, err := stringField(raw, FieldName)
	if err != nil {
		return nil, err
	}
	address, err := stringField(raw, FieldAddress)
	if err != nil {
		return nil, err
	}
	lat, err := numberField(raw, FieldLat)
	if err != nil {
		return nil, err
	}
	lng, err := numberField(raw, FieldLng)
	if err != nil {
		return nil, err
	}
	available, err := integerField(raw, FieldAvailable)
	if err != nil {
		return nil, err
	}
	total, err := integerField(raw, FieldTotal)
	if err != nil {
		return nil, err
	}
	cost, err := numberField(raw, FieldCost)
	if err != nil {
		return nil, err
	}
	amenities, err := amenitiesField(raw)
	if err != nil {
		return nil, err
	}

	statusRaw, err := stringField(raw, FieldStatus)
	if err != nil {
		return nil, err
	}
	status, ok := ParseStatus(statusRaw)
	if !ok {
		return nil, &ValidationError{Field: FieldStatus, Message: "is not one of available, busy, offline"}
	}

	s := &Station{
		id:        id,
		name:      name,
		address:   address,
		location:  Coordinate{Lat: lat, Lng: lng},
		available: available,
		total:     total,
		cost:      cost,
		amenities: amenities,
		status:    status,
	}
	s.issues = flagIssues(s)
	return s, nil
}

// AcceptAll partitions a feed into validated stations and rejections, preserving feed order.
// A record whose ID repeats an earlier accepted record is rejected.
func AcceptAll(raws []RawRecord) ([]*Station, []Rejection) {
	accepted := make([]*Station, 0, len(raws))
	var rejected []Rejection
	seen := make(map[string]struct{}, len(raws))

	for i, raw := range raws {
		s, err := Accept(raw)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, ID: rawID(raw), Reason: err})
			continue
		}
		if _, dup := seen[s.id]; dup {
			rejected = append(rejected, Rejection{
				Index:  i,
				ID:     s.id,
				Reason: &ValidationError{Field: FieldID, Message: "duplicates an earlier record"},
			})
			continue
		}
		seen[s.id] = struct{}{}
		accepted = append(accepted, s)
	}
	return accepted, rejected
}

func flagIssues(s *Station) []Issue {
	var issues []Issue
	if !s.location.Valid() {
		issues = append(issues, IssueCoordinateRange)
	}
	if s.available < 0 || s.total < 0 {
		issues = append(issues, IssueNegativeCount)
	}
	if s.available > s.total {
		issues = append(issues, IssueAvailabilityExceedsTotal)
	}
	if s.cost < 0 || math.IsNaN(s.cost) || math.IsInf(s.cost, 0) {
		issues = append(issues, IssueNegativeCost)
	}
	return issues
}

// rawID extracts a printable id for logging, without trusting its type.
func rawID(raw RawRecord) string {
	if raw == nil {
		return ""
	}
	if id, ok := raw[FieldID].(string); ok {
		return id
	}
	return ""
}

func stringField(raw RawRecord, field string) (string, error) {
	v, ok := raw[field]
	if !ok {
		return "", &ValidationError{Field: field, Message: "is missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: field, Message: fmt.Sprintf("must be a string, got %T", v)}
	}
	return s, nil
}

func numberField(raw RawRecord, field string) (float64, error) {
	v, ok := raw[field]
	if !ok {
		return 0, &ValidationError{Field: field, Message: "is missing"}
	}
	f, ok := numberOf(v)
	if !ok {
		return 0, &ValidationError{Field: field, Message: fmt.Sprintf("must be a number, got %T", v)}
	}
	return f, nil
}

func integerField(raw RawRecord, field string) (int, error) {
	v, ok := raw[field]
	if !ok {
		return 0, &ValidationError{Field: field, Message: "is missing"}
	}
	n, ok := integerOf(v)
	if !ok {
		return 0, &ValidationError{Field: field, Message: "must be an integer"}
	}
	return n, nil
}

func amenitiesField(raw RawRecord) ([]string, error) {
	v, ok := raw[FieldAmenities]
	if !ok {
		return nil, &ValidationError{Field: FieldAmenities, Message: "is missing"}
	}

	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			text, ok := textOf(item)
			if !ok {
				return nil, &ValidationError{
					Field:   FieldAmenities,
					Message: fmt.Sprintf("element %d is not text, got %T", i, item),
				}
			}
			out = append(out, text)
		}
		return out, nil
	default:
		return nil, &ValidationError{Field: FieldAmenities, Message: fmt.Sprintf("must be a list, got %T", v)}
	}
}

// numberOf accepts json.Number and every Go numeric kind. Strings and booleans are not numbers.
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// integerOf accepts integral numbers that fit in an int.
func integerOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n > math.MaxInt || n < math.MinInt {
			return 0, false
		}
		return int(n), true
	case json.Number:
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return integerOf(i)
		}
	}

	f, ok := numberOf(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if math.Abs(f) > maxExactInteger {
		return 0, false
	}
	return int(f), true
}

// textOf coerces scalar JSON values to text.
func textOf(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	}
	if f, ok := numberOf(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}
