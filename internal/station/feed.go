package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Source yields raw station records from the feed.
type Source interface {
	// Fetch retrieves the current feed contents.
	Fetch(ctx context.Context) ([]RawRecord, error)
	// Name returns the source identifier for logging.
	Name() string
}

// feedEnvelope is the object form of the feed: {"stations": [...]}.
type feedEnvelope struct {
	Stations []json.RawMessage `json:"stations"`
}

// ParseFeed decodes a feed document. Both a bare JSON array and a {"stations": [...]} envelope
// are accepted. Numbers are kept as json.Number so integer fields can be checked exactly.
// Array entries that are not objects become nil records, which fail validation, instead of
// failing the whole feed.
func ParseFeed(r io.Reader) ([]RawRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading feed: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("error decoding feed: empty document")
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("error decoding feed: %w", err)
		}
	case '{':
		var env feedEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("error decoding feed: %w", err)
		}
		items = env.Stations
	default:
		return nil, fmt.Errorf("error decoding feed: expected array or object")
	}

	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		records = append(records, decodeRecord(item))
	}
	return records, nil
}

func decodeRecord(item json.RawMessage) RawRecord {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()

	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil
	}
	return RawRecord(rec)
}

// StaticSource serves a fixed set of records from memory.
type StaticSource struct {
	records []RawRecord
}

// NewStaticSource creates a source over the given records.
func NewStaticSource(records []RawRecord) *StaticSource {
	return &StaticSource{records: records}
}

// NewMockSource creates a source over the built-in demo stations.
func NewMockSource() *StaticSource {
	return NewStaticSource(MockRecords())
}

// Fetch returns a shallow copy of the configured records.
func (s *StaticSource) Fetch(_ context.Context) ([]RawRecord, error) {
	out := make([]RawRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Name returns "static".
func (s *StaticSource) Name() string {
	return "static"
}

// MockRecords returns the demo stations shipped with the client.
func MockRecords() []RawRecord {
	return []RawRecord{
		{
			FieldID: "1", FieldName: "Downtown Plaza", FieldAddress: "100 Biscayne Blvd, Miami, FL",
			FieldLat: 25.7617, FieldLng: -80.1918, FieldAvailable: 3, FieldTotal: 4, FieldCost: 0.35,
			FieldAmenities: []any{"WiFi"}, FieldStatus: string(StatusAvailable),
		},
		{
			FieldID: "2", FieldName: "Brickell City Centre", FieldAddress: "701 S Miami Ave, Miami, FL",
			FieldLat: 25.7663, FieldLng: -80.1931, FieldAvailable: 0, FieldTotal: 6, FieldCost: 0.42,
			FieldAmenities: []any{"Restrooms", "Coffee"}, FieldStatus: string(StatusBusy),
		},
		{
			FieldID: "3", FieldName: "Wynwood Walls Lot", FieldAddress: "2520 NW 2nd Ave, Miami, FL",
			FieldLat: 25.8010, FieldLng: -80.1993, FieldAvailable: 2, FieldTotal: 2, FieldCost: 0.29,
			FieldAmenities: []any{"Food", "WiFi"}, FieldStatus: string(StatusAvailable),
		},
		{
			FieldID: "4", FieldName: "Coconut Grove Marina", FieldAddress: "2550 S Bayshore Dr, Miami, FL",
			FieldLat: 25.7280, FieldLng: -80.2335, FieldAvailable: 0, FieldTotal: 3, FieldCost: 0.38,
			FieldAmenities: []any{}, FieldStatus: string(StatusOffline),
		},
		{
			FieldID: "5", FieldName: "Little Havana Hub", FieldAddress: "1637 SW 8th St, Miami, FL",
			FieldLat: 25.7654, FieldLng: -80.2204, FieldAvailable: 1, FieldTotal: 4, FieldCost: 0.31,
			FieldAmenities: []any{"Shopping"}, FieldStatus: string(StatusAvailable),
		},
	}
}

// FileSource reads the feed document from a local file on every fetch.
type FileSource struct {
	path string
}

// NewFileSource creates a source over the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch reads and parses the file.
func (s *FileSource) Fetch(ctx context.Context) ([]RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("error opening feed file: %w", err)
	}
	defer f.Close()

	return ParseFeed(f)
}

// Name returns "file".
func (s *FileSource) Name() string {
	return "file"
}
