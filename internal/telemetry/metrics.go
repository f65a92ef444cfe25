package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const clientMeterName = "github.com/voltmap/voltmap/internal/client"

// ClientMetrics holds the instruments recorded by the client and its station feed.
type ClientMetrics struct {
	transitions     metric.Int64Counter
	scans           metric.Int64Counter
	directions      metric.Int64Counter
	locations       metric.Int64Counter
	recordsAccepted metric.Int64Counter
	recordsRejected metric.Int64Counter
	feedDuration    metric.Float64Histogram
	feedRequests    metric.Int64Counter
}

// NewClientMetrics creates client instruments on the global meter provider.
func NewClientMetrics() (*ClientMetrics, error) {
	return NewClientMetricsFromMeter(otel.Meter(clientMeterName))
}

// NewClientMetricsFromMeter creates client instruments on meter.
func NewClientMetricsFromMeter(meter metric.Meter) (*ClientMetrics, error) {
	transitions, err := meter.Int64Counter(
		"client.view.transitions",
		metric.WithDescription("Number of view transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	scans, err := meter.Int64Counter(
		"client.scan.results",
		metric.WithDescription("Number of decoded scan payloads by outcome"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	directions, err := meter.Int64Counter(
		"client.directions.requests",
		metric.WithDescription("Number of directions requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	locations, err := meter.Int64Counter(
		"client.geolocation.results",
		metric.WithDescription("Number of applied geolocation outcomes"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	recordsAccepted, err := meter.Int64Counter(
		"station.records.accepted",
		metric.WithDescription("Number of station records that passed validation"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	recordsRejected, err := meter.Int64Counter(
		"station.records.rejected",
		metric.WithDescription("Number of malformed station records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	feedDuration, err := meter.Float64Histogram(
		"station.feed.request.duration",
		metric.WithDescription("Duration of station feed requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	feedRequests, err := meter.Int64Counter(
		"station.feed.request.total",
		metric.WithDescription("Total number of station feed requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &ClientMetrics{
		transitions:     transitions,
		scans:           scans,
		directions:      directions,
		locations:       locations,
		recordsAccepted: recordsAccepted,
		recordsRejected: recordsRejected,
		feedDuration:    feedDuration,
		feedRequests:    feedRequests,
	}, nil
}

// RecordTransition counts a view change.
func (m *ClientMetrics) RecordTransition(ctx context.Context, event, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("view.from", from),
		attribute.String("view.to", to),
	))
}

// RecordScan counts a scan outcome: accepted, rejected or stale.
func (m *ClientMetrics) RecordScan(ctx context.Context, outcome string) {
	m.scans.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDirections counts a directions request.
func (m *ClientMetrics) RecordDirections(ctx context.Context, opened bool) {
	m.directions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("opened", opened)))
}

// RecordLocation counts an applied geolocation outcome by source.
func (m *ClientMetrics) RecordLocation(ctx context.Context, source string) {
	m.locations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordRefresh records the validation outcome of a station feed refresh.
// Failed fetches are counted by RecordFeedRequest instead.
func (m *ClientMetrics) RecordRefresh(ctx context.Context, source string, accepted, rejected int, err error) {
	if err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("feed.source", source))
	m.recordsAccepted.Add(ctx, int64(accepted), attrs)
	m.recordsRejected.Add(ctx, int64(rejected), attrs)
}

// RecordFeedRequest records one HTTP request to the remote station feed.
func (m *ClientMetrics) RecordFeedRequest(source string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("feed.source", source),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	ctx := context.Background()
	m.feedDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.feedRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}
