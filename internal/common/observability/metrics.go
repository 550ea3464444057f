package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability holds the otel instruments used by the matching flow. A nil
// *Observability is valid and records nothing.
type Observability struct {
	meterProvider   *metric.MeterProvider
	meter           otelmetric.Meter
	matchRuns       otelmetric.Int64Counter
	matchCandidates otelmetric.Int64Histogram
	rankDuration    otelmetric.Float64Histogram
	meetingPoints   otelmetric.Int64Counter
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	matchRuns, _ := meter.Int64Counter(
		"matching.runs",
		otelmetric.WithDescription("Number of matching runs"),
	)

	matchCandidates, _ := meter.Int64Histogram(
		"matching.results",
		otelmetric.WithDescription("Number of matches returned per run"),
	)

	rankDuration, _ := meter.Float64Histogram(
		"matching.duration",
		otelmetric.WithDescription("Matching run duration"),
		otelmetric.WithUnit("ms"),
	)

	meetingPoints, _ := meter.Int64Counter(
		"matching.meeting_points",
		otelmetric.WithDescription("Meeting point suggestions by source"),
	)

	return &Observability{
		meterProvider:   provider,
		meter:           meter,
		matchRuns:       matchRuns,
		matchCandidates: matchCandidates,
		rankDuration:    rankDuration,
		meetingPoints:   meetingPoints,
	}
}

// RecordMatchRun records one matching run. kind is "request" or "donor",
// outcome is "ok", "degraded", "empty" or "error".
func (o *Observability) RecordMatchRun(ctx context.Context, kind, outcome string, results int, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	if o.matchRuns != nil {
		o.matchRuns.Add(ctx, 1, attrs)
	}
	if o.matchCandidates != nil {
		o.matchCandidates.Record(ctx, int64(results), attrs)
	}
	if o.rankDuration != nil {
		o.rankDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordMeetingPoint(ctx context.Context, source string) {
	if o == nil || o.meetingPoints == nil {
		return
	}
	o.meetingPoints.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", source),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.meterProvider.Shutdown(ctx)
}
