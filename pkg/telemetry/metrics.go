package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the ingestion instruments. They record against the global meter
// provider, which is a no-op until an embedder installs one.
type Metrics struct {
	events metric.Int64Counter
	units  metric.Int64Counter
}

// NewMetrics creates the instruments on the named meter.
func NewMetrics(name string) (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(name))
}

// NewMetricsFrom creates the instruments on m.
func NewMetricsFrom(m metric.Meter) (*Metrics, error) {
	events, err := m.Int64Counter("cloudtail.events.ingested",
		metric.WithDescription("Event rows newly stored"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	units, err := m.Int64Counter("cloudtail.units",
		metric.WithDescription("Ingestion units by outcome"),
		metric.WithUnit("{unit}"))
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events, units: units}, nil
}

// RecordUnit counts one finished unit and the events it stored.
func (m *Metrics) RecordUnit(ctx context.Context, provider, outcome string, inserted int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	m.units.Add(ctx, 1, attrs)
	if inserted > 0 {
		m.events.Add(ctx, int64(inserted), metric.WithAttributes(attribute.String("provider", provider)))
	}
}
