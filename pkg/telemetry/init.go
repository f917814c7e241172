// Package telemetry wires OpenTelemetry tracing and the ingestion metric instruments.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/DrSkyle/cloudtail/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Options configures Init.
type Options struct {
	// Endpoint is the OTLP/HTTP base URL. Empty falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string
	// Attributes are added to the resource next to the service name and version.
	Attributes []attribute.KeyValue
}

// Provider owns the tracer and meter providers installed by Init.
type Provider struct {
	Resource *resource.Resource
	Tracer   *sdktrace.TracerProvider
	Meter    *sdkmetric.MeterProvider
	// Reader is set when no endpoint is configured. Metrics then stay in memory until
	// collected through it.
	Reader *sdkmetric.ManualReader
}

// Init installs global tracer and meter providers. With an endpoint, spans and metrics
// are exported over OTLP/HTTP; without one, spans are discarded and metrics are only
// readable through Provider.Reader.
func Init(ctx context.Context, opts Options) (*Provider, error) {
	res, err := NewResource(ctx, opts.Attributes...)
	if err != nil {
		return nil, err
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	p := &Provider{Resource: res}
	var (
		spans  sdktrace.SpanExporter
		reader sdkmetric.Reader
	)
	if endpoint != "" {
		if spans, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint)); err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		metrics, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(metrics)
	} else {
		if spans, err = stdouttrace.New(stdouttrace.WithWriter(io.Discard)); err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		p.Reader = sdkmetric.NewManualReader()
		reader = p.Reader
	}

	p.Tracer = sdktrace.NewTracerProvider(sdktrace.WithBatcher(spans), sdktrace.WithResource(res))
	p.Meter = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	otel.SetTracerProvider(p.Tracer)
	otel.SetMeterProvider(p.Meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return p, nil
}

// NewResource describes this cloudtail build. Detector attributes carry their own
// schema URL, so the service attributes are added schemaless to avoid a conflict.
func NewResource(ctx context.Context, extra ...attribute.KeyValue) (*resource.Resource, error) {
	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(version.AppName),
		semconv.ServiceVersion(version.Current),
	}, extra...)
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
