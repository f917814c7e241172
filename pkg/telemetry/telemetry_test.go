package telemetry

import (
	"context"
	"testing"

	"github.com/DrSkyle/cloudtail/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestInit_ResourceDescribesBuild(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	ctx := context.Background()

	p, err := Init(ctx, Options{Attributes: []attribute.KeyValue{attribute.Int("cloudtail.concurrency", 4)}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	attrs := p.Resource.Set()
	name, _ := attrs.Value(semconv.ServiceNameKey)
	ver, _ := attrs.Value(semconv.ServiceVersionKey)
	conc, _ := attrs.Value("cloudtail.concurrency")
	assert.Equal(t, version.AppName, name.AsString())
	assert.Equal(t, version.Current, ver.AsString())
	assert.Equal(t, int64(4), conc.AsInt64())
	require.NotNil(t, p.Reader, "no endpoint keeps metrics in memory")
}

func TestMetrics_RecordUnitThroughInstalledProvider(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	ctx := context.Background()

	p, err := Init(ctx, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics("cloudtail/test")
	require.NoError(t, err)
	m.RecordUnit(ctx, "aws", "recorded", 3)
	m.RecordUnit(ctx, "aws", "recorded", 0)
	m.RecordUnit(ctx, "azure", "skipped", 0)

	var rm metricdata.ResourceMetrics
	require.NoError(t, p.Reader.Collect(ctx, &rm))

	sums := map[string]map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			data, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range data.DataPoints {
				key := dp.Attributes.Encoded(attribute.DefaultEncoder())
				if sums[md.Name] == nil {
					sums[md.Name] = map[string]int64{}
				}
				sums[md.Name][key] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), sums["cloudtail.units"]["outcome=recorded,provider=aws"])
	assert.Equal(t, int64(1), sums["cloudtail.units"]["outcome=skipped,provider=azure"])
	assert.Equal(t, int64(3), sums["cloudtail.events.ingested"]["provider=aws"])
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordUnit(context.Background(), "aws", "recorded", 1)
}
