package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSchedulerMetrics_RecordScan(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newSchedulerMetrics(provider.Meter("driftwatch.scheduler"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordScan(ctx, "SUCCEEDED", "periodic", 1.5)
	m.RecordScan(ctx, "FAILED", "manual", 0.2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var found bool
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		if metric.Name != "driftwatch.scans" {
			continue
		}
		found = true
		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 2)
		for _, dp := range sum.DataPoints {
			status, ok := dp.Attributes.Value(attribute.Key("status"))
			require.True(t, ok)
			assert.Contains(t, []string{"SUCCEEDED", "FAILED"}, status.AsString())
			assert.Equal(t, int64(1), dp.Value)
		}
	}
	assert.True(t, found)
}

func TestSchedulerMetrics_NilSafe(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.RecordScan(context.Background(), "SUCCEEDED", "manual", 1)
		m.RecordRejection(context.Background(), "periodic")
		m.started(context.Background())
		m.finished(context.Background())
	})
}
