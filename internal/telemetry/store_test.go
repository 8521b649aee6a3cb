package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/telemetry"
	"github.com/Tiliavir/tempo-booker/internal/testutil"
)

func instrumented(t *testing.T, inner *testutil.FakeStore) (*telemetry.InstrumentedStore, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return telemetry.NewInstrumentedStore(inner, tp.Tracer("test"), mp.Meter("test")), rec, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestInstrumentedStoreRecordsCalls(t *testing.T) {
	inner := testutil.NewFakeStore(testutil.Record("1", "ITST-1", "2025-08-25", "09:00:00", "10:00:00"))
	s, rec, reader := instrumented(t, inner)
	ctx := context.Background()

	day := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	records, err := s.FetchRecords(ctx, day, day)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = s.CreateRecord(ctx, model.WorklogInput{IssueID: 11, Date: "2025-08-25", StartTime: "11:00:00", DurationSeconds: 3600})
	require.NoError(t, err)
	require.NoError(t, s.DeleteRecord(ctx, "1"))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "remote.fetch", spans[0].Name())
	assert.Equal(t, "remote.create", spans[1].Name())
	assert.Equal(t, "remote.delete", spans[2].Name())

	assert.Equal(t, int64(3), counter(t, reader, "tbk.remote.operations"))
	assert.Len(t, inner.Calls, 3, "calls reach the wrapped store")
}

func TestInstrumentedStoreRecordsErrors(t *testing.T) {
	inner := testutil.NewFakeStore()
	s, rec, reader := instrumented(t, inner)

	err := s.UpdateRecord(context.Background(), "404", model.WorklogInput{IssueID: 11})
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, int64(1), counter(t, reader, "tbk.remote.errors"))
}

func TestWrapStoreDisabled(t *testing.T) {
	t.Setenv("TBK_OTEL_ENABLED", "")
	inner := testutil.NewFakeStore()
	assert.Same(t, inner, telemetry.WrapStore(inner))
}

func TestInitDisabled(t *testing.T) {
	t.Setenv("TBK_OTEL_ENABLED", "")
	require.NoError(t, telemetry.Init(context.Background(), "tbk", "test"))
	telemetry.Shutdown(context.Background())
}

func TestInitEnabledWrapsStore(t *testing.T) {
	t.Setenv("TBK_OTEL_ENABLED", "true")
	t.Setenv("TBK_OTEL_STDOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	require.NoError(t, telemetry.Init(context.Background(), "tbk", "test"))
	defer telemetry.Shutdown(context.Background())

	inner := testutil.NewFakeStore()
	wrapped := telemetry.WrapStore(inner)
	assert.IsType(t, &telemetry.InstrumentedStore{}, wrapped)
	_, err := wrapped.CreateRecord(context.Background(), model.WorklogInput{IssueID: 11, Date: "2025-08-25", StartTime: "09:00:00", DurationSeconds: 3600})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Writes())
}
