package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordEncode(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEncode(ctx, "audible_fast", "wav", 1000)
	m.RecordEncode(ctx, "audible_fast", "wav", 500)
	m.RecordEncode(ctx, "dt_fast", "raw", 64)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "ggwave.server.encoded_bytes", "protocol", "audible_fast"); got != 1500 {
		t.Errorf("audible_fast bytes = %d, want 1500", got)
	}
	if got := sumWhere(t, rm, "ggwave.server.encoded_bytes", "container", "raw"); got != 64 {
		t.Errorf("raw bytes = %d, want 64", got)
	}
}

func TestDecodeCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecoded(ctx, "ws")
	m.RecordDecoded(ctx, "ws")
	m.RecordDecoded(ctx, "http")
	m.RecordDecodeFailure(ctx, "http")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "ggwave.server.decoded_messages", "route", "ws"); got != 2 {
		t.Errorf("ws decoded = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "ggwave.server.decode_failures", "route", "http"); got != 1 {
		t.Errorf("http failures = %d, want 1", got)
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveStreams.Add(ctx, 3)
	m.ActiveStreams.Add(ctx, -1)
	m.JournalErrors.Add(ctx, 1)
	m.RecordReload(ctx, "ok")
	m.RecordBreakerTransition(ctx, "journal/postgres", "open")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "ggwave.server.active_streams", "", ""); got != 2 {
		t.Errorf("active streams = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "ggwave.journal.errors", "", ""); got != 1 {
		t.Errorf("journal errors = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "ggwave.config.reloads", "status", "ok"); got != 1 {
		t.Errorf("reloads = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "ggwave.breaker.transitions", "state", "open"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
