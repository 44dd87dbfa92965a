// Package observe provides service-wide observability primitives for
// ggwaved: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter installed by [InitProvider].
// Codec-level instruments (per-call latency, active sessions) live in
// pkg/ggwave; this package covers the service surface. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/MrWong99/ggwave-go"

// Metrics holds the service's metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram

	// EncodedBytes counts waveform bytes produced by the encode routes.
	// Attributes: protocol, container ("wav" or "raw").
	EncodedBytes metric.Int64Counter

	// DecodedMessages counts payloads recovered. Attributes: route.
	DecodedMessages metric.Int64Counter

	// DecodeFailures counts decode requests the codec rejected.
	DecodeFailures metric.Int64Counter

	// ActiveStreams tracks open WebSocket decode streams.
	ActiveStreams metric.Int64UpDownCounter

	// JournalErrors counts failed journal appends.
	JournalErrors metric.Int64Counter

	// ConfigReloads counts applied config reloads. Attributes: status.
	ConfigReloads metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// name, state (the state entered).
	BreakerTransitions metric.Int64Counter
}

// latencyBuckets are histogram boundaries in seconds. Encode and decode of
// a full message are dominated by waveform size, so the tail is long.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.HTTPRequestDuration, err = m.Float64Histogram("ggwave.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EncodedBytes, err = m.Int64Counter("ggwave.server.encoded_bytes",
		metric.WithDescription("Waveform bytes produced by protocol and container."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecodedMessages, err = m.Int64Counter("ggwave.server.decoded_messages",
		metric.WithDescription("Payloads recovered by route."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("ggwave.server.decode_failures",
		metric.WithDescription("Decode requests rejected by the codec."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("ggwave.server.active_streams",
		metric.WithDescription("Open WebSocket decode streams."),
	); err != nil {
		return nil, err
	}
	if met.JournalErrors, err = m.Int64Counter("ggwave.journal.errors",
		metric.WithDescription("Failed journal appends."),
	); err != nil {
		return nil, err
	}
	if met.ConfigReloads, err = m.Int64Counter("ggwave.config.reloads",
		metric.WithDescription("Config reloads by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("ggwave.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and entered state."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the exporting provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEncode counts n waveform bytes produced for protocol.
func (m *Metrics) RecordEncode(ctx context.Context, protocol, container string, n int) {
	m.EncodedBytes.Add(ctx, int64(n),
		metric.WithAttributes(
			attribute.String("protocol", protocol),
			attribute.String("container", container),
		),
	)
}

// RecordDecoded counts one recovered payload on route.
func (m *Metrics) RecordDecoded(ctx context.Context, route string) {
	m.DecodedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (m *Metrics) RecordDecodeFailure(ctx context.Context, route string) {
	m.DecodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RecordReload counts a config reload with status "ok" or "error".
func (m *Metrics) RecordReload(ctx context.Context, status string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition counts breaker name entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("name", name),
			attribute.String("state", state),
		),
	)
}
