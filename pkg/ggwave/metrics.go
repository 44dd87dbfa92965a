package ggwave

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName is the OTel scope for bridge and stream telemetry.
const instrumentationName = "github.com/MrWong99/ggwave-go/pkg/ggwave"

// callBuckets are histogram boundaries (seconds) for single native calls.
// Encodes of long payloads run into the tens of milliseconds.
var callBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// payloadBuckets are histogram boundaries (bytes) for decoded payloads, up
// to the variable-length limit of 140.
var payloadBuckets = []float64{1, 4, 8, 16, 32, 64, 100, 140}

// instruments groups the metric instruments and tracer shared by a bridge,
// its clones and the streams started on it.
type instruments struct {
	tracer trace.Tracer

	callDuration metric.Float64Histogram
	calls        metric.Int64Counter
	sessions     metric.Int64UpDownCounter
	messages     metric.Int64Counter
	payloadSize  metric.Int64Histogram
	decodeFaults metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	m := mp.Meter(instrumentationName)
	ins := &instruments{tracer: tp.Tracer(instrumentationName)}
	var err error

	if ins.callDuration, err = m.Float64Histogram("ggwave.bridge.call.duration",
		metric.WithDescription("Time spent in a bridge call, queueing included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if ins.calls, err = m.Int64Counter("ggwave.bridge.calls",
		metric.WithDescription("Bridge calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if ins.sessions, err = m.Int64UpDownCounter("ggwave.sessions.active",
		metric.WithDescription("Native instances currently held by bridges."),
	); err != nil {
		return nil, err
	}
	if ins.messages, err = m.Int64Counter("ggwave.stream.messages",
		metric.WithDescription("Payloads emitted by stream processors."),
	); err != nil {
		return nil, err
	}
	if ins.payloadSize, err = m.Int64Histogram("ggwave.stream.payload.size",
		metric.WithDescription("Size of payloads emitted by stream processors."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(payloadBuckets...),
	); err != nil {
		return nil, err
	}
	if ins.decodeFaults, err = m.Int64Counter("ggwave.stream.decode_faults",
		metric.WithDescription("Native decode faults seen by stream processors."),
	); err != nil {
		return nil, err
	}
	return ins, nil
}

// callStatus maps a call's error to the "status" attribute value.
func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (ins *instruments) recordCall(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", callStatus(err)),
	)
	ins.callDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	ins.calls.Add(ctx, 1, attrs)
}
