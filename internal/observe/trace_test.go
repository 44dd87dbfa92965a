package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer makes a recording provider global for the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureDefault swaps slog.Default for a text logger writing to the
// returned buffer.
func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan_RecordsUnderServiceScope(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "ggwave.decode.ws")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan returned a context without a trace ID")
	}
	_, child := StartSpan(ctx, "ggwave.journal.append")
	child.End()
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	journal, stream := spans[0], spans[1]
	if journal.Name != "ggwave.journal.append" || stream.Name != "ggwave.decode.ws" {
		t.Errorf("span names = %q, %q", journal.Name, stream.Name)
	}
	if journal.Parent.SpanID() != stream.SpanContext.SpanID() {
		t.Error("journal span is not a child of the stream span")
	}
	if scope := stream.InstrumentationScope.Name; scope != tracerName {
		t.Errorf("scope = %q, want %q", scope, tracerName)
	}
}

func TestCorrelationID(t *testing.T) {
	installTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "ggwave.encode")
		id := CorrelationID(ctx)
		span.End()
		if _, err := hex.DecodeString(id); err != nil || len(id) != 32 {
			t.Fatalf("correlation ID %q is not 32 hex digits", id)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation ID %s", id)
		}
		seen[id] = true
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)
	spanCtx, span := StartSpan(context.Background(), "ggwave.decode")
	defer span.End()

	tests := []struct {
		name      string
		ctx       context.Context
		wantTrace bool
	}{
		{"inside span", spanCtx, true},
		{"no span", context.Background(), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureDefault(t)
			Logger(tc.ctx).Info("payload decoded")

			logged := buf.String()
			hasTrace := strings.Contains(logged, "trace_id=") && strings.Contains(logged, "span_id=")
			if hasTrace != tc.wantTrace {
				t.Errorf("trace fields present = %v, want %v: %s", hasTrace, tc.wantTrace, logged)
			}
		})
	}
}

func TestLoggerFrom_UsesBase(t *testing.T) {
	installTracer(t)
	ctx, span := StartSpan(context.Background(), "ggwave.decode.ws")
	defer span.End()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With(slog.String("stream_id", "s-1"))
	LoggerFrom(ctx, base).Info("decoded")

	logged := buf.String()
	if !strings.Contains(logged, "stream_id=s-1") || !strings.Contains(logged, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log output = %s", logged)
	}
	if LoggerFrom(context.Background(), base) != base {
		t.Error("LoggerFrom without a span should return base unchanged")
	}
}
