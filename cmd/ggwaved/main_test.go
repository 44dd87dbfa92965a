package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/ggwave-go/internal/config"
	"github.com/MrWong99/ggwave-go/internal/observe"
	"github.com/MrWong99/ggwave-go/internal/server"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/mock"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/native"
)

func TestSlogLevel(t *testing.T) {
	for in, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	} {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRegisterEngines(t *testing.T) {
	reg := config.NewRegistry()
	registerEngines(reg)

	if _, err := reg.CreateEngine(config.CodecConfig{Engine: config.EngineMock}); err != nil {
		t.Errorf("mock engine: %v", err)
	}
	_, err := reg.CreateEngine(config.CodecConfig{Engine: config.EngineNative})
	if native.Available() != (err == nil) {
		t.Errorf("native engine: available=%v err=%v", native.Available(), err)
	}
}

func TestInitTelemetry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	provider, err := initTelemetry(context.Background(), config.Default().Telemetry)
	if err != nil {
		t.Fatalf("initTelemetry: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if otel.GetMeterProvider() != provider.MeterProvider {
		t.Error("meter provider not installed globally")
	}

	rec := httptest.NewRecorder()
	provider.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics output lacks the Go runtime collector")
	}
}

func TestOpenJournal_Memory(t *testing.T) {
	store, checkers, closeFn, err := openJournal(context.Background(), config.JournalConfig{MemoryCapacity: 3}, observe.DefaultMetrics())
	if err != nil {
		t.Fatalf("openJournal: %v", err)
	}
	defer closeFn()
	if store == nil || len(checkers) != 0 {
		t.Errorf("store=%v checkers=%d", store, len(checkers))
	}
}

func TestReloaderApply(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	eng := mock.New()
	srv, err := server.New(context.Background(), eng, ggwave.DefaultParameters(), server.WithMetrics(m))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	level := new(slog.LevelVar)
	r := &reloader{level: level, srv: srv, metrics: m, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	old := config.Default()
	cur := config.Default()
	cur.Server.LogLevel = config.LogDebug
	cur.Codec.RxProtocols = []string{"dt_fast"}
	cur.Codec.Protocol = "mt_normal"
	cur.Codec.Volume = new(15)
	cur.Server.ListenAddr = ":9999"
	r.apply(old, cur)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v", level.Level())
	}
	if eng.RxEnabled(ggwave.AudibleFast) || !eng.RxEnabled(ggwave.DTFast) {
		t.Error("rx protocol set not applied")
	}
	if d := srv.Defaults(); d.Protocol != ggwave.MTNormal || d.Volume != 15 {
		t.Errorf("defaults = %+v", d)
	}
}
