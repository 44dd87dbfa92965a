// Command ggwaved serves the ggwave codec over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/ggwave-go/internal/config"
	"github.com/MrWong99/ggwave-go/internal/health"
	"github.com/MrWong99/ggwave-go/internal/observe"
	"github.com/MrWong99/ggwave-go/internal/resilience"
	"github.com/MrWong99/ggwave-go/internal/server"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/mock"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/native"
	"github.com/MrWong99/ggwave-go/pkg/journal"
	"github.com/MrWong99/ggwave-go/pkg/journal/postgres"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "ggwaved.yaml", "path to the YAML or TOML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ggwaved: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ggwaved: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("ggwaved starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"engine", cfg.Codec.Engine,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerEngines(reg)
	eng, err := reg.CreateEngine(cfg.Codec)
	if err != nil {
		slog.Error("failed to create engine", "engine", cfg.Codec.Engine, "registered", reg.Engines(), "err", err)
		return 1
	}
	params, err := cfg.Codec.ToParameters()
	if err != nil {
		slog.Error("invalid codec parameters", "err", err)
		return 1
	}

	// ── Journal ───────────────────────────────────────────────────────────────
	store, checkers, closeJournal, err := openJournal(ctx, cfg.Journal, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to open journal", "err", err)
		return 1
	}
	defer closeJournal()

	// ── Server ────────────────────────────────────────────────────────────────
	protocol, _ := cfg.Codec.DefaultProtocol()
	srv, err := server.New(ctx, eng, params,
		server.WithLogger(logger),
		server.WithJournal(store),
		server.WithMetrics(observe.DefaultMetrics()),
		server.WithMetricsHandler(provider.MetricsHandler()),
		server.WithCheckers(checkers...),
		server.WithStreamConfig(cfg.Stream.ToStreamConfig()),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithDefaults(server.Defaults{Protocol: protocol, Volume: cfg.Codec.DefaultVolume()}),
		server.WithBridgeOptions(
			ggwave.WithLogger(logger),
			ggwave.WithMeterProvider(provider.MeterProvider),
			ggwave.WithTracerProvider(provider.TracerProvider),
		),
	)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}
	defer srv.Close()

	if err := cfg.Codec.Apply(ctx, srv.Bridge()); err != nil {
		slog.Error("failed to apply codec settings", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		r := &reloader{level: level, srv: srv, metrics: observe.DefaultMetrics(), log: logger}
		w, err := config.NewWatcher(*configPath, r.apply, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
	}

	printStartupSummary(cfg, params)

	var certFile, keyFile string
	if tls := cfg.Server.TLS; tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}
	if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr, certFile, keyFile); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerEngines wires the built-in engine factories into reg.
func registerEngines(reg *config.Registry) {
	reg.RegisterEngine(config.EngineNative, func(config.CodecConfig) (ggwave.Engine, error) {
		return native.New()
	})
	reg.RegisterEngine(config.EngineMock, func(config.CodecConfig) (ggwave.Engine, error) {
		return mock.New(), nil
	})
}

// openJournal selects the PostgreSQL journal when a DSN is configured and
// the in-memory one otherwise. PostgreSQL writes fail over to memory while
// its circuit breaker is open.
func openJournal(ctx context.Context, cfg config.JournalConfig, m *observe.Metrics) (journal.Store, []health.Checker, func(), error) {
	mem := journal.NewMemStore(cfg.MemoryCapacity)
	if cfg.PostgresDSN == "" {
		slog.Info("journal: in memory", "capacity", cfg.MemoryCapacity)
		return mem, nil, func() {}, nil
	}
	pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	j := resilience.NewJournal("journal/postgres", pg, resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	j.AddFallback("journal/memory", mem)
	slog.Info("journal: postgres with in-memory fallback")
	return j, []health.Checker{health.PingChecker("journal", pg.Ping)}, pg.Close, nil
}

// reloader applies the hot-reloadable parts of a changed config file.
type reloader struct {
	level   *slog.LevelVar
	srv     *server.Server
	metrics *observe.Metrics
	log     *slog.Logger
}

func (r *reloader) apply(old, cur *config.Config) {
	ctx := context.Background()
	d := config.Diff(old, cur)
	if !d.Changed() {
		return
	}

	status := "ok"
	if d.LogLevelChanged {
		r.level.Set(slogLevel(d.NewLogLevel))
		r.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EngineSettingsChanged {
		if err := cur.Codec.Apply(ctx, r.srv.Bridge()); err != nil {
			r.log.Error("failed to apply codec settings", "err", err)
			status = "error"
		} else {
			r.log.Info("codec settings applied")
		}
	}
	if d.DefaultsChanged {
		if p, err := cur.Codec.DefaultProtocol(); err == nil {
			r.srv.SetDefaults(server.Defaults{Protocol: p, Volume: cur.Codec.DefaultVolume()})
			r.log.Info("transmit defaults changed", "protocol", p, "volume", cur.Codec.DefaultVolume())
		}
	}
	if len(d.RestartRequired) > 0 {
		r.log.Warn("config sections changed that only apply after a restart", "sections", d.RestartRequired)
	}
	r.metrics.RecordReload(ctx, status)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, p ggwave.Parameters) {
	journalKind := "memory"
	if cfg.Journal.PostgresDSN != "" {
		journalKind = "postgres"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         ggwaved: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Engine          : %-19s ║\n", cfg.Codec.Engine)
	fmt.Printf("║  Sample rate     : %-19.0f ║\n", p.SampleRate)
	fmt.Printf("║  Frame / format  : %-19s ║\n", fmt.Sprintf("%d / %s", p.SamplesPerFrame, p.SampleFormatInp))
	fmt.Printf("║  Framing         : %-19s ║\n", framing(p))
	fmt.Printf("║  Journal         : %-19s ║\n", journalKind)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func framing(p ggwave.Parameters) string {
	if p.FixedLength() {
		return fmt.Sprintf("fixed (%d bytes)", p.PayloadLength)
	}
	return "variable"
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger creates a text logger on stderr whose level follows level, so a
// reload can change it in place.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initTelemetry installs the global OTel providers named after tc. The
// binary version fills in an empty service version.
func initTelemetry(ctx context.Context, tc config.TelemetryConfig) (*observe.Provider, error) {
	serviceVersion := tc.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	return observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: serviceVersion,
	})
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
