// Package server exposes the codec over HTTP: encode to WAV or raw
// waveform, one-shot and streaming (WebSocket) decode, process-wide protocol
// toggles, the decoded-message journal, and health and metrics endpoints.
//
// Encode, one-shot decode and protocol toggles share one Bridge. Every
// WebSocket stream gets a Bridge of its own because streaming decode state
// lives in the native instance and cannot be shared.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrWong99/ggwave-go/internal/health"
	"github.com/MrWong99/ggwave-go/internal/observe"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/journal"
)

// defaultMaxBody caps request bodies when no limit is configured.
const defaultMaxBody = 16 << 20

// Defaults are the transmit settings used when an encode request omits them.
type Defaults struct {
	Protocol ggwave.ProtocolID
	Volume   int
}

// Server holds the shared codec session and serves the HTTP API. Create it
// with [New] and release it with [Server.Close].
type Server struct {
	engine ggwave.Engine
	params ggwave.Parameters
	bridge *ggwave.Bridge

	log        *slog.Logger
	journal    journal.Store
	metrics    *observe.Metrics
	metricsH   http.Handler
	checkers   []health.Checker
	streamCfg  ggwave.StreamConfig
	maxBody    int64
	bridgeOpts []ggwave.BridgeOption

	defaults atomic.Pointer[Defaults]

	// streams counts the per-connection bridges currently holding a native
	// instance.
	streams atomic.Int64
}

// Option configures a [Server].
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithJournal records decoded messages in j. Defaults to an in-memory store.
func WithJournal(j journal.Store) Option {
	return func(s *Server) { s.journal = j }
}

// WithMetrics sets the service instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithCheckers adds readiness checks next to the built-in engine and
// capacity checks.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithStreamConfig tunes the stream processor behind /v1/decode/ws.
func WithStreamConfig(c ggwave.StreamConfig) Option {
	return func(s *Server) { s.streamCfg = c }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithDefaults sets the initial transmit defaults.
func WithDefaults(d Defaults) Option {
	return func(s *Server) { s.defaults.Store(&d) }
}

// WithBridgeOptions is passed to every Bridge the server creates.
func WithBridgeOptions(opts ...ggwave.BridgeOption) Option {
	return func(s *Server) { s.bridgeOpts = append(s.bridgeOpts, opts...) }
}

// New allocates the shared session on e and returns a ready server.
func New(ctx context.Context, e ggwave.Engine, p ggwave.Parameters, opts ...Option) (*Server, error) {
	s := &Server{
		engine:  e,
		params:  p,
		log:     slog.Default(),
		maxBody: defaultMaxBody,
	}
	s.defaults.Store(&Defaults{Protocol: ggwave.AudibleFast, Volume: ggwave.DefaultVolume})
	for _, o := range opts {
		o(s)
	}
	if s.journal == nil {
		s.journal = journal.NewMemStore(0)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	b, err := ggwave.NewBridge(ctx, e, p, s.bridgeOpts...)
	if err != nil {
		return nil, fmt.Errorf("server: create shared session: %w", err)
	}
	s.bridge = b
	return s, nil
}

// Bridge returns the shared session handle. Process-wide settings applied
// through it affect every stream.
func (s *Server) Bridge() *ggwave.Bridge { return s.bridge }

// InstancesInUse reports the native instances this server holds: the shared
// session plus one per open decode stream.
func (s *Server) InstancesInUse() int { return 1 + int(s.streams.Load()) }

// Defaults returns the current transmit defaults.
func (s *Server) Defaults() Defaults { return *s.defaults.Load() }

// SetDefaults replaces the transmit defaults. Safe to call while serving.
func (s *Server) SetDefaults(d Defaults) { s.defaults.Store(&d) }

// Close releases the shared session. Open streams keep their own sessions
// until their connections end.
func (s *Server) Close() error { return s.bridge.Close() }

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/encode", s.handleEncodeWAV)
	mux.HandleFunc("POST /v1/encode/raw", s.handleEncodeRaw)
	mux.HandleFunc("POST /v1/decode", s.handleDecode)
	mux.HandleFunc("GET /v1/decode/ws", s.handleDecodeWS)
	mux.HandleFunc("GET /v1/protocols", s.handleListProtocols)
	mux.HandleFunc("PUT /v1/protocols/{name}", s.handleToggleProtocol)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)

	checkers := append([]health.Checker{
		health.CodecChecker(s.bridge),
		health.CapacityChecker("capacity", s.InstancesInUse, ggwave.MaxInstances),
	}, s.checkers...)
	health.New(checkers...).Register(mux)

	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves [Server.Handler] on addr until ctx ends, then shuts
// down gracefully. TLS is used when both certFile and keyFile are set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr, "tls", certFile != "")
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.log.Info("http server stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
