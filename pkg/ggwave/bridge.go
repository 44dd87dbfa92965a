package ggwave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Bridge shares one [Session] between any number of goroutines. Every
// native call, including session creation and teardown, runs on a single
// worker goroutine locked to its OS thread. Calls are queued on a channel
// and complete one at a time in arrival order.
//
// Cancelling a call's context abandons the wait only: a job the worker has
// already picked up runs to completion and its result is dropped. The bridge
// imposes no timeout of its own.
//
// [Bridge.Clone] returns another handle to the same Session. The Session is
// closed when the last handle is closed.
type Bridge struct {
	core     *bridgeCore
	released atomic.Bool
}

// bridgeCore is the state shared by a bridge and all of its clones.
type bridgeCore struct {
	params Parameters
	log    *slog.Logger
	ins    *instruments

	jobs chan func(*Session)
	quit chan struct{} // closed when the last handle is released
	done chan struct{} // closed when the worker has exited

	mu   sync.Mutex
	refs int
}

// BridgeOption configures a [Bridge].
type BridgeOption func(*bridgeOptions)

type bridgeOptions struct {
	logger    *slog.Logger
	meters    metric.MeterProvider
	tracers   trace.TracerProvider
	queueSize int
}

// WithLogger sets the logger used by the bridge and the streams started on
// it. Defaults to slog.Default().
func WithLogger(l *slog.Logger) BridgeOption {
	return func(o *bridgeOptions) { o.logger = l }
}

// WithMeterProvider sets the OTel meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) BridgeOption {
	return func(o *bridgeOptions) { o.meters = mp }
}

// WithTracerProvider sets the OTel tracer provider. Defaults to the global
// one.
func WithTracerProvider(tp trace.TracerProvider) BridgeOption {
	return func(o *bridgeOptions) { o.tracers = tp }
}

// WithQueueSize lets up to n calls wait in the queue without a rendezvous
// with the worker. Ordering is FIFO either way. Defaults to 0.
func WithQueueSize(n int) BridgeOption {
	return func(o *bridgeOptions) { o.queueSize = max(n, 0) }
}

// NewBridge creates a Session for p on a fresh worker and returns the first
// handle to it. Parameter validation happens before the worker starts. If
// ctx ends before the native instance is ready, NewBridge returns ctx.Err()
// and the instance is released as soon as it exists.
func NewBridge(ctx context.Context, e Engine, p Parameters, opts ...BridgeOption) (*Bridge, error) {
	if e == nil {
		return nil, &ParameterError{Field: "engine", Reason: "must not be nil"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	o := bridgeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	ins, err := newInstruments(o.meters, o.tracers)
	if err != nil {
		return nil, fmt.Errorf("ggwave: create instruments: %w", err)
	}

	c := &bridgeCore{
		params: p,
		log:    o.logger,
		ins:    ins,
		jobs:   make(chan func(*Session), o.queueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		refs:   1,
	}
	ready := make(chan error, 1)
	go c.run(e, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		go func() {
			if err := <-ready; err == nil {
				close(c.quit)
			}
		}()
		return nil, ctx.Err()
	}
	return &Bridge{core: c}, nil
}

// run is the worker loop. It owns the Session for its whole life.
func (c *bridgeCore) run(e Engine, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	sess, err := NewSession(e, c.params)
	ready <- err
	if err != nil {
		c.log.Warn("ggwave: session allocation failed", "error", err)
		return
	}
	ctx := context.Background()
	c.ins.sessions.Add(ctx, 1)
	c.log.Debug("ggwave: session opened", "handle", int(sess.Handle()))
	defer func() {
		_ = sess.Close()
		c.ins.sessions.Add(ctx, -1)
		c.log.Debug("ggwave: session closed", "handle", int(sess.Handle()))
	}()

	for {
		select {
		case job := <-c.jobs:
			job(sess)
		case <-c.quit:
			return
		}
	}
}

// Parameters returns the parameters of the shared Session.
func (b *Bridge) Parameters() Parameters { return b.core.params }

// Clone returns a new handle to the same Session. Cloning a closed handle
// returns a closed handle.
func (b *Bridge) Clone() *Bridge {
	nb := &Bridge{core: b.core}
	if b.released.Load() {
		nb.released.Store(true)
		return nb
	}
	c := b.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		nb.released.Store(true)
		return nb
	}
	c.refs++
	return nb
}

// Close releases this handle. Releasing the last handle closes the Session
// on the worker and waits for the worker to exit, which includes any job it
// is currently running. Closing a handle twice is a no-op.
func (b *Bridge) Close() error {
	if !b.released.CompareAndSwap(false, true) {
		return nil
	}
	c := b.core
	c.mu.Lock()
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()
	if last {
		close(c.quit)
		<-c.done
	}
	return nil
}

type callResult[T any] struct {
	val T
	err error
}

// call runs fn on the worker and waits for its result.
func call[T any](ctx context.Context, b *Bridge, op string, fn func(*Session) (T, error)) (T, error) {
	var zero T
	if b.released.Load() {
		return zero, ErrSessionClosed
	}
	c := b.core

	start := time.Now()
	ctx, span := c.ins.tracer.Start(ctx, "ggwave.bridge."+op,
		trace.WithAttributes(attribute.String("ggwave.op", op)))
	defer span.End()

	res := make(chan callResult[T], 1)
	job := func(s *Session) {
		var r callResult[T]
		defer func() {
			if p := recover(); p != nil {
				c.log.Error("ggwave: bridge worker panicked", "op", op, "panic", p)
				r = callResult[T]{err: &TaskError{Op: op, Panic: p}}
			}
			res <- r
		}()
		r.val, r.err = fn(s)
	}

	finish := func(v T, err error) (T, error) {
		c.ins.recordCall(ctx, op, start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return v, err
	}

	select {
	case c.jobs <- job:
	case <-ctx.Done():
		return finish(zero, ctx.Err())
	case <-c.quit:
		return finish(zero, ErrSessionClosed)
	}

	select {
	case r := <-res:
		return finish(r.val, r.err)
	case <-ctx.Done():
		return finish(zero, ctx.Err())
	case <-c.done:
		// The worker may have completed the job just before exiting.
		select {
		case r := <-res:
			return finish(r.val, r.err)
		default:
			return finish(zero, ErrSessionClosed)
		}
	}
}

// EncodeBufferSize is [Session.EncodeBufferSize] on the worker.
func (b *Bridge) EncodeBufferSize(ctx context.Context, payload []byte, protocol ProtocolID, volume int) (int, error) {
	in := bytes.Clone(payload)
	return call(ctx, b, "encode_buffer_size", func(s *Session) (int, error) {
		return s.EncodeBufferSize(in, protocol, volume)
	})
}

// Encode is [Session.Encode] on the worker. Query and fill run as one job.
func (b *Bridge) Encode(ctx context.Context, payload []byte, protocol ProtocolID, volume int) ([]byte, error) {
	in := bytes.Clone(payload)
	return call(ctx, b, "encode", func(s *Session) ([]byte, error) {
		return s.Encode(in, protocol, volume)
	})
}

// EncodeText is Encode for a string payload.
func (b *Bridge) EncodeText(ctx context.Context, text string, protocol ProtocolID, volume int) ([]byte, error) {
	return b.Encode(ctx, []byte(text), protocol, volume)
}

// EncodeInto is [Session.EncodeInto] on the worker. The worker encodes into
// its own buffer; buf is only written after a successful call, so an
// abandoned call never touches it.
func (b *Bridge) EncodeInto(ctx context.Context, payload []byte, protocol ProtocolID, volume int, buf []byte) (int, error) {
	in := bytes.Clone(payload)
	size := len(buf)
	out, err := call(ctx, b, "encode_into", func(s *Session) ([]byte, error) {
		tmp := make([]byte, size)
		n, err := s.EncodeInto(in, protocol, volume, tmp)
		if err != nil {
			return nil, err
		}
		return tmp[:n], nil
	})
	if err != nil {
		return 0, err
	}
	return copy(buf, out), nil
}

// DecodeFull is [Session.DecodeFull] on the worker.
func (b *Bridge) DecodeFull(ctx context.Context, waveform []byte, capacity int) ([]byte, error) {
	in := bytes.Clone(waveform)
	return call(ctx, b, "decode_full", func(s *Session) ([]byte, error) {
		return s.DecodeFull(in, capacity)
	})
}

// DecodeText is [Session.DecodeText] on the worker.
func (b *Bridge) DecodeText(ctx context.Context, waveform []byte, capacity int) (string, error) {
	in := bytes.Clone(waveform)
	return call(ctx, b, "decode_text", func(s *Session) (string, error) {
		return s.DecodeText(in, capacity)
	})
}

type chunkResult struct {
	payload []byte
	ok      bool
}

// DecodeChunk is [Session.DecodeChunk] on the worker. Streaming state is
// shared by every clone, so only one logical stream may feed a bridge.
func (b *Bridge) DecodeChunk(ctx context.Context, chunk []byte, capacity int) ([]byte, bool, error) {
	in := bytes.Clone(chunk)
	r, err := call(ctx, b, "decode_chunk", func(s *Session) (chunkResult, error) {
		p, ok, err := s.DecodeChunk(in, capacity)
		return chunkResult{p, ok}, err
	})
	return r.payload, r.ok, err
}

// DecodeChunkText is [Session.DecodeChunkText] on the worker.
func (b *Bridge) DecodeChunkText(ctx context.Context, chunk []byte, capacity int) (string, bool, error) {
	payload, ok, err := b.DecodeChunk(ctx, chunk, capacity)
	if err != nil || !ok {
		return "", ok, err
	}
	text, err := textOf(payload)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// RxDurationFrames is [Session.RxDurationFrames] on the worker.
func (b *Bridge) RxDurationFrames(ctx context.Context) (int, error) {
	return call(ctx, b, "rx_duration_frames", func(s *Session) (int, error) {
		return s.RxDurationFrames()
	})
}

// ToggleRxProtocol runs [Session.ToggleRxProtocol] on the worker. The change
// is process-wide.
func (b *Bridge) ToggleRxProtocol(ctx context.Context, p ProtocolID, enabled bool) error {
	_, err := call(ctx, b, "toggle_rx_protocol", func(s *Session) (struct{}, error) {
		return struct{}{}, s.ToggleRxProtocol(p, enabled)
	})
	return err
}

// ToggleTxProtocol runs [Session.ToggleTxProtocol] on the worker. The change
// is process-wide.
func (b *Bridge) ToggleTxProtocol(ctx context.Context, p ProtocolID, enabled bool) error {
	_, err := call(ctx, b, "toggle_tx_protocol", func(s *Session) (struct{}, error) {
		return struct{}{}, s.ToggleTxProtocol(p, enabled)
	})
	return err
}

// SetRxProtocolFreqStart is process-wide.
func (b *Bridge) SetRxProtocolFreqStart(ctx context.Context, p ProtocolID, freqStart int) error {
	_, err := call(ctx, b, "set_rx_freq_start", func(s *Session) (struct{}, error) {
		return struct{}{}, s.SetRxProtocolFreqStart(p, freqStart)
	})
	return err
}

// SetTxProtocolFreqStart is process-wide.
func (b *Bridge) SetTxProtocolFreqStart(ctx context.Context, p ProtocolID, freqStart int) error {
	_, err := call(ctx, b, "set_tx_freq_start", func(s *Session) (struct{}, error) {
		return struct{}{}, s.SetTxProtocolFreqStart(p, freqStart)
	})
	return err
}

// EnableAllRxProtocols is process-wide.
func (b *Bridge) EnableAllRxProtocols(ctx context.Context) error {
	_, err := call(ctx, b, "enable_all_rx", func(s *Session) (struct{}, error) {
		s.EnableAllRxProtocols()
		return struct{}{}, nil
	})
	return err
}

// SetLogFile is process-wide.
func (b *Bridge) SetLogFile(ctx context.Context, path string) error {
	_, err := call(ctx, b, "set_log_file", func(s *Session) (struct{}, error) {
		return struct{}{}, s.SetLogFile(path)
	})
	return err
}

// EncodeWAV encodes payload on the worker and wraps the waveform in a WAV
// container on the caller's goroutine.
func (b *Bridge) EncodeWAV(ctx context.Context, payload []byte, protocol ProtocolID, volume int) ([]byte, error) {
	wf, err := b.Encode(ctx, payload, protocol, volume)
	if err != nil {
		return nil, err
	}
	return waveformWAV(b.core.params, wf)
}

// WriteEncoded encodes payload and writes the raw waveform to w.
func (b *Bridge) WriteEncoded(ctx context.Context, w io.Writer, payload []byte, protocol ProtocolID, volume int) (int, error) {
	wf, err := b.Encode(ctx, payload, protocol, volume)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(wf)
	if err != nil {
		return n, fmt.Errorf("ggwave: write waveform: %w", err)
	}
	return n, nil
}

// WriteWAV encodes payload and writes it to w as a WAV container.
func (b *Bridge) WriteWAV(ctx context.Context, w io.Writer, payload []byte, protocol ProtocolID, volume int) error {
	wav, err := b.EncodeWAV(ctx, payload, protocol, volume)
	if err != nil {
		return err
	}
	if _, err := w.Write(wav); err != nil {
		return fmt.Errorf("ggwave: write wav: %w", err)
	}
	return nil
}

// EncodeToWAVFile encodes payload and saves it as a WAV file at path.
func (b *Bridge) EncodeToWAVFile(ctx context.Context, path string, payload []byte, protocol ProtocolID, volume int) error {
	wav, err := b.EncodeWAV(ctx, payload, protocol, volume)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return fmt.Errorf("ggwave: write %s: %w", path, err)
	}
	return nil
}

// ProcessStream reads r on the caller's goroutine and decodes it chunk by
// chunk on the worker, calling fn for every payload. It returns nil at EOF,
// ctx.Err() on cancellation, or the first read, decode or callback error.
// chunkSize defaults to one input frame when zero.
func (b *Bridge) ProcessStream(ctx context.Context, r io.Reader, chunkSize, capacity int, fn func([]byte) error) error {
	if chunkSize <= 0 {
		chunkSize = b.core.params.InputFrameBytes()
	}
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			payload, ok, err := b.DecodeChunk(ctx, buf[:n], capacity)
			if err != nil {
				return err
			}
			if ok {
				if err := fn(payload); err != nil {
					return err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("ggwave: read stream: %w", rerr)
		}
	}
}
