package ggwave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// defaultStreamBuffer is the receiver channel capacity when none is set.
const defaultStreamBuffer = 16

// StreamState is the processor's position in its read/decode/emit cycle.
type StreamState int32

const (
	StateIdle StreamState = iota
	StateReading
	StateDecoding
	StateEmitting
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDecoding:
		return "decoding"
	case StateEmitting:
		return "emitting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("StreamState(%d)", int32(s))
}

// StreamConfig configures [StartStream]. Zero fields take defaults.
type StreamConfig struct {
	// ChunkSize is the number of bytes read and decoded per iteration.
	// Defaults to one input frame ([Parameters.InputFrameBytes]).
	ChunkSize int

	// MaxPayloadSize is the decode capacity. Defaults to MaxDataSize.
	MaxPayloadSize int

	// BufferSize is the capacity of the message channel. Defaults to 16.
	BufferSize int
}

func (c StreamConfig) withDefaults(p Parameters) (StreamConfig, error) {
	if c.ChunkSize < 0 || c.MaxPayloadSize < 0 || c.BufferSize < 0 {
		return c, &ParameterError{Field: "StreamConfig", Reason: "sizes must not be negative"}
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = p.InputFrameBytes()
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = MaxDataSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultStreamBuffer
	}
	return c, nil
}

// Message is one decoded payload.
type Message struct {
	// Seq numbers messages from 1 within a stream.
	Seq uint64

	Payload    []byte
	ReceivedAt time.Time
}

// Text returns the payload as a string, or ErrInvalidUTF8.
func (m Message) Text() (string, error) { return textOf(m.Payload) }

// Receiver is the consumer end of a stream started with [StartStream].
type Receiver struct {
	ch     chan Message
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	mu  sync.Mutex
	err error
}

// StartStream decodes r continuously in a background goroutine and delivers
// each payload on the returned Receiver.
//
// Each iteration reads one chunk of cfg.ChunkSize bytes (a short final chunk
// at EOF is still decoded) and feeds it through b. Native decode faults are
// logged and skipped. End of input closes the channel. A read error also
// closes the channel and is reported by [Receiver.Err] and as the terminal
// error of the Recv methods.
//
// The channel is bounded: a slow consumer blocks the loop. Cancelling ctx or
// calling [Receiver.Close] stops the loop at its next push or read.
//
// The stream holds its own handle on b until it ends. The Session's decode
// state is shared by all handles, so nothing else should decode chunks on b
// while the stream runs.
func StartStream(ctx context.Context, b *Bridge, r io.Reader, cfg StreamConfig) (*Receiver, error) {
	if b == nil || r == nil {
		return nil, &ParameterError{Field: "stream", Reason: "bridge and reader must not be nil"}
	}
	cfg, err := cfg.withDefaults(b.Parameters())
	if err != nil {
		return nil, err
	}
	own := b.Clone()
	if own.released.Load() {
		return nil, ErrSessionClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	rx := &Receiver{
		ch:     make(chan Message, cfg.BufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go rx.loop(ctx, own, r, cfg)
	return rx, nil
}

func (rx *Receiver) setState(s StreamState) { rx.state.Store(int32(s)) }

func (rx *Receiver) fail(err error) {
	rx.mu.Lock()
	rx.err = err
	rx.mu.Unlock()
}

func (rx *Receiver) loop(ctx context.Context, b *Bridge, r io.Reader, cfg StreamConfig) {
	log := b.core.log
	ins := b.core.ins
	defer close(rx.done)
	defer rx.cancel()
	defer b.Close()
	defer close(rx.ch)
	defer rx.setState(StateClosed)

	buf := make([]byte, cfg.ChunkSize)
	var seq uint64
	for {
		if ctx.Err() != nil {
			return
		}
		rx.setState(StateReading)
		n, rerr := io.ReadFull(r, buf)

		if n > 0 {
			rx.setState(StateDecoding)
			payload, ok, err := b.DecodeChunk(ctx, buf[:n], cfg.MaxPayloadSize)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case errors.Is(err, ErrSessionClosed):
				rx.fail(err)
				return
			case err != nil:
				log.Warn("ggwave: stream decode fault", "error", err, "chunk_bytes", n)
				ins.decodeFaults.Add(ctx, 1)
			case ok:
				rx.setState(StateEmitting)
				seq++
				msg := Message{Seq: seq, Payload: payload, ReceivedAt: time.Now()}
				select {
				case rx.ch <- msg:
					ins.messages.Add(ctx, 1)
					ins.payloadSize.Record(ctx, int64(len(payload)))
				case <-ctx.Done():
					return
				}
			}
		}

		switch {
		case rerr == nil:
			rx.setState(StateIdle)
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return
		default:
			log.Warn("ggwave: stream read failed", "error", rerr)
			rx.fail(fmt.Errorf("ggwave: read stream: %w", rerr))
			return
		}
	}
}

// C exposes the message channel for use in select statements. It is closed
// when the stream ends.
func (rx *Receiver) C() <-chan Message { return rx.ch }

// State reports the processor's current state.
func (rx *Receiver) State() StreamState { return StreamState(rx.state.Load()) }

// Err returns the read error that ended the stream, or nil if the stream is
// still running, hit EOF or was cancelled.
func (rx *Receiver) Err() error {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.err
}

// terminal is the error the Recv methods return once the channel is drained
// and closed.
func (rx *Receiver) terminal() error {
	if err := rx.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Recv blocks until a message arrives, the stream ends or ctx is done. At
// the end of a stream it returns io.EOF, or the read error that ended it.
func (rx *Receiver) Recv(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-rx.ch:
		if !ok {
			return Message{}, rx.terminal()
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// TryRecv returns a queued message without blocking. ok is false when
// nothing is queued; err is non-nil once the stream has ended.
func (rx *Receiver) TryRecv() (m Message, ok bool, err error) {
	select {
	case m, open := <-rx.ch:
		if !open {
			return Message{}, false, rx.terminal()
		}
		return m, true, nil
	default:
		return Message{}, false, nil
	}
}

// RecvTimeout waits up to d for a message. A timeout returns ok=false and a
// nil error and leaves the stream running.
func (rx *Receiver) RecvTimeout(d time.Duration) (m Message, ok bool, err error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m, open := <-rx.ch:
		if !open {
			return Message{}, false, rx.terminal()
		}
		return m, true, nil
	case <-t.C:
		return Message{}, false, nil
	}
}

// Close asks the processor to stop. It does not wait; use Wait for that.
// A read already in progress completes before the loop notices.
func (rx *Receiver) Close() error {
	rx.cancel()
	return nil
}

// Done is closed when the processor goroutine has exited.
func (rx *Receiver) Done() <-chan struct{} { return rx.done }

// Wait blocks until the processor goroutine has exited and released its
// bridge handle.
func (rx *Receiver) Wait() { <-rx.done }
