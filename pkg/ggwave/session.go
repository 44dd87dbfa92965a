package ggwave

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/MrWong99/ggwave-go/pkg/audio"
)

// Session owns exactly one native instance. It is not safe for concurrent
// use; share it through a [Bridge] instead.
//
// Streaming decode state lives inside the native instance, so one Session
// must only ever be fed chunks from a single contiguous audio stream.
type Session struct {
	engine Engine
	params Parameters
	handle Handle

	// scratch receives streaming decode output; the native call may write up
	// to MaxDataSize bytes regardless of the caller's capacity.
	scratch []byte

	closed    bool
	closeOnce sync.Once
}

// NewSession validates p and allocates a native instance. Invalid parameters
// fail with a [*ParameterError] before the allocator is touched, so no
// instance slot is consumed. A failed allocation returns an [*InitError].
func NewSession(e Engine, p Parameters) (*Session, error) {
	if e == nil {
		return nil, &ParameterError{Field: "engine", Reason: "must not be nil"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	h := e.Init(p)
	if !IsValidHandle(h) {
		return nil, &InitError{Code: int(h)}
	}
	return &Session{
		engine:  e,
		params:  p,
		handle:  h,
		scratch: make([]byte, MaxDataSize),
	}, nil
}

// Parameters returns a copy of the parameters the session was built with.
func (s *Session) Parameters() Parameters { return s.params }

// Handle returns the native handle. It stays valid until Close.
func (s *Session) Handle() Handle { return s.handle }

// Close releases the native instance. Only the first call has an effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.engine.Free(s.handle)
		s.closed = true
	})
	return nil
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) checkEncodeArgs(payload []byte, protocol ProtocolID, volume int) error {
	if !protocol.IsValid() {
		return &ParameterError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %d", int(protocol))}
	}
	if volume < MinVolume || volume > MaxVolume {
		return &ParameterError{Field: "volume",
			Reason: fmt.Sprintf("%d outside %d..%d", volume, MinVolume, MaxVolume)}
	}
	if limit := s.params.MaxPayload(); len(payload) > limit {
		return &TextTooLongError{Length: len(payload), Max: limit}
	}
	return nil
}

// EncodeBufferSize returns the exact number of bytes the waveform for this
// (payload, protocol, volume) tuple occupies.
func (s *Session) EncodeBufferSize(payload []byte, protocol ProtocolID, volume int) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.checkEncodeArgs(payload, protocol, volume); err != nil {
		return 0, err
	}
	return s.querySize(payload, protocol, volume)
}

func (s *Session) querySize(payload []byte, protocol ProtocolID, volume int) (int, error) {
	n := s.engine.Encode(s.handle, payload, protocol, volume, nil, true)
	if n <= 0 {
		return 0, &EncodeError{Code: n}
	}
	return n, nil
}

// EncodeInto encodes payload into buf and returns the bytes written, never
// more than len(buf). The size query runs immediately before the fill with
// the same arguments, so the two cannot drift apart.
func (s *Session) EncodeInto(payload []byte, protocol ProtocolID, volume int, buf []byte) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := s.checkEncodeArgs(payload, protocol, volume); err != nil {
		return 0, err
	}
	required, err := s.querySize(payload, protocol, volume)
	if err != nil {
		return 0, err
	}
	if len(buf) < required {
		return 0, &BufferTooSmallError{Required: required, Provided: len(buf)}
	}
	return s.fill(payload, protocol, volume, buf[:required])
}

// fill runs the native encode into buf, which must hold exactly the queried
// size for the same arguments.
func (s *Session) fill(payload []byte, protocol ProtocolID, volume int, buf []byte) (int, error) {
	n := s.engine.Encode(s.handle, payload, protocol, volume, buf, false)
	if n <= 0 {
		return 0, &EncodeError{Code: n}
	}
	return min(n, len(buf)), nil
}

// Encode returns a freshly allocated waveform in the output sample format.
func (s *Session) Encode(payload []byte, protocol ProtocolID, volume int) ([]byte, error) {
	size, err := s.EncodeBufferSize(payload, protocol, volume)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := s.fill(payload, protocol, volume, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// EncodeText is Encode for a string payload.
func (s *Session) EncodeText(text string, protocol ProtocolID, volume int) ([]byte, error) {
	return s.Encode([]byte(text), protocol, volume)
}

// DecodeFull decodes a complete waveform in the input sample format.
// Finding no payload is an error. The result holds at most capacity bytes.
func (s *Session) DecodeFull(waveform []byte, capacity int) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, &ParameterError{Field: "capacity", Reason: "must be positive"}
	}
	out := make([]byte, capacity)
	n := s.engine.DecodeBounded(s.handle, waveform, out)
	if n <= 0 {
		return nil, &DecodeError{Code: n}
	}
	return out[:min(n, capacity)], nil
}

// DecodeText is DecodeFull followed by UTF-8 validation.
func (s *Session) DecodeText(waveform []byte, capacity int) (string, error) {
	b, err := s.DecodeFull(waveform, capacity)
	if err != nil {
		return "", err
	}
	return textOf(b)
}

// DecodeChunk feeds one chunk of input audio into the streaming decoder.
// It returns ok=false with a nil error while no message has completed, and
// the payload exactly once when one has. Chunks should be
// [Parameters.InputFrameBytes] long and contiguous; the native side does not
// check this.
func (s *Session) DecodeChunk(chunk []byte, capacity int) (payload []byte, ok bool, err error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	if capacity <= 0 {
		return nil, false, &ParameterError{Field: "capacity", Reason: "must be positive"}
	}
	n := s.engine.DecodeStreaming(s.handle, chunk, s.scratch)
	switch {
	case n == 0:
		return nil, false, nil
	case n < 0:
		return nil, false, &DecodeError{Code: n}
	case n > capacity:
		return nil, false, &BufferTooSmallError{Required: n, Provided: capacity}
	}
	return bytes.Clone(s.scratch[:min(n, len(s.scratch))]), true, nil
}

// DecodeChunkText is DecodeChunk followed by UTF-8 validation.
func (s *Session) DecodeChunkText(chunk []byte, capacity int) (string, bool, error) {
	b, ok, err := s.DecodeChunk(chunk, capacity)
	if err != nil || !ok {
		return "", ok, err
	}
	text, err := textOf(b)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

func textOf(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// RxDurationFrames reports how many frames the receiver has been capturing
// the current message for.
func (s *Session) RxDurationFrames() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.engine.RxDurationFrames(s.handle), nil
}

// ToggleRxProtocol enables or disables a protocol for reception. This is
// process-wide: every Session in the process is affected.
func (s *Session) ToggleRxProtocol(p ProtocolID, enabled bool) error {
	if !p.IsValid() {
		return &ParameterError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %d", int(p))}
	}
	s.engine.ToggleRxProtocol(p, enabled)
	return nil
}

// ToggleTxProtocol enables or disables a protocol for transmission. This is
// process-wide.
func (s *Session) ToggleTxProtocol(p ProtocolID, enabled bool) error {
	if !p.IsValid() {
		return &ParameterError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %d", int(p))}
	}
	s.engine.ToggleTxProtocol(p, enabled)
	return nil
}

// SetRxProtocolFreqStart overrides the first tone bin used when receiving p.
// This is process-wide.
func (s *Session) SetRxProtocolFreqStart(p ProtocolID, freqStart int) error {
	if err := checkFreqArgs(p, freqStart); err != nil {
		return err
	}
	s.engine.SetRxProtocolFreqStart(p, freqStart)
	return nil
}

// SetTxProtocolFreqStart overrides the first tone bin used when transmitting
// p. This is process-wide.
func (s *Session) SetTxProtocolFreqStart(p ProtocolID, freqStart int) error {
	if err := checkFreqArgs(p, freqStart); err != nil {
		return err
	}
	s.engine.SetTxProtocolFreqStart(p, freqStart)
	return nil
}

func checkFreqArgs(p ProtocolID, freqStart int) error {
	if !p.IsValid() {
		return &ParameterError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %d", int(p))}
	}
	if freqStart < 0 {
		return &ParameterError{Field: "freq_start", Reason: "must not be negative"}
	}
	return nil
}

// EnableAllRxProtocols turns reception on for every protocol slot. This is
// process-wide.
func (s *Session) EnableAllRxProtocols() {
	ToggleProtocols(s.engine, AllProtocols(), true, true)
}

// SetLogFile redirects native logging to path; an empty path disables it.
// This is process-wide.
func (s *Session) SetLogFile(path string) error {
	if err := s.engine.SetLogFile(path); err != nil {
		return fmt.Errorf("ggwave: set log file: %w", err)
	}
	return nil
}

// WaveformToWAV wraps a waveform produced by this session in a 16-bit PCM
// WAV container at the output sample rate.
func (s *Session) WaveformToWAV(waveform []byte) ([]byte, error) {
	return waveformWAV(s.params, waveform)
}

func waveformWAV(p Parameters, waveform []byte) ([]byte, error) {
	b, err := audio.WAVBytes(waveform, p.SampleFormatOut, int(p.SampleRateOut))
	if err != nil {
		return nil, fmt.Errorf("ggwave: wav: %w", err)
	}
	return b, nil
}

// EncodeWAV encodes payload and returns it as a WAV container.
func (s *Session) EncodeWAV(payload []byte, protocol ProtocolID, volume int) ([]byte, error) {
	wf, err := s.Encode(payload, protocol, volume)
	if err != nil {
		return nil, err
	}
	return s.WaveformToWAV(wf)
}

// WriteWAV encodes payload and writes it to w as a WAV container.
func (s *Session) WriteWAV(w io.Writer, payload []byte, protocol ProtocolID, volume int) error {
	b, err := s.EncodeWAV(payload, protocol, volume)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("ggwave: write wav: %w", err)
	}
	return nil
}

// EncodeToWAVFile encodes payload and saves it as a WAV file at path.
func (s *Session) EncodeToWAVFile(path string, payload []byte, protocol ProtocolID, volume int) error {
	b, err := s.EncodeWAV(payload, protocol, volume)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("ggwave: write %s: %w", path, err)
	}
	return nil
}

// ProcessStream reads r in chunks of chunkSize bytes, feeds each through
// DecodeChunk and calls fn for every decoded payload. It stops at EOF, on
// the first read or decode error, or when fn returns an error. A short final
// chunk is still decoded.
func (s *Session) ProcessStream(r io.Reader, chunkSize, capacity int, fn func([]byte) error) error {
	if chunkSize <= 0 {
		chunkSize = s.params.InputFrameBytes()
	}
	buf := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			payload, ok, err := s.DecodeChunk(buf[:n], capacity)
			if err != nil {
				return err
			}
			if ok {
				if err := fn(payload); err != nil {
					return err
				}
			}
		}
		switch rerr {
		case nil:
			continue
		case io.EOF, io.ErrUnexpectedEOF:
			return nil
		default:
			return fmt.Errorf("ggwave: read stream: %w", rerr)
		}
	}
}
