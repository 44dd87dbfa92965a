// Package mock provides an in-memory [ggwave.Engine] for tests.
//
// The engine honours the native contract (handle table, return codes,
// process-wide toggles, stateful streaming decode) with a trivial modem: each
// framed byte becomes one sample at level (b-128)/128 in the configured
// sample format. Waveforms round-trip exactly through every sample format and
// through 16-bit WAV.
//
// A frame is laid out as
//
//	A5 5A C3 3C | protocol | length | payload | checksum | 3C C3 5A A5
//
// where the length byte is omitted under fixed-length framing and the
// payload is zero-padded to the fixed length. The frame is preceded and
// followed by one frame of silence and padded to a whole number of frames.
//
// Exported fields inject failures and latency. The engine is safe for
// concurrent use; it also records how many calls overlapped on the same
// handle so tests can verify serialisation.
package mock

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/ggwave-go/pkg/audio"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// Compile-time assertion that Engine satisfies ggwave.Engine.
var _ ggwave.Engine = (*Engine)(nil)

// Native-style return codes produced by the mock.
const (
	CodeFailure        = -1
	CodeBufferTooSmall = -2
	CodeBadFrame       = -3
)

var (
	startMarker = []byte{0xA5, 0x5A, 0xC3, 0x3C}
	endMarker   = []byte{0x3C, 0xC3, 0x5A, 0xA5}
)

const silence = 128

// Stats is a snapshot of the engine's counters.
type Stats struct {
	Live        int
	Inits       int
	Frees       int
	DoubleFrees int

	// MaxInFlight is the highest number of calls seen running at once on a
	// single handle.
	MaxInFlight int
}

type instance struct {
	params   ggwave.Parameters
	rx       []byte
	rxFrames int
	inRx     bool
	inFlight int
}

// Engine is a configurable in-memory codec.
type Engine struct {
	mu sync.Mutex

	slots  [ggwave.MaxInstances]*instance
	counts map[string]int
	stats  Stats

	rxDisabled map[ggwave.ProtocolID]bool
	txDisabled map[ggwave.ProtocolID]bool
	rxFreq     map[ggwave.ProtocolID]int
	txFreq     map[ggwave.ProtocolID]int
	logFile    string

	// Delay is slept inside every Encode and decode call, after the call is
	// counted as in flight.
	Delay time.Duration

	// FailInit makes Init return CodeFailure.
	FailInit bool

	// FailEncode makes Encode return EncodeCode for both phases.
	FailEncode bool
	EncodeCode int

	// FillShort makes the fill phase report this many bytes fewer than the
	// query phase.
	FillShort int

	// FailStreamDecodes makes the next N streaming decode calls return
	// CodeBadFrame without consuming their chunk.
	FailStreamDecodes int

	// PanicOnEncode makes Encode panic.
	PanicOnEncode bool

	// SetLogFileErr is returned by SetLogFile when non-nil.
	SetLogFileErr error
}

// New returns an engine with every protocol enabled.
func New() *Engine { return &Engine{} }

func (e *Engine) count(method string) {
	if e.counts == nil {
		e.counts = make(map[string]int)
	}
	e.counts[method]++
}

// CallCount returns how many times the named method was invoked.
func (e *Engine) CallCount(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[method]
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	for _, in := range e.slots {
		if in != nil {
			s.Live++
		}
	}
	return s
}

// RxEnabled reports the process-wide receive toggle for p.
func (e *Engine) RxEnabled(p ggwave.ProtocolID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.rxDisabled[p]
}

// TxEnabled reports the process-wide transmit toggle for p.
func (e *Engine) TxEnabled(p ggwave.ProtocolID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.txDisabled[p]
}

// FreqStart returns the override set for p, or -1.
func (e *Engine) FreqStart(p ggwave.ProtocolID, rx bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.txFreq
	if rx {
		m = e.rxFreq
	}
	if v, ok := m[p]; ok {
		return v
	}
	return -1
}

// LogFile returns the last path passed to SetLogFile.
func (e *Engine) LogFile() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logFile
}

func (e *Engine) DefaultParameters() ggwave.Parameters {
	e.mu.Lock()
	e.count("DefaultParameters")
	e.mu.Unlock()
	return ggwave.DefaultParameters()
}

func (e *Engine) Init(p ggwave.Parameters) ggwave.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("Init")
	if e.FailInit {
		return CodeFailure
	}
	for i, in := range e.slots {
		if in == nil {
			e.slots[i] = &instance{params: p}
			e.stats.Inits++
			return ggwave.Handle(i)
		}
	}
	return CodeFailure
}

// inSlots reports whether h indexes the slot table.
func inSlots(h ggwave.Handle) bool { return h >= 0 && int(h) < ggwave.MaxInstances }

func (e *Engine) Free(h ggwave.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("Free")
	if !inSlots(h) || e.slots[h] == nil {
		e.stats.DoubleFrees++
		return
	}
	e.slots[h] = nil
	e.stats.Frees++
}

// enter marks a call in flight on h and returns its instance, or nil.
func (e *Engine) enter(method string, h ggwave.Handle) *instance {
	e.mu.Lock()
	e.count(method)
	var in *instance
	if inSlots(h) {
		in = e.slots[h]
	}
	if in != nil {
		in.inFlight++
		e.stats.MaxInFlight = max(e.stats.MaxInFlight, in.inFlight)
	}
	delay := e.Delay
	e.mu.Unlock()

	if in != nil && delay > 0 {
		time.Sleep(delay)
	}
	e.mu.Lock()
	return in
}

// leave undoes enter and releases the lock taken at its end.
func (e *Engine) leave(in *instance) {
	if in != nil {
		in.inFlight--
	}
	e.mu.Unlock()
}

func (e *Engine) Encode(h ggwave.Handle, payload []byte, protocol ggwave.ProtocolID, volume int, out []byte, query bool) int {
	in := e.enter("Encode", h)
	defer e.leave(in)

	if e.PanicOnEncode {
		panic("mock: encode panic")
	}
	if in == nil || !in.params.OperatingMode.Has(ggwave.ModeTx) {
		return CodeFailure
	}
	if e.FailEncode {
		return e.EncodeCode
	}
	if !protocol.IsValid() || e.txDisabled[protocol] || volume < ggwave.MinVolume || volume > ggwave.MaxVolume {
		return CodeFailure
	}
	if len(payload) == 0 || len(payload) > in.params.MaxPayload() {
		return CodeFailure
	}

	wf, err := modulate(in.params, frame(in.params, protocol, payload))
	if err != nil {
		return CodeFailure
	}
	if query {
		return len(wf)
	}
	if len(out) < len(wf) {
		return CodeBufferTooSmall
	}
	copy(out, wf)
	return len(wf) - e.FillShort
}

func (e *Engine) DecodeBounded(h ggwave.Handle, waveform, out []byte) int {
	in := e.enter("DecodeBounded", h)
	defer e.leave(in)

	if in == nil || !in.params.OperatingMode.Has(ggwave.ModeRx) {
		return CodeFailure
	}
	data, err := demodulate(in.params, waveform)
	if err != nil {
		return CodeFailure
	}
	for len(data) > 0 {
		payload, consumed, st := e.parse(in.params, data)
		switch st {
		case parseOK:
			if len(out) < len(payload) {
				return CodeBufferTooSmall
			}
			return copy(out, payload)
		case parseNeedMore, parseNone:
			return CodeFailure
		}
		data = data[consumed:]
	}
	return CodeFailure
}

func (e *Engine) DecodeStreaming(h ggwave.Handle, chunk, out []byte) int {
	in := e.enter("DecodeStreaming", h)
	defer e.leave(in)

	if in == nil || !in.params.OperatingMode.Has(ggwave.ModeRx) {
		return CodeFailure
	}
	if e.FailStreamDecodes > 0 {
		e.FailStreamDecodes--
		return CodeBadFrame
	}
	data, err := demodulate(in.params, chunk)
	if err != nil || len(data) == 0 {
		return CodeFailure
	}
	in.rx = append(in.rx, data...)
	if in.inRx {
		in.rxFrames++
	}

	for {
		payload, consumed, st := e.parse(in.params, in.rx)
		switch st {
		case parseNone:
			// Keep a possible marker prefix for the next chunk.
			if keep := len(startMarker) - 1; len(in.rx) > keep {
				in.rx = append(in.rx[:0], in.rx[len(in.rx)-keep:]...)
			}
			in.inRx = false
			return 0
		case parseNeedMore:
			in.rx = in.rx[consumed:]
			if !in.inRx {
				in.inRx = true
				in.rxFrames = 1
			}
			return 0
		case parseCorrupt:
			in.rx = in.rx[consumed:]
			in.inRx = false
			return CodeBadFrame
		case parseSkip:
			in.rx = in.rx[consumed:]
			continue
		case parseOK:
			in.rx = in.rx[consumed:]
			in.inRx = false
			if len(out) < len(payload) {
				return CodeBufferTooSmall
			}
			return copy(out, payload)
		}
	}
}

func (e *Engine) RxDurationFrames(h ggwave.Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("RxDurationFrames")
	if !inSlots(h) || e.slots[h] == nil {
		return CodeFailure
	}
	in := e.slots[h]
	if !in.inRx {
		return 0
	}
	return in.rxFrames
}

func (e *Engine) ToggleRxProtocol(p ggwave.ProtocolID, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("ToggleRxProtocol")
	if e.rxDisabled == nil {
		e.rxDisabled = make(map[ggwave.ProtocolID]bool)
	}
	e.rxDisabled[p] = !enabled
}

func (e *Engine) ToggleTxProtocol(p ggwave.ProtocolID, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("ToggleTxProtocol")
	if e.txDisabled == nil {
		e.txDisabled = make(map[ggwave.ProtocolID]bool)
	}
	e.txDisabled[p] = !enabled
}

func (e *Engine) SetRxProtocolFreqStart(p ggwave.ProtocolID, freqStart int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("SetRxProtocolFreqStart")
	if e.rxFreq == nil {
		e.rxFreq = make(map[ggwave.ProtocolID]int)
	}
	e.rxFreq[p] = freqStart
}

func (e *Engine) SetTxProtocolFreqStart(p ggwave.ProtocolID, freqStart int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("SetTxProtocolFreqStart")
	if e.txFreq == nil {
		e.txFreq = make(map[ggwave.ProtocolID]int)
	}
	e.txFreq[p] = freqStart
}

func (e *Engine) SetLogFile(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count("SetLogFile")
	if e.SetLogFileErr != nil {
		return e.SetLogFileErr
	}
	e.logFile = path
	return nil
}

// ---- framing ----------------------------------------------------------------

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum ^ 0x5A
}

// frame builds the byte-level frame for payload.
func frame(p ggwave.Parameters, protocol ggwave.ProtocolID, payload []byte) []byte {
	body := []byte{byte(protocol)}
	if p.FixedLength() {
		padded := make([]byte, p.PayloadLength)
		copy(padded, payload)
		body = append(body, padded...)
	} else {
		body = append(body, byte(len(payload)))
		body = append(body, payload...)
	}

	f := make([]byte, 0, len(startMarker)+len(body)+1+len(endMarker))
	f = append(f, startMarker...)
	f = append(f, body...)
	f = append(f, checksum(body))
	f = append(f, endMarker...)
	return f
}

type parseStatus int

const (
	parseNone     parseStatus = iota // no marker in data
	parseNeedMore                    // marker found, frame incomplete
	parseCorrupt                     // complete frame failed its checks
	parseSkip                        // false marker or rx-disabled protocol
	parseOK
)

// parse looks for the first frame in data. consumed is the number of bytes
// the caller may drop.
func (e *Engine) parse(p ggwave.Parameters, data []byte) (payload []byte, consumed int, st parseStatus) {
	i := bytes.Index(data, startMarker)
	if i < 0 {
		return nil, 0, parseNone
	}
	rest := data[i+len(startMarker):]
	header := 1
	length := p.PayloadLength
	if !p.FixedLength() {
		header = 2
		if len(rest) < header {
			return nil, i, parseNeedMore
		}
		length = int(rest[1])
		if length == 0 || length > ggwave.MaxLengthVariable {
			return nil, i + 1, parseSkip
		}
	}
	total := header + length + 1 + len(endMarker)
	if len(rest) < total {
		return nil, i, parseNeedMore
	}

	body := rest[:header+length]
	end := i + len(startMarker) + total
	if rest[header+length] != checksum(body) || !bytes.Equal(rest[header+length+1:total], endMarker) {
		return nil, i + 1, parseCorrupt
	}
	protocol := ggwave.ProtocolID(body[0])
	if !protocol.IsValid() || e.rxDisabled[protocol] {
		return nil, end, parseSkip
	}
	return bytes.Clone(body[header:]), end, parseOK
}

// ---- sample mapping ---------------------------------------------------------

// modulate maps frame bytes to a padded waveform in the output format.
func modulate(p ggwave.Parameters, f []byte) ([]byte, error) {
	spf := p.SamplesPerFrame
	n := spf + len(f)
	if rem := n % spf; rem != 0 {
		n += spf - rem
	}
	n += spf

	levels := make([]float32, n)
	for i, b := range f {
		levels[spf+i] = level(b)
	}
	return audio.Encode(levels, p.SampleFormatOut)
}

// demodulate maps input-format samples back to bytes.
func demodulate(p ggwave.Parameters, waveform []byte) ([]byte, error) {
	levels, err := audio.Decode(waveform, p.SampleFormatInp)
	if err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, errors.New("mock: empty waveform")
	}
	out := make([]byte, len(levels))
	for i, v := range levels {
		out[i] = byteOf(v)
	}
	return out, nil
}

func level(b byte) float32 { return (float32(b) - silence) / 128 }

func byteOf(v float32) byte {
	x := math.Round(float64(v)*128 + silence)
	return byte(min(max(x, 0), math.MaxUint8))
}
