// Package ggwave is a session and streaming layer over the ggwave data-over-
// sound codec.
//
// The codec itself is reached through the [Engine] interface, a thin contract
// mirroring the native C API. A [Session] owns exactly one native instance and
// is not safe for concurrent use. A [Bridge] shares one Session between any
// number of goroutines by running every native call on a dedicated worker, and
// [StartStream] turns an io.Reader of raw audio into a channel of decoded
// messages.
//
// Protocol toggles and frequency-start overrides are process-wide native
// state. Changing them through any Session or Bridge affects every instance
// in the process.
package ggwave

import (
	"fmt"
	"strings"

	"github.com/MrWong99/ggwave-go/pkg/audio"
)

// Native limits.
const (
	// MaxInstances is the number of native instances that may be live at the
	// same time across the whole process.
	MaxInstances = 4

	// MaxDataSize is the largest payload the decoder can ever produce.
	MaxDataSize = 256

	// MaxLengthVariable is the payload cap for variable-length framing.
	MaxLengthVariable = 140

	// MaxLengthFixed is the payload cap for fixed-length framing.
	MaxLengthFixed = 64

	// DefaultMarkerFrames is the number of frames used by each start and end
	// sound marker in variable-length framing.
	DefaultMarkerFrames = 16

	// EncodedDataOffset is the number of bytes the encoder prepends to the
	// payload before error correction.
	EncodedDataOffset = 3

	// MinDecodeBufferSize is a safe output capacity for bounded decodes.
	MinDecodeBufferSize = 1024
)

// Volume bounds accepted by encode calls.
const (
	MinVolume     = 0
	MaxVolume     = 100
	DefaultVolume = 50
)

// Native option flags. They are exposed for completeness; the C API used by
// this package does not take them as arguments.
const (
	OptionUseInterpolation = 1 << 0
	OptionUseFFTW          = 1 << 1
	OptionUseThreading     = 1 << 2
)

// Filter identifies one of the native pre-processing filters.
type Filter int

const (
	FilterHann Filter = iota
	FilterHamming
	FilterFirstOrderHighPass
)

func (f Filter) String() string {
	switch f {
	case FilterHann:
		return "hann"
	case FilterHamming:
		return "hamming"
	case FilterFirstOrderHighPass:
		return "first_order_high_pass"
	}
	return fmt.Sprintf("Filter(%d)", int(f))
}

// SampleFormat is re-exported from the audio package so callers rarely need
// both imports.
type SampleFormat = audio.SampleFormat

const (
	SampleFormatUndefined = audio.FormatUndefined
	SampleFormatU8        = audio.FormatU8
	SampleFormatI8        = audio.FormatI8
	SampleFormatU16       = audio.FormatU16
	SampleFormatI16       = audio.FormatI16
	SampleFormatF32       = audio.FormatF32
)

// OperatingMode is a set of native operating-mode flags.
type OperatingMode int

const (
	ModeRx          OperatingMode = 1 << 1
	ModeTx          OperatingMode = 1 << 2
	ModeRxAndTx                   = ModeRx | ModeTx
	ModeTxOnlyTones OperatingMode = 1 << 3
	ModeUseDSS      OperatingMode = 1 << 4
)

var modeNames = []struct {
	mode OperatingMode
	name string
}{
	{ModeRx, "rx"},
	{ModeTx, "tx"},
	{ModeTxOnlyTones, "tx_only_tones"},
	{ModeUseDSS, "use_dss"},
}

// Has reports whether every flag in flag is set in m.
func (m OperatingMode) Has(flag OperatingMode) bool { return m&flag == flag }

// String joins the names of the set flags with "|".
func (m OperatingMode) String() string {
	var parts []string
	rest := m
	for _, mn := range modeNames {
		if m.Has(mn.mode) {
			parts = append(parts, mn.name)
			rest &^= mn.mode
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseOperatingMode builds a mode from flag names such as "rx", "tx",
// "tx_only_tones" and "use_dss". "rx_and_tx" is accepted as a shorthand.
func ParseOperatingMode(names []string) (OperatingMode, error) {
	var m OperatingMode
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "rx_and_tx" {
			m |= ModeRxAndTx
			continue
		}
		found := false
		for _, mn := range modeNames {
			if mn.name == n {
				m |= mn.mode
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("ggwave: unknown operating mode flag %q", n)
		}
	}
	return m, nil
}

// Parameters configures one native instance. A Session keeps its own copy,
// so changing a Parameters value after construction has no effect.
type Parameters struct {
	// PayloadLength selects the framing mode. Zero means variable-length
	// framing; 1 to MaxLengthFixed selects fixed-length framing.
	PayloadLength int

	SampleRateInp float32
	SampleRateOut float32
	SampleRate    float32

	// SamplesPerFrame is the processing frame size. Streaming decode expects
	// chunks of exactly this many input samples.
	SamplesPerFrame int

	SoundMarkerThreshold float32

	SampleFormatInp SampleFormat
	SampleFormatOut SampleFormat

	OperatingMode OperatingMode
}

// DefaultParameters returns the codec's stock configuration: 48 kHz
// everywhere, 1024 samples per frame, f32 in and out, receive and transmit,
// variable-length framing.
func DefaultParameters() Parameters {
	return Parameters{
		PayloadLength:        0,
		SampleRateInp:        48000,
		SampleRateOut:        48000,
		SampleRate:           48000,
		SamplesPerFrame:      1024,
		SoundMarkerThreshold: 3.0,
		SampleFormatInp:      SampleFormatF32,
		SampleFormatOut:      SampleFormatF32,
		OperatingMode:        ModeRxAndTx,
	}
}

// FixedPayloadParameters returns the defaults switched to fixed-length framing
// with the given payload length and operating mode.
func FixedPayloadParameters(length int, mode OperatingMode) Parameters {
	p := DefaultParameters()
	p.PayloadLength = length
	p.OperatingMode = mode
	return p
}

// ParamOption adjusts a Parameters value built by [NewParameters].
type ParamOption func(*Parameters)

// NewParameters starts from [DefaultParameters] and applies opts in order.
// The result is not validated; [NewSession] does that.
func NewParameters(opts ...ParamOption) Parameters {
	p := DefaultParameters()
	for _, o := range opts {
		o(&p)
	}
	return p
}

// WithSampleRate sets the input, output and processing rates at once.
func WithSampleRate(hz float32) ParamOption {
	return func(p *Parameters) {
		p.SampleRateInp = hz
		p.SampleRateOut = hz
		p.SampleRate = hz
	}
}

func WithInputSampleRate(hz float32) ParamOption {
	return func(p *Parameters) { p.SampleRateInp = hz }
}

func WithOutputSampleRate(hz float32) ParamOption {
	return func(p *Parameters) { p.SampleRateOut = hz }
}

func WithSamplesPerFrame(n int) ParamOption {
	return func(p *Parameters) { p.SamplesPerFrame = n }
}

func WithInputSampleFormat(f SampleFormat) ParamOption {
	return func(p *Parameters) { p.SampleFormatInp = f }
}

func WithOutputSampleFormat(f SampleFormat) ParamOption {
	return func(p *Parameters) { p.SampleFormatOut = f }
}

func WithSoundMarkerThreshold(th float32) ParamOption {
	return func(p *Parameters) { p.SoundMarkerThreshold = th }
}

func WithOperatingMode(m OperatingMode) ParamOption {
	return func(p *Parameters) { p.OperatingMode = m }
}

// WithFixedPayloadLength switches to fixed-length framing.
func WithFixedPayloadLength(n int) ParamOption {
	return func(p *Parameters) { p.PayloadLength = n }
}

// Validate checks the parameters locally. Every failure is a
// [*ParameterError], so errors.Is(err, ErrInvalidParameter) holds.
func (p Parameters) Validate() error {
	switch {
	case p.PayloadLength < 0 || p.PayloadLength > MaxLengthFixed:
		return &ParameterError{Field: "PayloadLength",
			Reason: fmt.Sprintf("%d outside 0..%d", p.PayloadLength, MaxLengthFixed)}
	case p.SampleRateInp <= 0:
		return &ParameterError{Field: "SampleRateInp", Reason: "must be positive"}
	case p.SampleRateOut <= 0:
		return &ParameterError{Field: "SampleRateOut", Reason: "must be positive"}
	case p.SampleRate <= 0:
		return &ParameterError{Field: "SampleRate", Reason: "must be positive"}
	case p.SamplesPerFrame <= 0:
		return &ParameterError{Field: "SamplesPerFrame", Reason: "must be positive"}
	case !p.SampleFormatInp.IsValid():
		return &ParameterError{Field: "SampleFormatInp",
			Reason: fmt.Sprintf("unsupported format %s", p.SampleFormatInp)}
	case !p.SampleFormatOut.IsValid():
		return &ParameterError{Field: "SampleFormatOut",
			Reason: fmt.Sprintf("unsupported format %s", p.SampleFormatOut)}
	case !p.OperatingMode.Has(ModeRx) && !p.OperatingMode.Has(ModeTx):
		return &ParameterError{Field: "OperatingMode", Reason: "neither rx nor tx is set"}
	}
	return nil
}

// FixedLength reports whether the parameters select fixed-length framing.
func (p Parameters) FixedLength() bool { return p.PayloadLength > 0 }

// MaxPayload is the largest payload an encode call accepts under the active
// framing mode.
func (p Parameters) MaxPayload() int {
	if p.FixedLength() {
		return p.PayloadLength
	}
	return MaxLengthVariable
}

// InputFrameBytes is the byte size of one streaming-decode chunk: one
// processing frame of input samples.
func (p Parameters) InputFrameBytes() int {
	return p.SamplesPerFrame * p.SampleFormatInp.BytesPerSample()
}

// OutputFrameBytes is the byte size of one frame of encoder output.
func (p Parameters) OutputFrameBytes() int {
	return p.SamplesPerFrame * p.SampleFormatOut.BytesPerSample()
}
