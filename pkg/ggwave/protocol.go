package ggwave

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolID selects a transmission scheme. The numeric values match the
// native protocol table.
type ProtocolID int

const (
	AudibleNormal ProtocolID = iota
	AudibleFast
	AudibleFastest
	UltrasoundNormal
	UltrasoundFast
	UltrasoundFastest
	DTNormal
	DTFast
	DTFastest
	MTNormal
	MTFast
	MTFastest
	Custom0
	Custom1
	Custom2
	Custom3
	Custom4
	Custom5
	Custom6
	Custom7
	Custom8
	Custom9

	// ProtocolCount is the number of protocol slots in the native table.
	ProtocolCount int = iota
)

var protocolNames = [ProtocolCount]string{
	"audible_normal", "audible_fast", "audible_fastest",
	"ultrasound_normal", "ultrasound_fast", "ultrasound_fastest",
	"dt_normal", "dt_fast", "dt_fastest",
	"mt_normal", "mt_fast", "mt_fastest",
	"custom_0", "custom_1", "custom_2", "custom_3", "custom_4",
	"custom_5", "custom_6", "custom_7", "custom_8", "custom_9",
}

// Timing describes how a built-in protocol lays payload bytes out in time.
type Timing struct {
	// FreqStart is the index of the first tone bin.
	FreqStart int `json:"freq_start"`

	// FramesPerTx is the number of frames each transmission step occupies.
	FramesPerTx int `json:"frames_per_tx"`

	// BytesPerTx is the number of encoded bytes carried per step.
	BytesPerTx int `json:"bytes_per_tx"`

	// Extra is a multiplier applied to the step count (2 for dual-tone).
	Extra int `json:"extra"`
}

var builtinTimings = [...]Timing{
	AudibleNormal:     {40, 9, 3, 1},
	AudibleFast:       {40, 6, 3, 1},
	AudibleFastest:    {40, 3, 3, 1},
	UltrasoundNormal:  {320, 9, 3, 1},
	UltrasoundFast:    {320, 6, 3, 1},
	UltrasoundFastest: {320, 3, 3, 1},
	DTNormal:          {24, 9, 1, 2},
	DTFast:            {24, 6, 1, 2},
	DTFastest:         {24, 3, 1, 2},
	MTNormal:          {24, 9, 1, 1},
	MTFast:            {24, 6, 1, 1},
	MTFastest:         {24, 3, 1, 1},
}

// IsValid reports whether p is inside the native protocol table.
func (p ProtocolID) IsValid() bool { return p >= 0 && int(p) < ProtocolCount }

// IsCustom reports whether p is one of the user-defined slots.
func (p ProtocolID) IsCustom() bool { return p >= Custom0 && p <= Custom9 }

// IsUltrasound reports whether p transmits above the audible range.
func (p ProtocolID) IsUltrasound() bool { return p >= UltrasoundNormal && p <= UltrasoundFastest }

func (p ProtocolID) String() string {
	if p.IsValid() {
		return protocolNames[p]
	}
	return fmt.Sprintf("ProtocolID(%d)", int(p))
}

// Timing returns the protocol's built-in timing. ok is false for custom slots
// and invalid IDs, whose timing is defined by the native side at runtime.
func (p ProtocolID) Timing() (t Timing, ok bool) {
	if p < 0 || int(p) >= len(builtinTimings) {
		return Timing{}, false
	}
	return builtinTimings[p], true
}

// RecommendedSampleRate is the sample rate that gives the protocol enough
// bandwidth: 48 kHz for ultrasound, 44.1 kHz for everything else.
func (p ProtocolID) RecommendedSampleRate() float32 {
	if p.IsUltrasound() {
		return 48000
	}
	return 44100
}

// ParseProtocol accepts a protocol name as returned by [ProtocolID.String]
// (case-insensitive, "-" and "_" interchangeable) or its decimal ID.
func ParseProtocol(s string) (ProtocolID, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range protocolNames {
		if name == norm {
			return ProtocolID(i), nil
		}
	}
	if id, err := strconv.Atoi(norm); err == nil && ProtocolID(id).IsValid() {
		return ProtocolID(id), nil
	}
	return 0, &ParameterError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", s)}
}

// AllProtocols lists every slot in the native table, custom ones included.
func AllProtocols() []ProtocolID {
	out := make([]ProtocolID, ProtocolCount)
	for i := range out {
		out[i] = ProtocolID(i)
	}
	return out
}

// BuiltinProtocols lists the protocols with known timing.
func BuiltinProtocols() []ProtocolID {
	out := make([]ProtocolID, len(builtinTimings))
	for i := range out {
		out[i] = ProtocolID(i)
	}
	return out
}
