package ggwave

import (
	"fmt"
	"time"
)

// ECCBytes returns the number of Reed-Solomon parity bytes the encoder adds
// to a payload of n bytes.
func ECCBytes(n int) int {
	if n < 4 {
		return 2
	}
	return max(4, 2*(n/5))
}

// EstimateFrames predicts how many frames an encoded payload of payloadLen
// bytes occupies. Variable-length framing includes the start and end markers.
// Custom protocols have no built-in timing and return an error.
func EstimateFrames(p Parameters, protocol ProtocolID, payloadLen int) (int, error) {
	t, ok := protocol.Timing()
	if !ok {
		return 0, &ParameterError{Field: "protocol",
			Reason: fmt.Sprintf("no built-in timing for %s", protocol)}
	}
	if payloadLen <= 0 {
		return 0, &ParameterError{Field: "payload", Reason: "must not be empty"}
	}

	total := payloadLen + ECCBytes(payloadLen)
	if !p.FixedLength() {
		total += EncodedDataOffset
	}
	steps := (total + t.BytesPerTx - 1) / t.BytesPerTx
	frames := t.Extra * steps * t.FramesPerTx
	if !p.FixedLength() {
		frames += 2 * DefaultMarkerFrames
	}
	return frames, nil
}

// EstimateDuration converts [EstimateFrames] into wall-clock time at the
// output sample rate.
func EstimateDuration(p Parameters, protocol ProtocolID, payloadLen int) (time.Duration, error) {
	frames, err := EstimateFrames(p, protocol, payloadLen)
	if err != nil {
		return 0, err
	}
	if p.SampleRateOut <= 0 {
		return 0, &ParameterError{Field: "SampleRateOut", Reason: "must be positive"}
	}
	samples := float64(frames) * float64(p.SamplesPerFrame)
	return time.Duration(samples / float64(p.SampleRateOut) * float64(time.Second)), nil
}
