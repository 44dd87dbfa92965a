package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode converts a raw sample buffer in format f into normalised float32
// levels in the range [-1.0, 1.0). The buffer length must be a whole number
// of samples.
func Decode(raw []byte, f SampleFormat) ([]float32, error) {
	bps := f.BytesPerSample()
	if bps == 0 {
		return nil, fmt.Errorf("audio: cannot decode samples in format %s", f)
	}
	if len(raw)%bps != 0 {
		return nil, fmt.Errorf("audio: %d bytes is not a whole number of %s samples", len(raw), f)
	}

	n := len(raw) / bps
	out := make([]float32, n)
	for i := range n {
		b := raw[i*bps : (i+1)*bps]
		switch f {
		case FormatU8:
			out[i] = (float32(b[0]) - 128) / 128
		case FormatI8:
			out[i] = float32(int8(b[0])) / 128
		case FormatU16:
			out[i] = (float32(binary.LittleEndian.Uint16(b)) - 32768) / 32768
		case FormatI16:
			out[i] = float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		case FormatF32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	return out, nil
}

// Encode converts normalised float32 levels into a raw sample buffer in
// format f. Levels outside [-1.0, 1.0] are clamped for the integer formats;
// F32 stores the value unchanged.
func Encode(levels []float32, f SampleFormat) ([]byte, error) {
	bps := f.BytesPerSample()
	if bps == 0 {
		return nil, fmt.Errorf("audio: cannot encode samples in format %s", f)
	}

	out := make([]byte, len(levels)*bps)
	for i, v := range levels {
		b := out[i*bps : (i+1)*bps]
		switch f {
		case FormatU8:
			b[0] = uint8(clampRound(float64(v)*128+128, 0, math.MaxUint8))
		case FormatI8:
			b[0] = byte(int8(clampRound(float64(v)*128, math.MinInt8, math.MaxInt8)))
		case FormatU16:
			binary.LittleEndian.PutUint16(b, uint16(clampRound(float64(v)*32768+32768, 0, math.MaxUint16)))
		case FormatI16:
			binary.LittleEndian.PutUint16(b, uint16(int16(clampRound(float64(v)*32768, math.MinInt16, math.MaxInt16))))
		case FormatF32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		}
	}
	return out, nil
}

// Convert re-encodes a raw sample buffer from one format to another. When the
// formats match the input is returned unchanged.
func Convert(raw []byte, from, to SampleFormat) ([]byte, error) {
	if from == to {
		return raw, nil
	}
	levels, err := Decode(raw, from)
	if err != nil {
		return nil, err
	}
	return Encode(levels, to)
}

// ToPCM16 converts a raw sample buffer to signed 16-bit samples. Float input
// is clamped to [-1, 1] and scaled by 32767, matching what WAV writers expect
// for full-scale float audio.
func ToPCM16(raw []byte, f SampleFormat) ([]int16, error) {
	if f == FormatI16 {
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("audio: %d bytes is not a whole number of i16 samples", len(raw))
		}
		out := make([]int16, len(raw)/2)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, nil
	}

	levels, err := Decode(raw, f)
	if err != nil {
		return nil, err
	}
	out := make([]int16, len(levels))
	for i, v := range levels {
		if f == FormatF32 {
			out[i] = int16(clamp(float64(v), -1, 1) * 32767)
			continue
		}
		out[i] = int16(clampRound(float64(v)*32768, math.MinInt16, math.MaxInt16))
	}
	return out, nil
}

// Downmix averages interleaved multi-channel levels into mono. With one
// channel (or fewer) the input is returned unchanged.
func Downmix(levels []float32, channels int) []float32 {
	if channels <= 1 {
		return levels
	}
	frames := len(levels) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += levels[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono levels from srcRate to dstRate using linear
// interpolation. If either rate is non-positive or the rates match, the input
// is returned unchanged.
func Resample(levels []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(levels) < 2 {
		return levels
	}
	dstLen := int(int64(len(levels)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := levels[idx]
		s1 := s0
		if idx+1 < len(levels) {
			s1 = levels[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRound(v, lo, hi float64) float64 {
	return clamp(math.Round(v), lo, hi)
}
