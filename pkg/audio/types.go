// Package audio holds the sample-level plumbing shared by the codec layer:
// sample formats, conversion between raw little-endian sample buffers and
// normalised float32 levels, resampling, and the WAV container.
//
// Nothing in this package knows about framing or protocols. It only moves
// samples between representations.
package audio

import (
	"fmt"
	"strings"
)

// SampleFormat identifies the encoding of a single mono sample inside a raw
// byte buffer. All multi-byte formats are little-endian.
//
// The numeric values match the native codec's sample format enumeration.
type SampleFormat int

const (
	FormatUndefined SampleFormat = iota
	FormatU8
	FormatI8
	FormatU16
	FormatI16
	FormatF32
)

var formatNames = map[SampleFormat]string{
	FormatUndefined: "undefined",
	FormatU8:        "u8",
	FormatI8:        "i8",
	FormatU16:       "u16",
	FormatI16:       "i16",
	FormatF32:       "f32",
}

// String returns the lower-case short name of the format (e.g. "f32").
func (f SampleFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// IsValid reports whether f is a defined, concrete sample format.
// FormatUndefined is not valid.
func (f SampleFormat) IsValid() bool {
	return f >= FormatU8 && f <= FormatF32
}

// BytesPerSample returns the storage size of one sample, or 0 for undefined
// or unknown formats.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatU8, FormatI8:
		return 1
	case FormatU16, FormatI16:
		return 2
	case FormatF32:
		return 4
	}
	return 0
}

// ParseSampleFormat parses a short format name as produced by
// [SampleFormat.String]. Matching is case-insensitive.
func ParseSampleFormat(s string) (SampleFormat, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == want && f.IsValid() {
			return f, nil
		}
	}
	return FormatUndefined, fmt.Errorf("audio: unknown sample format %q; valid values: u8, i8, u16, i16, f32", s)
}
