package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavBitDepth is the bit depth of every WAV file written by this package.
const wavBitDepth = 16

// wavPCM is the WAVE_FORMAT_PCM audio format tag.
const wavPCM = 1

// Clip is mono audio read from a WAV container.
type Clip struct {
	// Levels are normalised mono samples in [-1.0, 1.0).
	Levels []float32

	// SampleRate in Hz as declared by the container.
	SampleRate int
}

// Raw encodes the clip's levels as a raw sample buffer in format f.
func (c *Clip) Raw(f SampleFormat) ([]byte, error) {
	return Encode(c.Levels, f)
}

// WriteWAV writes raw samples (format f, mono, sampleRate Hz) to w as a
// 16-bit PCM RIFF/WAVE stream.
func WriteWAV(w io.WriteSeeker, raw []byte, f SampleFormat, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: wav sample rate must be positive, got %d", sampleRate)
	}
	pcm, err := ToPCM16(raw, f)
	if err != nil {
		return err
	}

	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, wavPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	return nil
}

// WAVBytes is like [WriteWAV] but returns the complete container in memory.
func WAVBytes(raw []byte, f SampleFormat, sampleRate int) ([]byte, error) {
	ws := &memWriteSeeker{}
	if err := WriteWAV(ws, raw, f, sampleRate); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// ReadWAV decodes a PCM WAV stream into a mono [Clip]. Multi-channel input is
// down-mixed by averaging.
func ReadWAV(r io.ReadSeeker) (*Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audio: not a valid WAV stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: read wav samples: %w", err)
	}

	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("audio: unsupported wav bit depth %d", depth)
	}
	scale := float32(int64(1) << (depth - 1))

	levels := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			// 8-bit WAV stores unsigned samples.
			levels[i] = (float32(v) - 128) / 128
			continue
		}
		levels[i] = float32(v) / scale
	}

	channels := int(dec.NumChans)
	return &Clip{
		Levels:     Downmix(levels, channels),
		SampleRate: int(dec.SampleRate),
	}, nil
}

// ReadWAVBytes is like [ReadWAV] for an in-memory container.
func ReadWAVBytes(b []byte) (*Clip, error) {
	return ReadWAV(bytes.NewReader(b))
}

// memWriteSeeker is an in-memory io.WriteSeeker. The WAV encoder seeks back
// to patch chunk sizes once all samples are written.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	m.pos = int(abs)
	return abs, nil
}
