package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/ggwave-go/pkg/audio"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

func runRx(ctx context.Context, e *env, args []string) error {
	fs := e.flagSet("rx")
	stream := fs.Bool("stream", true, "decode every message in the file; false expects exactly one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: expected one WAV file", errUsage)
	}

	b, err := e.bridge(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	input, err := readInput(fs.Arg(0), b.Parameters())
	if err != nil {
		return err
	}

	if !*stream {
		payload, err := b.DecodeFull(ctx, input, ggwave.MaxDataSize)
		if err != nil {
			return err
		}
		printPayload(e.stdout, 1, payload)
		return nil
	}

	rx, err := ggwave.StartStream(ctx, b, bytes.NewReader(input), ggwave.StreamConfig{})
	if err != nil {
		return err
	}
	defer rx.Close()
	count := 0
	for {
		m, err := rx.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		count++
		printPayload(e.stdout, m.Seq, m.Payload)
	}
	if count == 0 {
		return errors.New("no message found")
	}
	return nil
}

// readInput loads a WAV file and converts it to the input format and rate
// of p.
func readInput(path string, p ggwave.Parameters) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	clip, err := audio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	levels := clip.Levels
	if want := int(p.SampleRateInp); clip.SampleRate != want {
		levels = audio.Resample(levels, clip.SampleRate, want)
	}
	return audio.Encode(levels, p.SampleFormatInp)
}

// printPayload writes one decoded message, falling back to hex for
// payloads that are not valid UTF-8.
func printPayload(w io.Writer, seq uint64, payload []byte) {
	m := ggwave.Message{Seq: seq, Payload: payload}
	if text, err := m.Text(); err == nil {
		fmt.Fprintf(w, "%d\t%s\n", seq, text)
		return
	}
	fmt.Fprintf(w, "%d\thex:%s\n", seq, hex.EncodeToString(payload))
}
