package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

func runTx(ctx context.Context, e *env, args []string) error {
	fs := e.flagSet("tx")
	out := fs.String("o", "", `output file ("-" writes to stdout)`)
	protocolName := fs.String("protocol", "", "transmit protocol (defaults to the configured one)")
	volume := fs.Int("volume", 0, "transmit volume 0-100 (defaults to the configured one)")
	raw := fs.Bool("raw", false, "write raw samples in the output format instead of a WAV container")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("%w: -o is required", errUsage)
	}

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		b, err := io.ReadAll(bufio.NewReader(e.stdin))
		if err != nil {
			return err
		}
		text = strings.TrimRight(string(b), "\r\n")
	}
	if text == "" {
		return fmt.Errorf("%w: nothing to transmit", errUsage)
	}

	protocol, err := e.codec.DefaultProtocol()
	if err != nil {
		return err
	}
	if *protocolName != "" {
		if protocol, err = ggwave.ParseProtocol(*protocolName); err != nil {
			return err
		}
	}
	vol := e.codec.DefaultVolume()
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "volume" {
			vol = *volume
		}
	})

	b, err := e.bridge(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	payload := []byte(text)
	if *out != "-" && !*raw {
		if err := b.EncodeToWAVFile(ctx, *out, payload, protocol, vol); err != nil {
			return err
		}
		e.log.Info("wrote waveform", "path", *out, "protocol", protocol, "bytes", len(payload))
		return nil
	}

	w := e.stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if *raw {
		n, err := b.WriteEncoded(ctx, w, payload, protocol, vol)
		if err != nil {
			return err
		}
		e.log.Info("wrote raw waveform", "bytes", n, "format", b.Parameters().SampleFormatOut)
		return nil
	}
	return b.WriteWAV(ctx, w, payload, protocol, vol)
}
