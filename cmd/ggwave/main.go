// Command ggwave transmits and receives data-over-sound waveforms from the
// command line.
//
// Usage:
//
//	ggwave tx [-protocol name] [-volume n] [-raw] -o out.wav text...
//	ggwave rx [-stream] in.wav
//	ggwave listen [-url ws://host/v1/decode/ws] [-chunk n] in.wav
//	ggwave protocols [-length n]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/ggwave-go/internal/config"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/mock"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/native"
)

// errUsage marks a command line the user has to fix.
var errUsage = errors.New("usage error")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"tx", "encode text into a WAV file or raw waveform", runTx},
	{"rx", "decode messages from a WAV file", runRx},
	{"listen", "stream a WAV file to a ggwaved WebSocket and print decoded messages", runListen},
	{"protocols", "list protocols and their timing", runProtocols},
}

// env carries the streams and codec settings shared by every command.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger

	codec config.CodecConfig

	// newEngine builds the engine named by codec.Engine.
	newEngine func(config.CodecConfig) (ggwave.Engine, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ggwave", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional YAML or TOML file whose codec section sets the parameters")
	engine := fs.String("engine", "", `engine to use ("native" or "mock"); overrides the config file`)
	verbose := fs.Bool("v", false, "log debug output to stderr")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	e := &env{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		codec:  config.Default().Codec,
	}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "ggwave: %v\n", err)
			return 1
		}
		e.codec = cfg.Codec
	}
	if *engine != "" {
		e.codec.Engine = *engine
	}
	reg := config.NewRegistry()
	reg.RegisterEngine(config.EngineNative, func(config.CodecConfig) (ggwave.Engine, error) {
		return native.New()
	})
	reg.RegisterEngine(config.EngineMock, func(config.CodecConfig) (ggwave.Engine, error) {
		return mock.New(), nil
	})
	e.newEngine = reg.CreateEngine

	rest := fs.Args()
	if len(rest) == 0 {
		usage(fs)
		return 2
	}
	for _, c := range commands {
		if c.name != rest[0] {
			continue
		}
		err := c.run(ctx, e, rest[1:])
		switch {
		case err == nil:
			return 0
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "ggwave %s: %v\n", c.name, err)
			return 2
		default:
			fmt.Fprintf(stderr, "ggwave %s: %v\n", c.name, err)
			return 1
		}
	}
	fmt.Fprintf(stderr, "ggwave: unknown command %q\n", rest[0])
	usage(fs)
	return 2
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "usage: ggwave [flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}

// bridge opens a Bridge over the configured engine.
func (e *env) bridge(ctx context.Context) (*ggwave.Bridge, error) {
	eng, err := e.newEngine(e.codec)
	if err != nil {
		return nil, err
	}
	params, err := e.codec.ToParameters()
	if err != nil {
		return nil, err
	}
	b, err := ggwave.NewBridge(ctx, eng, params, ggwave.WithLogger(e.log))
	if err != nil {
		return nil, err
	}
	if err := e.codec.Apply(ctx, b); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// flagSet returns a subcommand flag set writing to stderr.
func (e *env) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("ggwave "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}
