package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ggwave-go/internal/server"
)

func runListen(ctx context.Context, e *env, args []string) error {
	fs := e.flagSet("listen")
	url := fs.String("url", "ws://localhost:8080/v1/decode/ws", "ggwaved streaming decode endpoint")
	chunk := fs.Int("chunk", 4096, "bytes per binary frame")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: expected one WAV file", errUsage)
	}
	if *chunk <= 0 {
		return fmt.Errorf("%w: -chunk must be positive", errUsage)
	}

	// The server decodes in its own input format; the local codec settings
	// must match it.
	params, err := e.codec.ToParameters()
	if err != nil {
		return err
	}
	input, err := readInput(fs.Arg(0), params)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *url, err)
	}
	defer conn.CloseNow()

	var hello server.StreamEvent
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	e.log.Info("stream opened", "stream_id", hello.StreamID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for off := 0; off < len(input); off += *chunk {
			end := min(off+*chunk, len(input))
			if err := conn.Write(gctx, websocket.MessageBinary, input[off:end]); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}
		}
		return conn.Write(gctx, websocket.MessageText, []byte(server.EndOfInput))
	})
	g.Go(func() error {
		for {
			var ev server.StreamEvent
			err := wsjson.Read(gctx, conn, &ev)
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read event: %w", err)
			}
			if ev.Type != server.EventMessage {
				continue
			}
			printPayload(e.stdout, ev.Seq, ev.Payload)
		}
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
