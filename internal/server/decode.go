package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ggwave-go/internal/observe"
	"github.com/MrWong99/ggwave-go/pkg/audio"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/journal"
)

// EndOfInput is the text frame a WebSocket client sends after its last audio
// frame. The server then flushes the remaining messages and closes normally.
const EndOfInput = "end"

// decodeResponse is the body of a successful POST /v1/decode.
type decodeResponse struct {
	StreamID string `json:"stream_id"`
	Text     string `json:"text,omitempty"`
	Payload  []byte `json:"payload"`
}

// StreamEvent is one JSON text frame sent on /v1/decode/ws. The first event
// of every stream has Type "hello" and carries only the stream ID.
type StreamEvent struct {
	Type       string    `json:"type"`
	StreamID   string    `json:"stream_id"`
	Seq        uint64    `json:"seq,omitempty"`
	Text       string    `json:"text,omitempty"`
	Payload    []byte    `json:"payload,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

// Event types.
const (
	EventHello   = "hello"
	EventMessage = "message"
)

// isWAV reports whether the request body is a WAV container rather than raw
// samples in the input format.
func isWAV(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return false
}

// wavToInput converts a WAV container to raw samples in the session's input
// format and rate.
func (s *Server) wavToInput(data []byte) ([]byte, error) {
	clip, err := audio.ReadWAVBytes(data)
	if err != nil {
		return nil, &ggwave.ParameterError{Field: "body", Reason: err.Error()}
	}
	levels := clip.Levels
	if want := int(s.params.SampleRateInp); clip.SampleRate != want {
		levels = audio.Resample(levels, clip.SampleRate, want)
	}
	return audio.Encode(levels, s.params.SampleFormatInp)
}

// handleDecode decodes one complete waveform and journals the result.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(data) == 0 {
		s.writeError(w, r, &ggwave.ParameterError{Field: "body", Reason: "empty waveform"})
		return
	}
	if isWAV(r) {
		if data, err = s.wavToInput(data); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	payload, err := s.bridge.DecodeFull(ctx, data, ggwave.MaxDataSize)
	if err != nil {
		s.metrics.RecordDecodeFailure(ctx, "http")
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordDecoded(ctx, "http")

	streamID := journal.NewStreamID()
	entry := journal.FromMessage(streamID, ggwave.Message{Seq: 1, Payload: payload, ReceivedAt: time.Now()})
	s.record(ctx, observe.LoggerFrom(ctx, s.log), entry)

	writeJSON(w, http.StatusOK, decodeResponse{StreamID: streamID, Text: entry.Text, Payload: payload})
}

// record appends e to the journal. Failures are logged and counted but never
// fail the request: the payload has already been recovered.
func (s *Server) record(ctx context.Context, log *slog.Logger, e journal.Entry) {
	if _, err := s.journal.Append(ctx, e); err != nil {
		s.metrics.JournalErrors.Add(ctx, 1)
		log.Warn("journal append failed", "stream_id", e.StreamID, "seq", e.Seq, "err", err)
	}
}

// handleDecodeWS runs a streaming decode over a WebSocket. Binary frames
// carry raw samples in the input format; the text frame [EndOfInput] ends
// the input. Each decoded message is sent back as a [StreamEvent].
//
// The session is allocated before the upgrade so that exhaustion can be
// reported as a plain 503.
func (s *Server) handleDecodeWS(w http.ResponseWriter, r *http.Request) {
	b, err := ggwave.NewBridge(r.Context(), s.engine, s.params, s.bridgeOpts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streams.Add(1)
	defer func() {
		_ = b.Close()
		s.streams.Add(-1)
	}()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.maxBody)

	ctx := r.Context()
	streamID := journal.NewStreamID()
	log := observe.LoggerFrom(ctx, s.log).With("stream_id", streamID)
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	log.Info("decode stream opened")

	err = s.serveStream(ctx, conn, b, streamID, log)
	switch {
	case err == nil:
		log.Info("decode stream finished")
		_ = conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
		log.Info("decode stream closed by peer", "status", websocket.CloseStatus(err))
	case errors.Is(err, errUnexpectedText):
		_ = conn.Close(websocket.StatusUnsupportedData, closeReason(err))
	default:
		log.Warn("decode stream failed", "err", err)
		_ = conn.Close(websocket.StatusInternalError, closeReason(err))
	}
}

var errUnexpectedText = fmt.Errorf("unexpected text frame (send binary audio, then %q)", EndOfInput)

func (s *Server) serveStream(ctx context.Context, conn *websocket.Conn, b *ggwave.Bridge, streamID string, log *slog.Logger) error {
	if err := wsjson.Write(ctx, conn, StreamEvent{Type: EventHello, StreamID: streamID}); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	rx, err := ggwave.StartStream(gctx, b, pr, s.streamCfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = rx.Close()
		_ = pr.Close()
		rx.Wait()
	}()

	g.Go(func() error { return pumpAudio(gctx, conn, pw) })
	g.Go(func() error {
		defer pr.Close()
		return s.pumpMessages(gctx, conn, rx, streamID, log)
	})
	return g.Wait()
}

// pumpAudio copies binary frames into the stream's pipe until the client
// signals the end of input.
func pumpAudio(ctx context.Context, conn *websocket.Conn, pw *io.PipeWriter) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			_ = pw.CloseWithError(err)
			return err
		}
		if typ == websocket.MessageText {
			if strings.TrimSpace(string(data)) == EndOfInput {
				return pw.Close()
			}
			_ = pw.CloseWithError(errUnexpectedText)
			return errUnexpectedText
		}
		if _, err := pw.Write(data); err != nil {
			return err
		}
	}
}

// pumpMessages forwards decoded messages to the client and the journal
// until the stream ends.
func (s *Server) pumpMessages(ctx context.Context, conn *websocket.Conn, rx *ggwave.Receiver, streamID string, log *slog.Logger) error {
	for {
		m, err := rx.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		entry := journal.FromMessage(streamID, m)
		s.record(ctx, log, entry)
		s.metrics.RecordDecoded(ctx, "ws")
		log.Debug("message decoded", "seq", m.Seq, "bytes", len(m.Payload))

		ev := StreamEvent{
			Type:       EventMessage,
			StreamID:   streamID,
			Seq:        m.Seq,
			Text:       entry.Text,
			Payload:    m.Payload,
			ReceivedAt: m.ReceivedAt,
		}
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			return err
		}
	}
}

// closeReason fits err into a close frame's 123-byte reason.
func closeReason(err error) string {
	msg := err.Error()
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
