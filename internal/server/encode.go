package server

import (
	"net/http"
	"strconv"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// encodeRequest is the body of both encode routes. Exactly one of Text and
// Payload must be set; Payload is base64 in JSON.
type encodeRequest struct {
	Text     string `json:"text"`
	Payload  []byte `json:"payload"`
	Protocol string `json:"protocol"`

	// Volume is a pointer so that 0 stays a valid explicit choice.
	Volume *int `json:"volume"`
}

type encodeArgs struct {
	payload  []byte
	protocol ggwave.ProtocolID
	volume   int
}

func (s *Server) parseEncode(r *http.Request) (encodeArgs, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxBody)
	var req encodeRequest
	if err := decodeJSON(r, &req); err != nil {
		return encodeArgs{}, err
	}

	def := s.Defaults()
	args := encodeArgs{protocol: def.Protocol, volume: def.Volume}
	switch {
	case req.Text != "" && req.Payload != nil:
		return args, &ggwave.ParameterError{Field: "body", Reason: "set text or payload, not both"}
	case req.Text != "":
		args.payload = []byte(req.Text)
	case len(req.Payload) > 0:
		args.payload = req.Payload
	default:
		return args, &ggwave.ParameterError{Field: "body", Reason: "text or payload is required"}
	}
	if req.Protocol != "" {
		p, err := ggwave.ParseProtocol(req.Protocol)
		if err != nil {
			return args, err
		}
		args.protocol = p
	}
	if req.Volume != nil {
		args.volume = *req.Volume
	}
	return args, nil
}

// handleEncodeWAV answers with the waveform in a 16-bit PCM WAV container.
func (s *Server) handleEncodeWAV(w http.ResponseWriter, r *http.Request) {
	args, err := s.parseEncode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wav, err := s.bridge.EncodeWAV(r.Context(), args.payload, args.protocol, args.volume)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordEncode(r.Context(), args.protocol.String(), "wav", len(wav))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

// handleEncodeRaw streams the bare waveform in the output sample format.
func (s *Server) handleEncodeRaw(w http.ResponseWriter, r *http.Request) {
	args, err := s.parseEncode(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Sample-Format", s.params.SampleFormatOut.String())
	h.Set("X-Sample-Rate", strconv.FormatFloat(float64(s.params.SampleRateOut), 'f', -1, 32))

	// Nothing reaches w until the encode has succeeded.
	n, err := s.bridge.WriteEncoded(r.Context(), w, args.payload, args.protocol, args.volume)
	if err != nil {
		if n == 0 {
			h.Del("X-Sample-Format")
			h.Del("X-Sample-Rate")
			s.writeError(w, r, err)
			return
		}
		s.log.Warn("raw encode write failed", "written", n, "err", err)
		return
	}
	s.metrics.RecordEncode(r.Context(), args.protocol.String(), "raw", n)
}
