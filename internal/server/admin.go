package server

import (
	"net/http"
	"strconv"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/journal"
)

// ProtocolInfo describes one protocol slot for GET /v1/protocols.
type ProtocolInfo struct {
	ID                    int     `json:"id"`
	Name                  string  `json:"name"`
	Custom                bool    `json:"custom"`
	Ultrasound            bool    `json:"ultrasound"`
	RecommendedSampleRate float32 `json:"recommended_sample_rate"`

	// Timing is absent for custom slots.
	Timing *ggwave.Timing `json:"timing,omitempty"`

	// DurationMS estimates the transmission time of a payload_length-byte
	// payload when the query parameter is given.
	DurationMS *float64 `json:"duration_ms,omitempty"`
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	length := 0
	if v := r.URL.Query().Get("payload_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, &ggwave.ParameterError{Field: "payload_length", Reason: "must be a positive integer"})
			return
		}
		length = n
	}

	infos := make([]ProtocolInfo, 0, ggwave.ProtocolCount)
	for _, p := range ggwave.AllProtocols() {
		info := ProtocolInfo{
			ID:                    int(p),
			Name:                  p.String(),
			Custom:                p.IsCustom(),
			Ultrasound:            p.IsUltrasound(),
			RecommendedSampleRate: p.RecommendedSampleRate(),
		}
		if t, ok := p.Timing(); ok {
			info.Timing = &t
			if length > 0 {
				if d, err := ggwave.EstimateDuration(s.params, p, length); err == nil {
					ms := float64(d.Microseconds()) / 1000
					info.DurationMS = &ms
				}
			}
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"protocols": infos})
}

// toggleRequest is the body of PUT /v1/protocols/{name}. Omitted sides are
// left unchanged.
type toggleRequest struct {
	Rx *bool `json:"rx"`
	Tx *bool `json:"tx"`
}

// handleToggleProtocol enables or disables a protocol process-wide.
func (s *Server) handleToggleProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := ggwave.ParseProtocol(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Rx == nil && req.Tx == nil {
		s.writeError(w, r, &ggwave.ParameterError{Field: "body", Reason: "set rx, tx or both"})
		return
	}

	ctx := r.Context()
	if req.Rx != nil {
		if err := s.bridge.ToggleRxProtocol(ctx, p, *req.Rx); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Tx != nil {
		if err := s.bridge.ToggleTxProtocol(ctx, p, *req.Tx); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.log.Info("protocol toggled", "protocol", p, "rx", req.Rx, "tx", req.Tx)
	writeJSON(w, http.StatusOK, map[string]any{"protocol": p.String(), "rx": req.Rx, "tx": req.Tx})
}

// handleJournal lists recent decoded messages, oldest first.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := journal.Query{StreamID: r.URL.Query().Get("stream_id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, &ggwave.ParameterError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		q.Limit = n
	}
	entries, err := s.journal.Recent(r.Context(), q.Normalize())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
