package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/ggwave-go/internal/observe"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`

	// Code is the native result code when the codec rejected the call.
	Code *int `json:"code,omitempty"`
}

// statusFor maps codec and transport errors to HTTP status codes.
func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ggwave.ErrInvalidParameter),
		errors.Is(err, ggwave.ErrTextTooLong),
		errors.Is(err, ggwave.ErrBufferTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, ggwave.ErrEncodeFailed),
		errors.Is(err, ggwave.ErrDecodeFailed),
		errors.Is(err, ggwave.ErrInvalidUTF8):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ggwave.ErrInitializationFailed),
		errors.Is(err, ggwave.ErrSessionClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// nativeCode extracts the native result code carried by err, if any.
func nativeCode(err error) *int {
	var (
		ee *ggwave.EncodeError
		de *ggwave.DecodeError
		ie *ggwave.InitError
	)
	switch {
	case errors.As(err, &ee):
		return &ee.Code
	case errors.As(err, &de):
		return &de.Code
	case errors.As(err, &ie):
		return &ie.Code
	}
	return nil
}

// writeError logs err and answers with the status it maps to.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	lvl := slogLevel(status)
	observe.LoggerFrom(r.Context(), s.log).Log(r.Context(), lvl, "request failed",
		"path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: nativeCode(err)})
}

// slogLevel logs client errors quietly and server errors loudly.
func slogLevel(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelError
	}
	return slog.LevelDebug
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}

// decodeJSON reads a JSON request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return &ggwave.ParameterError{Field: "body", Reason: err.Error()}
	}
	return nil
}
