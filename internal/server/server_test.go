package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/ggwave-go/internal/observe"
	"github.com/MrWong99/ggwave-go/internal/server"
	"github.com/MrWong99/ggwave-go/pkg/audio"
	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/mock"
)

func testParams() ggwave.Parameters {
	return ggwave.NewParameters(ggwave.WithSamplesPerFrame(64))
}

type fixture struct {
	srv  *server.Server
	eng  *mock.Engine
	http *httptest.Server
}

func newFixture(t *testing.T, opts ...server.Option) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	eng := mock.New()
	opts = append([]server.Option{server.WithMetrics(m)}, opts...)
	srv, err := server.New(context.Background(), eng, testParams(), opts...)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = srv.Close()
	})
	return &fixture{srv: srv, eng: eng, http: hs}
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	return f.do(t, "POST", path, "application/json", []byte(body))
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp := f.postJSON(t, "/v1/encode", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	clip, err := audio.ReadWAVBytes(readAll(t, resp))
	if err != nil {
		t.Fatalf("ReadWAVBytes: %v", err)
	}
	if clip.SampleRate != 48000 || len(clip.Levels) == 0 {
		t.Errorf("clip rate=%d samples=%d", clip.SampleRate, len(clip.Levels))
	}
	if cid := resp.Header.Get("X-Correlation-ID"); len(cid) != 32 {
		t.Errorf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
	}
}

func TestEncodeRawThenDecode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.postJSON(t, "/v1/encode/raw", `{"text":"hi there","protocol":"dt_fast","volume":30}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("encode status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	if got := resp.Header.Get("X-Sample-Format"); got != "f32" {
		t.Errorf("X-Sample-Format = %q", got)
	}
	if got := resp.Header.Get("X-Sample-Rate"); got != "48000" {
		t.Errorf("X-Sample-Rate = %q", got)
	}
	waveform := readAll(t, resp)

	resp = f.do(t, "POST", "/v1/decode", "application/octet-stream", waveform)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decode status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	var got struct {
		StreamID string `json:"stream_id"`
		Text     string `json:"text"`
		Payload  []byte `json:"payload"`
	}
	decodeBody(t, resp, &got)
	if got.Text != "hi there" || string(got.Payload) != "hi there" || got.StreamID == "" {
		t.Errorf("decode = %+v", got)
	}

	resp = f.do(t, "GET", "/v1/journal?stream_id="+got.StreamID, "", nil)
	var j struct {
		Entries []struct {
			StreamID string `json:"stream_id"`
			Seq      uint64 `json:"seq"`
			Text     string `json:"text"`
		} `json:"entries"`
	}
	decodeBody(t, resp, &j)
	if len(j.Entries) != 1 || j.Entries[0].Text != "hi there" || j.Entries[0].Seq != 1 {
		t.Errorf("journal = %+v", j.Entries)
	}
}

func TestEncodeBinaryPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	// "AP8=" is base64 for {0x00, 0xff}.
	resp := f.postJSON(t, "/v1/encode/raw", `{"payload":"AP8="}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	resp = f.do(t, "POST", "/v1/decode", "", readAll(t, resp))
	var got struct {
		Text    string `json:"text"`
		Payload []byte `json:"payload"`
	}
	decodeBody(t, resp, &got)
	if !bytes.Equal(got.Payload, []byte{0x00, 0xff}) || got.Text != "" {
		t.Errorf("decode = %+v", got)
	}
}

func TestEncodeErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad protocol", `{"text":"x","protocol":"morse"}`, http.StatusBadRequest},
		{"bad volume", `{"text":"x","volume":101}`, http.StatusBadRequest},
		{"unknown field", `{"text":"x","speed":2}`, http.StatusBadRequest},
		{"malformed", `{"text":`, http.StatusBadRequest},
		{"both", `{"text":"x","payload":"AA=="}`, http.StatusBadRequest},
		{"too long", `{"text":"` + strings.Repeat("a", 141) + `"}`, http.StatusBadRequest},
		{"empty", `{}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.postJSON(t, "/v1/encode", tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tc.want, readAll(t, resp))
			}
		})
	}
}

func TestEncodeNativeFailureCarriesCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.eng.FailEncode, f.eng.EncodeCode = true, -9

	resp := f.postJSON(t, "/v1/encode/raw", `{"text":"x"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Sample-Format") != "" {
		t.Error("error response kept the waveform headers")
	}
	var body struct {
		Error string `json:"error"`
		Code  *int   `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code == nil || *body.Code != -9 {
		t.Errorf("body = %+v", body)
	}
}

func TestDefaultsApplyWhenOmitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, server.WithDefaults(server.Defaults{Protocol: ggwave.MTFast, Volume: 10}))
	if d := f.srv.Defaults(); d.Protocol != ggwave.MTFast || d.Volume != 10 {
		t.Fatalf("Defaults = %+v", d)
	}

	resp := f.do(t, "PUT", "/v1/protocols/mt_fast", "application/json", []byte(`{"tx":false}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d", resp.StatusCode)
	}
	// The default protocol is now disabled for transmission.
	if resp := f.postJSON(t, "/v1/encode", `{"text":"x"}`); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("encode with disabled default = %d", resp.StatusCode)
	}

	f.srv.SetDefaults(server.Defaults{Protocol: ggwave.AudibleFast, Volume: 10})
	if resp := f.postJSON(t, "/v1/encode", `{"text":"x"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("encode after SetDefaults = %d", resp.StatusCode)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, server.WithMaxBodyBytes(4096))

	if resp := f.do(t, "POST", "/v1/decode", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty body = %d", resp.StatusCode)
	}

	resp := f.do(t, "POST", "/v1/decode", "", make([]byte, 1024))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("silence = %d", resp.StatusCode)
	}
	var body struct {
		Code *int `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code == nil || *body.Code != mock.CodeFailure {
		t.Errorf("silence code = %v", body.Code)
	}

	if resp := f.do(t, "POST", "/v1/decode", "audio/wav", []byte("not a wav file")); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad wav = %d", resp.StatusCode)
	}
	if resp := f.do(t, "POST", "/v1/decode", "", make([]byte, 8192)); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized = %d", resp.StatusCode)
	}
}

func TestToggleProtocol(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp := f.do(t, "PUT", "/v1/protocols/dt_normal", "application/json", []byte(`{"rx":false}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	if f.eng.RxEnabled(ggwave.DTNormal) {
		t.Error("rx still enabled")
	}
	if !f.eng.TxEnabled(ggwave.DTNormal) {
		t.Error("tx changed although omitted")
	}

	if resp := f.do(t, "PUT", "/v1/protocols/morse", "application/json", []byte(`{"rx":true}`)); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown protocol = %d", resp.StatusCode)
	}
	if resp := f.do(t, "PUT", "/v1/protocols/dt_normal", "application/json", []byte(`{}`)); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty toggle = %d", resp.StatusCode)
	}
}

func TestListProtocols(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	resp := f.do(t, "GET", "/v1/protocols?payload_length=13", "", nil)
	var body struct {
		Protocols []server.ProtocolInfo `json:"protocols"`
	}
	decodeBody(t, resp, &body)
	if len(body.Protocols) != ggwave.ProtocolCount {
		t.Fatalf("got %d protocols", len(body.Protocols))
	}
	an := body.Protocols[ggwave.AudibleNormal]
	if an.Name != "audible_normal" || an.Timing == nil || an.Timing.FramesPerTx != 9 || an.DurationMS == nil {
		t.Errorf("audible_normal = %+v", an)
	}
	c0 := body.Protocols[ggwave.Custom0]
	if !c0.Custom || c0.Timing != nil || c0.DurationMS != nil {
		t.Errorf("custom_0 = %+v", c0)
	}

	if resp := f.do(t, "GET", "/v1/protocols?payload_length=x", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad payload_length = %d", resp.StatusCode)
	}
}

func TestJournalQueryValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if resp := f.do(t, "GET", "/v1/journal?limit=-1", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit = %d", resp.StatusCode)
	}
	resp := f.do(t, "GET", "/v1/journal", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := strings.TrimSpace(string(readAll(t, resp))); got != `{"entries":[]}` {
		t.Errorf("empty journal = %s", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	f := newFixture(t, server.WithMetricsHandler(metrics))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if resp := f.do(t, "GET", path, "", nil); resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}
