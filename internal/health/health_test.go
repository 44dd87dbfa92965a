package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
	"github.com/MrWong99/ggwave-go/pkg/ggwave/mock"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "journal", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "engine", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["journal"] != "ok" {
		t.Errorf("journal check = %q, want %q", body.Checks["journal"], "ok")
	}
	if body.Checks["engine"] != "ok" {
		t.Errorf("engine check = %q, want %q", body.Checks["engine"], "ok")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "journal", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "engine", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["journal"] != "fail: connection refused" {
		t.Errorf("journal check = %q, want %q", body.Checks["journal"], "fail: connection refused")
	}
	if body.Checks["engine"] != "ok" {
		t.Errorf("engine check = %q, want %q", body.Checks["engine"], "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	h := New(
		Checker{Name: "journal", Check: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "engine", Check: func(_ context.Context) error {
			return errors.New("no free instance")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["journal"] != "fail: timeout" {
		t.Errorf("journal check = %q", body.Checks["journal"])
	}
	if body.Checks["engine"] != "fail: no free instance" {
		t.Errorf("engine check = %q", body.Checks["engine"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(_ context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}, Checker{Name: "c", Check: slow})

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want > 1", peak.Load())
	}
}

func TestCodecChecker(t *testing.T) {
	e := mock.New()
	b, err := ggwave.NewBridge(context.Background(), e, ggwave.DefaultParameters())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	c := CodecChecker(b)

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check on open bridge: %v", err)
	}
	if st := e.Stats(); st.Inits != 1 || st.Live != 1 {
		t.Errorf("check touched the allocator: %+v", st)
	}

	_ = b.Close()
	if err := c.Check(context.Background()); !errors.Is(err, ggwave.ErrSessionClosed) {
		t.Errorf("Check on closed bridge = %v, want ErrSessionClosed", err)
	}
}

func TestCapacityChecker(t *testing.T) {
	var inUse atomic.Int64
	c := CapacityChecker("capacity", func() int { return int(inUse.Load()) }, ggwave.MaxInstances)

	for n := range ggwave.MaxInstances {
		inUse.Store(int64(n))
		if err := c.Check(context.Background()); err != nil {
			t.Errorf("Check with %d in use: %v", n, err)
		}
	}
	inUse.Store(ggwave.MaxInstances)
	if err := c.Check(context.Background()); !errors.Is(err, ErrNoCapacity) {
		t.Errorf("Check when full = %v, want ErrNoCapacity", err)
	}
}

func TestPingChecker(t *testing.T) {
	c := PingChecker("journal", func(context.Context) error { return errors.New("down") })
	if c.Name != "journal" || c.Check(context.Background()) == nil {
		t.Errorf("PingChecker = %+v", c)
	}
}
