// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz: liveness; always 200 while the process serves HTTP.
//   - /readyz: readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" ("ok" or "fail") and
// a "checks" map with the outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy and
// must respect ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checkers run concurrently on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a [checkTimeout] deadline derived from the
// request context and reports 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	// Failures are collected, not returned, so one slow check cannot cancel
	// the others.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrNoCapacity is returned by a [CapacityChecker] whose limit is reached.
var ErrNoCapacity = errors.New("health: no free capacity")

// Codec is the part of the shared session readiness needs. A ggwave Bridge
// implements it.
type Codec interface {
	RxDurationFrames(ctx context.Context) (int, error)
}

// CodecChecker reports ready when c answers a cheap query. The call is
// serialised with every other use of c, so it never touches the native
// allocator.
func CodecChecker(c Codec) Checker {
	return Checker{
		Name: "engine",
		Check: func(ctx context.Context) error {
			if _, err := c.RxDurationFrames(ctx); err != nil {
				return fmt.Errorf("shared session: %w", err)
			}
			return nil
		},
	}
}

// CapacityChecker fails with [ErrNoCapacity] once inUse reaches limit. It
// reads a counter and allocates nothing.
func CapacityChecker(name string, inUse func() int, limit int) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if n := inUse(); n >= limit {
				return fmt.Errorf("%w: %d of %d in use", ErrNoCapacity, n, limit)
			}
			return nil
		},
	}
}

// PingChecker adapts a Ping(ctx) method, such as the PostgreSQL journal's.
func PingChecker(name string, ping func(context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
