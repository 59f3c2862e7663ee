// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz runs
// every [Checker] concurrently and answers 200 only if all pass and the
// server is not draining. Both reply with
//
//	{"status": "ok"|"fail", "checks": {"store": "ok", "llm": "fail: ..."}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by session stores with a reachable backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrUnavailable is the failure reported by [HealthyCheck].
var ErrUnavailable = errors.New("unavailable")

// ErrDraining is reported under the "server" check once [Handler.Drain] ran.
var ErrDraining = errors.New("draining")

// HealthyCheck adapts a boolean report, such as "some provider in the fallback
// group still has a closed circuit".
func HealthyCheck(name string, healthy func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if healthy() {
			return nil
		}
		return ErrUnavailable
	}}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves both probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a handler running checkers on every readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Drain makes readiness fail from now on so load balancers stop routing new
// sessions here while in-flight turns finish.
func (h *Handler) Drain() { h.draining.Store(true) }

// Register mounts the probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	write(w, http.StatusOK, report{Status: "ok"})
}

// Readyz reports the result of every check.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := h.run(r.Context())
	if h.draining.Load() {
		checks["server"] = "fail: " + ErrDraining.Error()
	}

	rep := report{Status: "ok", Checks: checks}
	code := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	write(w, code, rep)
}

// run executes all checks concurrently. A failing check never cancels the
// others, so the group functions always return nil.
func (h *Handler) run(ctx context.Context) map[string]string {
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(h.checkers)+1)
		g   errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			v := "ok"
			if err := c.Check(cctx); err != nil {
				v = "fail: " + err.Error()
			}
			mu.Lock()
			out[c.Name] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
