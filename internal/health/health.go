// Package health serves liveness and readiness probes. /healthz answers 200
// whenever the process is up; /readyz runs the registered checkers and answers
// 503 if any of them fails. Both respond with a JSON body carrying the overall
// status, the service version, and per-checker outcomes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps how long a single readiness checker may run.
const probeTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency is
// usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so it is safe for concurrent use.
type Handler struct {
	version  string
	checkers []Checker
}

// New returns a Handler running the given checkers, in order, on each /readyz
// request. version is echoed in responses; an empty string omits the field.
func New(version string, checkers ...Checker) *Handler {
	return &Handler{version: version, checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200. A process able to serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Version: h.version})
}

// Readyz answers 200 only when every checker passes. Failures are reported per
// checker as "fail: <reason>".
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status:  "ok",
		Version: h.version,
		Checks:  make(map[string]string, len(h.checkers)),
	}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, code, res)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
