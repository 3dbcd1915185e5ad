// Package httpapi exposes the reconciliation service over HTTP.
//
// The surface follows the reconciliation protocol: the service endpoint at /
// returns the manifest on a bare GET and processes form-encoded query batches
// on GET or POST, with /preview, /flyout/entity and the /suggest/* endpoints
// alongside. Operational endpoints (/metrics, /healthz, /readyz) live on the
// same router. The package is a thin framing layer: it decodes requests,
// calls the service and encodes responses, nothing else.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/health"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/observe"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/service"
)

// maxBatchBytes caps the size of an incoming query batch.
const maxBatchBytes = 1 << 20

// Server wires the reconciliation service into an HTTP router.
type Server struct {
	svc     *service.Service
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithMetrics attaches the metrics instance used by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a Server around svc. The health handler may carry readiness
// checkers for the database and providers.
func New(svc *service.Service, h *health.Handler, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		health: h,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Router builds the chi router with all protocol and operational routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Get("/", s.handleReconcile)
	r.Post("/", s.handleReconcile)
	r.Get("/preview", s.handlePreview)
	r.Get("/flyout/entity", s.handleFlyout)
	r.Get("/suggest/entity", s.handleSuggestEntity)
	r.Get("/suggest/type", s.handleSuggestType)
	r.Get("/suggest/property", s.handleSuggestProperty)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)

	return r
}

// handleReconcile serves the reconciliation service endpoint. A request
// without a queries payload returns the service manifest; otherwise the
// batch is reconciled and the keyed result map returned in request order.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	raw, err := s.readQueries(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(raw) == 0 {
		writeJSON(w, http.StatusOK, s.svc.Metadata())
		return
	}

	batch, err := service.ParseBatch(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed query batch: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.svc.Reconcile(r.Context(), batch))
}

// readQueries extracts the raw batch JSON from the request. The protocol
// sends it as a form field named "queries" (query string on GET, urlencoded
// body on POST); a POST with a JSON content type carries it as the body.
func (s *Server) readQueries(r *http.Request) ([]byte, error) {
	if r.Method == http.MethodPost && isJSONRequest(r) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes))
		if err != nil {
			return nil, errors.New("read request body: " + err.Error())
		}
		return body, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBatchBytes)
	if err := r.ParseForm(); err != nil {
		return nil, errors.New("parse form: " + err.Error())
	}
	q := r.FormValue("queries")
	if q == "" {
		return nil, nil
	}
	return []byte(q), nil
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func (s *Server) handleFlyout(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	res, err := s.svc.Flyout(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggestEntity(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	entity := r.URL.Query().Get("type")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	res, err := s.svc.SuggestEntity(r.Context(), prefix, entity, limit)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggestType(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SuggestType(r.URL.Query().Get("prefix")))
}

func (s *Server) handleSuggestProperty(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.SuggestProperty(r.URL.Query().Get("prefix"), r.URL.Query().Get("type"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writeLookupError maps domain errors of single-entity lookups to HTTP
// status codes.
func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, reconcile.ErrMalformedID), errors.Is(err, reconcile.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reconcile.ErrUnknownEntityType):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
