package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/analytics"
	"github.com/JakeFAU/linkgate/internal/browser"
	"github.com/JakeFAU/linkgate/internal/escape"
	"github.com/JakeFAU/linkgate/internal/gatekeeper"
	"github.com/JakeFAU/linkgate/internal/logging"
	"github.com/JakeFAU/linkgate/internal/metrics"
	"github.com/JakeFAU/linkgate/internal/signals"
)

// IDGenerator issues request IDs.
type IDGenerator interface {
	MustID() string
}

// Clock stamps events recorded without a client timestamp.
type Clock interface {
	Now() time.Time
}

// ReadinessCheck reports whether a downstream dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators the HTTP surface needs. Gatekeeper, Detector,
// Escape, Recorder, IDs, and Clock are required; Reader may be nil when no
// readable sink is configured.
type Deps struct {
	Gatekeeper *gatekeeper.Gatekeeper
	Detector   *browser.Detector
	Escape     *escape.Orchestrator
	Recorder   analytics.Emitter
	Reader     analytics.Reader
	Ready      []ReadinessCheck
	IDs        IDGenerator
	Clock      Clock
	Table      signals.Table
	Logger     *zap.Logger
}

// Server wires the gatekeeper, browser detector, escape planner, and
// analytics recorder behind one chi router.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Gatekeeper == nil:
		return nil, errors.New("api: gatekeeper is required")
	case deps.Detector == nil:
		return nil, errors.New("api: detector is required")
	case deps.Escape == nil:
		return nil, errors.New("api: escape orchestrator is required")
	case deps.Recorder == nil:
		return nil, errors.New("api: recorder is required")
	case deps.IDs == nil:
		return nil, errors.New("api: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("api: clock is required")
	}
	if deps.Table.Version == "" {
		deps.Table = signals.Default
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(deps.IDs, logger))
	r.Use(recoverMiddleware(logger))
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(deps.Gatekeeper.Middleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/track", s.track)
		r.Get("/analytics", s.listAnalytics)
		r.Post("/visit-beacon", s.visitBeacon)
	})

	r.Get("/*", s.page)

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.deps.Ready {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			logging.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

const maxBodyBytes = 64 << 10
