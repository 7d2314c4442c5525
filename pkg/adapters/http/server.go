// Package http exposes a read-only view of the engine over HTTP: instance
// trees, waiting tasks and history, plus health, info and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/pvm"
	"github.com/aretw0/pvm/pkg/domain"
	"github.com/aretw0/pvm/pkg/persistence/middleware"
)

// Engine is the subset of the engine the handler reads from.
type Engine interface {
	Instances(ctx context.Context) ([]string, error)
	Instance(ctx context.Context, instanceID string) (*domain.ProcessInstance, error)
	Tasks(ctx context.Context, instanceID string) ([]domain.Task, error)
	History(ctx context.Context, instanceID string) ([]domain.HistoryEvent, error)
}

// Pinger is implemented by stores that can report their backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the inspection API.
type Server struct {
	Engine   Engine
	Pinger   Pinger
	Gatherer prometheus.Gatherer
	Redactor *middleware.Redactor
	Logger   *slog.Logger
}

// Option configures the handler.
type Option func(*Server)

// WithPinger makes /health report the backend reachability.
func WithPinger(p Pinger) Option {
	return func(s *Server) {
		s.Pinger = p
	}
}

// WithGatherer serves /metrics from the given registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.Gatherer = g
	}
}

// WithRedactor masks sensitive variables in instance and task responses.
func WithRedactor(r *middleware.Redactor) Option {
	return func(s *Server) {
		s.Redactor = r
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{Engine: engine, Logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.ListInstances)
		r.Get("/{id}", s.GetInstance)
		r.Get("/{id}/tasks", s.GetTasks)
		r.Get("/{id}/history", s.GetHistory)
	})
	return r
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	if s.Pinger != nil {
		if err := s.Pinger.Ping(r.Context()); err != nil {
			s.Logger.Warn("health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "pvm-http",
		"version": strings.TrimSpace(pvm.Version),
	})
}

// ListInstances handles the GET /instances request.
func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Instances(r.Context())
	if err != nil {
		s.fail(w, "list instances", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

// GetInstance handles the GET /instances/{id} request.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.Engine.Instance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "load instance", err)
		return
	}
	if s.Redactor != nil {
		inst = s.Redactor.Instance(inst)
	}
	s.writeJSON(w, http.StatusOK, inst)
}

// GetTasks handles the GET /instances/{id}/tasks request.
func (s *Server) GetTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Engine.Tasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	if s.Redactor != nil {
		tasks = s.Redactor.Tasks(tasks)
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

// GetHistory handles the GET /instances/{id}/history request.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.Engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "read history", err)
		return
	}
	if events == nil {
		events = []domain.HistoryEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInstanceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pvm.ErrNoHistory):
		status = http.StatusNotImplemented
	default:
		s.Logger.Error(op+" failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("response encode failed", "error", err)
	}
}
