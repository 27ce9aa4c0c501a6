// Package http is the HTTP surface over the dispatcher. Handlers stay
// thin: decode, call the dispatcher, map the error class to a status
// code. Async operations answer 202 with the correlation id to poll.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/c360/recordstream/dispatch"
	"github.com/c360/recordstream/envelope"
	apperrors "github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/metric"
	"github.com/c360/recordstream/record"
)

// maxImportBytes bounds uploaded CSV documents
const maxImportBytes = 32 << 20

// Server hosts the record API
type Server struct {
	dispatcher *dispatch.Dispatcher
	router     *chi.Mux
	server     *http.Server
	logger     *slog.Logger
	metrics    *metric.MetricsRegistry
	health     func() error
}

// Config describes the listener
type Config struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultConfig returns the listener defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetricsRegistry exposes the registry on /metrics
func WithMetricsRegistry(m *metric.MetricsRegistry) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck adds a dependency probe to /healthz. A non-nil error
// reports 503.
func WithHealthCheck(check func() error) Option {
	return func(s *Server) { s.health = check }
}

// NewServer builds the router and listener
func NewServer(cfg Config, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: dispatcher,
		router:     chi.NewRouter(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(cfg.WriteTimeout))

	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Route("/records", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
		r.Post("/import", s.handleImport)
		r.Post("/export", s.handleExport)
	})
	s.router.Route("/jobs", func(r chi.Router) {
		r.Get("/{id}", s.handleJobStatus)
		r.Get("/{id}/result", s.handleJobResult)
	})
	s.router.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
}

// Handler returns the router, for tests
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound),
		apperrors.Is(err, apperrors.ErrJobNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrVersionConflict):
		return http.StatusConflict
	case apperrors.Is(err, apperrors.ErrJobNotCompleted):
		return http.StatusConflict
	case apperrors.Is(err, apperrors.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	case apperrors.IsInvalid(err):
		return http.StatusBadRequest
	case apperrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req record.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, apperrors.WrapInvalid(apperrors.ErrInvalidData, "Server", "handleCreate", "malformed json body"))
		return
	}

	rec, err := s.dispatcher.Create(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dispatcher.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := dispatch.ListOptions{
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("page_size"), 0),
		Query:    q.Get("q"),
	}

	result, err := s.dispatcher.List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req record.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, apperrors.WrapInvalid(apperrors.ErrInvalidData, "Server", "handleUpdate", "malformed json body"))
		return
	}

	rec, err := s.dispatcher.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dispatcher.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

type acceptedResponse struct {
	CorrelationID string `json:"correlation_id"`
	StatusURL     string `json:"status_url"`
}

func (s *Server) accepted(w http.ResponseWriter, correlationID string) {
	s.respondJSON(w, http.StatusAccepted, acceptedResponse{
		CorrelationID: correlationID,
		StatusURL:     "/jobs/" + correlationID,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	csv, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		s.respondError(w, apperrors.WrapInvalid(apperrors.ErrInvalidData, "Server", "handleImport", "read body"))
		return
	}
	if len(csv) > maxImportBytes {
		s.respondError(w, apperrors.WrapInvalid(apperrors.ErrValidation, "Server", "handleImport", "document too large"))
		return
	}

	mode := envelope.ImportMode(r.URL.Query().Get("mode"))
	id, err := s.dispatcher.Import(r.Context(), csv, mode)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.accepted(w, id)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := s.dispatcher.Export(r.Context(), r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.accepted(w, id)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.dispatcher.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	data, err := s.dispatcher.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	contentType := http.DetectContentType(data)
	if json.Valid(data) {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("result write failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
