package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-extractor/internal/config"
	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/metrics"
	"github.com/JakeFAU/doc-extractor/internal/status"
)

const (
	bannerMessage      = "Documentation Extractor Service API"
	maxRequestBodySize = 1 << 20
)

// Jobs is the write side of the job registry.
type Jobs interface {
	Submit(ctx context.Context, req crawler.ExtractionRequest) (crawler.Job, error)
	Cancel(ctx context.Context, id string) (crawler.Job, error)
	Delete(ctx context.Context, id string) error
}

// ReadyCheck reports whether a downstream dependency can take traffic.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the registry and status reporter.
type Server struct {
	router   chi.Router
	jobs     Jobs
	reporter *status.Reporter
	checks   []ReadyCheck
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs Jobs,
	reporter *status.Reporter,
	cfg config.Config,
	logger *zap.Logger,
	checks ...ReadyCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:     jobs,
		reporter: reporter,
		checks:   checks,
		cfg:      cfg,
		logger:   logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/extract", s.submit)
		r.Post("/extract/{extraction_id}/cancel", s.cancel)
		r.Delete("/extract/{extraction_id}", s.delete)
		r.Get("/status/{extraction_id}", s.getStatus)
		r.Get("/results/{extraction_id}", s.getResults)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": bannerMessage})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type extractRequest struct {
	URL         string            `json:"url"`
	Company     string            `json:"company"`
	CompanyType string            `json:"company_type"`
	Product     string            `json:"product"`
	ProductType string            `json:"product_type"`
	Recursive   bool              `json:"recursive"`
	MaxDepth    *int              `json:"max_depth"`
	Selectors   map[string]string `json:"selectors"`
}

type extractResponse struct {
	URL          string            `json:"url"`
	Status       crawler.JobStatus `json:"status"`
	Company      string            `json:"company"`
	Product      string            `json:"product,omitempty"`
	ExtractionID string            `json:"extraction_id"`
	Entities     []crawler.Entity  `json:"extracted_entities"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var body extractRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := crawler.ExtractionRequest{
		URL:         body.URL,
		Company:     body.Company,
		CompanyType: body.CompanyType,
		Product:     body.Product,
		ProductType: body.ProductType,
		Recursive:   body.Recursive,
		MaxDepth:    valueOrDefault(body.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		Selectors:   body.Selectors,
	}
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, extractResponse{
		URL:          job.Request.URL,
		Status:       job.Status,
		Company:      job.Request.Company,
		Product:      job.Request.Product,
		ExtractionID: job.ID,
		Entities:     []crawler.Entity{},
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.reporter.Status(r.Context(), chi.URLParam(r, "extraction_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	view, err := s.reporter.Results(r.Context(), chi.URLParam(r, "extraction_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "extraction_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status.ProjectStatus(job))
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "extraction_id")); err != nil {
		s.writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "Extraction job not found")
	case errors.Is(err, crawler.ErrFinished), errors.Is(err, crawler.ErrNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, crawler.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "too many extractions in progress, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
