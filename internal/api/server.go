// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/cache"
	"github.com/profilehound/profilehound/internal/config"
	"github.com/profilehound/profilehound/internal/metrics"
	"github.com/profilehound/profilehound/internal/scrape"
)

// GitHubService is the outbound client surface the handlers need.
type GitHubService interface {
	Profile(ctx context.Context, username, token string) (*scrape.Profile, error)
	Repositories(ctx context.Context, username string, maxRepos int, token string) ([]scrape.Repository, error)
	Scrape(ctx context.Context, username string, opts scrape.Options, report func(int)) (*scrape.Result, error)
}

// JobService is the job manager surface the handlers need.
type JobService interface {
	Submit(ctx context.Context, username string, opts scrape.Options, format scrape.ExportFormat) (scrape.Job, error)
	Get(jobID string) (scrape.Job, error)
	List(status scrape.JobStatus, limit int) []scrape.Job
	Counts() map[string]int
	Cancel(jobID string) error
	Delete(jobID string) error
}

// ExportService produces export files for completed jobs.
type ExportService interface {
	Export(jobID string, format scrape.ExportFormat) ([]string, error)
	Files(jobID string) ([]string, error)
}

// Server wires HTTP handlers to the scraper, job manager, and exporter.
type Server struct {
	router    chi.Router
	github    GitHubService
	jobs      JobService
	exports   ExportService
	cache     *cache.Cache[any]
	exportDir string
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	github GitHubService,
	jobs JobService,
	exports ExportService,
	responseCache *cache.Cache[any],
	exportDir string,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		github:    github,
		jobs:      jobs,
		exports:   exports,
		cache:     responseCache,
		exportDir: exportDir,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scrape", func(r chi.Router) {
			r.Get("/profile/{username}", s.scrapeProfile)
			r.Get("/repositories/{username}", s.scrapeRepositories)
			r.Get("/complete/{username}", s.scrapeComplete)
			r.Post("/async/{username}", s.submitAsyncScrape)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Get("/stats", s.jobStats)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Post("/cancel", s.cancelJob)
				r.Get("/files", s.listExportFiles)
			})
		})
		r.Route("/export/{job_id}/{format}", func(r chi.Router) {
			r.Post("/", s.exportJob)
			r.Get("/", s.exportJob)
		})
		r.Get("/download/{job_id}/{filename}", s.downloadExport)
		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.cacheStats)
			r.Delete("/{key}", s.invalidateCacheKey)
		})
		r.Get("/stats", s.serviceStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// All dependencies are in-process; ready as soon as the server is up.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) invalidateCacheKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	removed := s.cache.Invalidate(key)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "invalidated": removed})
}

func (s *Server) serviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  s.jobs.Counts(),
		"cache": s.cache.Stats(),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
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
			elapsed := time.Since(start)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, elapsed)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("dur", elapsed),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
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

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// statusForError maps domain sentinels onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, scrape.ErrJobNotFound), errors.Is(err, scrape.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, scrape.ErrJobRunning), errors.Is(err, scrape.ErrJobTerminal):
		return http.StatusConflict
	case errors.Is(err, scrape.ErrJobNotReady):
		return http.StatusBadRequest
	case errors.Is(err, scrape.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
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
