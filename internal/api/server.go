package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkfold/renderd/internal/cache"
	"github.com/inkfold/renderd/internal/joblog"
	"github.com/inkfold/renderd/internal/pool"
	"github.com/inkfold/renderd/internal/render"
)

// Dispatcher defines the pool operations the API needs.
type Dispatcher interface {
	Submit(ctx context.Context, job *render.Job) ([]byte, error)
	Stats() pool.Stats
}

// RenderLog defines the render history operations the API needs.
type RenderLog interface {
	Record(ctx context.Context, e joblog.Entry) error
	Recent(ctx context.Context, limit int) ([]joblog.Entry, error)
}

// Config holds API server configuration.
type Config struct {
	Listen       string
	CORSOrigin   string
	MaxBodyBytes int64
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	pool      Dispatcher
	cache     *cache.Cache
	renderLog RenderLog
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. cache and renderLog may be nil when
// the corresponding feature is disabled.
func New(config Config, pool Dispatcher, c *cache.Cache, renderLog RenderLog, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 4 << 20
	}
	return &Server{
		config:    config,
		pool:      pool,
		cache:     c,
		renderLog: renderLog,
		gatherer:  gatherer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if s.config.CORSOrigin != "" {
		r.Use(s.corsMiddleware)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Post("/render", s.handleRender)
	if s.renderLog != nil {
		r.Get("/jobs/recent", s.handleRecentJobs)
	}
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware allows browser clients from the configured origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.config.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
