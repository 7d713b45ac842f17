// Package server is the HTTP surface: a chi router over the search
// orchestrator with request-scoped logging, Prometheus instrumentation, and
// graceful shutdown. Handlers stay thin; every search decision lives in
// internal/search.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rxsearch/internal/logging"
	"rxsearch/internal/metrics"
	"rxsearch/internal/search"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Searcher is the orchestrator surface the handlers call.
type Searcher interface {
	Run(ctx context.Context, rawQuery string, opts search.Options) (*search.Response, error)
	GetDrug(ctx context.Context, ndc string) (*search.Detail, error)
	Alternatives(ctx context.Context, ndc string) (*search.AlternativeSet, error)
}

// HealthCheck is one named dependency probe for /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Config tunes the HTTP listener.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// RequestTimeout bounds each request's context.
	RequestTimeout time.Duration

	// ShutdownTimeout bounds the drain on graceful shutdown.
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// =============================================================================
// SERVER
// =============================================================================

// Server owns the router and listener lifecycle.
type Server struct {
	searcher Searcher
	checks   []HealthCheck
	validate *validator.Validate
	logger   *zap.Logger
	cfg      Config
}

// New assembles a Server. checks may be empty; /healthz then reports liveness
// only.
func New(searcher Searcher, checks []HealthCheck, logger *zap.Logger, cfg Config) *Server {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		searcher: searcher,
		checks:   checks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		cfg:      cfg,
	}
}

// Router builds the chi handler tree with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.recoverer)
	r.Use(s.requestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware())
	r.Use(chiMiddleware.Timeout(s.cfg.RequestTimeout))

	r.Post("/search", s.handleSearch)
	r.Get("/drugs/{ndc}", s.handleGetDrug)
	r.Get("/drugs/{ndc}/alternatives", s.handleAlternatives)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// Run serves until ctx is cancelled, then drains within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// Write timeout sits above the request timeout so the handler, not
		// the listener, decides how a slow request ends.
		WriteTimeout: s.cfg.RequestTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", zap.Duration("drain", s.cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.logger.Info("server stopped")
	return nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// requestID attaches a correlation id to the request context, the response,
// and a child logger. An inbound X-Request-ID is honored so callers can trace
// across services.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		reqLogger := s.logger.With(zap.String("request_id", id))
		ctx := logging.WithContext(r.Context(), reqLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer converts a handler panic into a JSON 500 instead of chi's plain
// text stack dump.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logging.FromContext(r.Context()).Error("panic recovered",
					zap.Any("panic", rvr),
					zap.Stack("stacktrace"),
				)
				writeErrorBody(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLog emits one canonical line per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.FromContext(r.Context()).Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.Int("response_bytes", ww.BytesWritten()),
			zap.String("remote", r.RemoteAddr),
		)
	})
}
