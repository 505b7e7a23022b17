package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/go-playground/validator/v10"

	"github.com/seantiz/turnstile/internal/engine"
	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/store"
	"github.com/seantiz/turnstile/internal/task"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	queue    *engine.Queue
	kinds    *task.Registry
	store    store.Store
	validate *validator.Validate
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures a new HTTP server. s may be nil, in which
// case the history endpoints report an empty history.
func NewServer(addr string, q *engine.Queue, kinds *task.Registry, s store.Store, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		queue:    q,
		kinds:    kinds,
		store:    s,
		validate: validator.New(),
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/kinds", s.handleListKinds)
	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Post("/v1/cleanup", s.handleForceCleanup)

	s.router.Route("/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleSubmitTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.requireTaskID)
			r.Get("/", s.handleGetTask)
			r.Get("/result", s.handleGetResult)
			r.Get("/events", s.handleStreamEvents)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Delete("/", s.handleCancelTask)
		})
	})

	s.router.Route("/v1/history", func(r chi.Router) {
		r.Get("/", s.handleListHistory)
		r.Get("/{id}", s.handleGetHistory)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received
// or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", ctx.Err().Error())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// requireTaskID answers 404 for ids that could never have been issued.
func (s *Server) requireTaskID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.ValidID(chi.URLParam(r, "id")) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
