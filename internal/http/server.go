// Package httpserver exposes the read-only HTTP surface: health, diff and
// plan previews, and Prometheus metrics. Nothing served here writes to the
// target database.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"db_schema_reconciler/internal/engine"
)

type Server struct {
	addr   string
	logger requestLogger
	engine *engine.Engine
	target Pinger
}

type requestLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func New(addr string, logger requestLogger, eng *engine.Engine, target Pinger) *Server {
	return &Server{
		addr:   addr,
		logger: logger,
		engine: eng,
		target: target,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Method(http.MethodGet, "/healthz", HealthHandler{DB: s.target})
	r.Method(http.MethodGet, "/metrics", s.engine.Metrics().Handler())

	h := &SchemaHandler{engine: s.engine, logger: s.logger}
	r.Route("/api", func(api chi.Router) {
		api.Get("/diff", h.Diff)
		api.Get("/plan", h.Plan)
	})
	return r
}
