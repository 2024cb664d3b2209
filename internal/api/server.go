// Package api provides the REST API server for the crosspost engine.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v0 "github.com/stacklok/crosspost-server/internal/api/v0"
	"github.com/stacklok/crosspost-server/internal/config"
	"github.com/stacklok/crosspost-server/internal/notices"
	"github.com/stacklok/crosspost-server/internal/sites"
	"github.com/stacklok/crosspost-server/internal/sync"
)

// ServerOption configures the crosspost API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// Deps carries the collaborators the route handlers need.
type Deps struct {
	Config    *config.Config
	Registry  sites.Registry
	Scheduler sync.Scheduler
	Notices   *notices.Renderer
}

// NewServer creates and configures the HTTP router with the given
// dependencies and options
func NewServer(deps *Deps, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// Health check routes at root
	r.Mount("/", v0.HealthRouter())

	// Crosspost API v0 routes
	r.Mount("/api/v0", v0.Router(deps.Config, deps.Registry, deps.Scheduler, deps.Notices))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
