package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/middleware"
)

// RouterConfig wires the handlers into a router.
type RouterConfig struct {
	Logger   *slog.Logger
	Recorder metrics.Recorder
	Nipsa    *NipsaHandler
	Health   *HealthHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Auth enables API key authentication when set.
	Auth          *middleware.AuthConfig
	IsDevelopment bool
}

// NewRouter builds the Administrative API router. The denylist routes are
// served both at the root and under /api.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := New()
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger, cfg.Recorder))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(cfg.IsDevelopment))

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Healthz)
		r.Get("/readyz", cfg.Health.Readyz)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	nipsaRoutes := func(r chi.Router) {
		r.Use(middleware.MaxBodySize(middleware.DefaultMaxBodySize))

		read, admin := passthrough, passthrough
		if cfg.Auth != nil {
			r.Use(middleware.Auth(*cfg.Auth))
			read, admin = middleware.RequireRead(), middleware.RequireAdmin()
		}

		r.With(read).Get("/", cfg.Nipsa.List)
		r.With(read).Get("/{id}", cfg.Nipsa.Read)
		r.With(admin).Put("/{id}", cfg.Nipsa.Flag)
		r.With(admin).Delete("/{id}", cfg.Nipsa.Unflag)
	}
	r.Route("/nipsa/user", nipsaRoutes)
	r.Route("/api/nipsa/user", nipsaRoutes)

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
