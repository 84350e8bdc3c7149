package devserver

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/csaude/comvida/internal/platform/auth"
	"github.com/csaude/comvida/internal/platform/db"
	"github.com/csaude/comvida/internal/platform/middleware"
)

// Config holds what the HTTP layer needs; storage is chosen by the caller.
type Config struct {
	// Backend names the repository in health output ("memory" or "postgres").
	Backend  string
	Envelope string
	// RequireAuth turns on bearer verification and the editor role check
	// on writes.
	RequireAuth bool
	JWT         auth.JWTConfig
	RateLimit   middleware.RateLimitConfig
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewServer wires middleware and routes. The API lives under /api.
func NewServer(svc *Service, cfg Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(cfg.Backend, svc))
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	api.Use(middleware.RateLimit(cfg.RateLimit))

	var writeGuard echo.MiddlewareFunc
	if cfg.RequireAuth {
		jwtCfg := cfg.JWT
		jwtCfg.Skipper = auth.AuthSkipper
		api.Use(auth.JWTMiddleware(jwtCfg))
		writeGuard = auth.RequireRole(auth.RoleEditor)
	}

	NewHandler(svc, cfg.Envelope, cfg.JWT).RegisterRoutes(api, writeGuard)
	return e
}
