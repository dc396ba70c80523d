package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/apilens/apilens/internal/appid"
	"github.com/apilens/apilens/internal/observability"
	"github.com/apilens/apilens/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := handlers.NewHealthManager(s.deps.Version)
	if s.deps.Limiter != nil {
		limiter := s.deps.Limiter
		health.RegisterChecker("quota", handlers.HealthCheckerFunc(func(ctx context.Context) error {
			// Reading the snapshot also proves the controller's lock is healthy.
			_ = limiter.Status()
			return nil
		}))
	}

	s.router.Get("/healthz", health.HealthHandler)
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// API surface
	status := &handlers.StatusHandler{Limiter: s.deps.Limiter}
	call := &handlers.CallHandler{Executor: s.deps.Executor}
	s.router.Get("/api/v1/status", status.ServeHTTP)
	s.router.Post("/api/v1/calls", call.ServeHTTP)

	// Admin signal endpoint (optional, requires APILENS_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	ctx := context.Background()
	identity, _ := appid.Get(ctx)
	tokenVar := appid.EnvVar(identity, "ADMIN_TOKEN")

	adminToken := os.Getenv(tokenVar)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + tokenVar + " set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10, // 10 requests per minute
		RateBurst: 5,
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
