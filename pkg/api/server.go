// Package api is the HTTP adapter (spec §6): a thin echo/v5 router that
// binds requests, delegates to pkg/lifecycle, pkg/store, pkg/webhook and
// pkg/stream, and maps errors back onto the status contract. Grounded on
// tarsy's pkg/api (Server/setupRoutes/mapServiceError), generalized from
// tarsy's oauth2-proxy-fronted auth model to this module's own bearer-token
// and rate-limit middleware (spec §6), since the control plane here is not
// deployed behind a reverse proxy.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/alert"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/config"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/lifecycle"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/metrics"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/stream"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/store"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/webhook"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg       *config.Config
	store     *store.Store
	lifecycle *lifecycle.Manager
	alert     *alert.Engine
	ingest    *webhook.Ingest
	gateway   *stream.Gateway
}

// NewServer wires every route in spec §6 behind the bearer-auth, CORS and
// rate-limit middleware.
func NewServer(cfg *config.Config, st *store.Store, lm *lifecycle.Manager, ae *alert.Engine, ingest *webhook.Ingest, gw *stream.Gateway) *Server {
	e := echo.New()

	s := &Server{
		echo:      e,
		cfg:       cfg,
		store:     st,
		lifecycle: lm,
		alert:     ae,
		ingest:    ingest,
		gateway:   gw,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(corsMiddleware(s.cfg.AllowedOrigins))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	}, bearerAuth(s.cfg.APIKey))

	limiter := newRateLimiter(s.cfg.RateLimitMax, s.cfg.RateLimitWindow)

	api := s.echo.Group("/api")
	api.Use(bearerAuth(s.cfg.APIKey))

	api.POST("/agents", s.registerAgentHandler, limiter)
	api.GET("/agents", s.listAgentsHandler)
	api.GET("/agents/:id", s.getAgentHandler)
	api.PATCH("/agents/:id", s.updateAgentHandler, limiter)
	api.DELETE("/agents/:id", s.deleteAgentHandler, limiter)

	api.GET("/agents/:id/tasks", s.listAgentTasksHandler)
	api.POST("/agents/:id/tasks", s.createTaskHandler, limiter)
	api.PATCH("/agents/:id/tasks/:taskId", s.updateTaskHandler, limiter)

	api.POST("/agents/:id/heartbeat", s.heartbeatHandler, limiter)
	api.POST("/agents/:id/block", s.blockHandler, limiter)
	api.POST("/agents/:id/error", s.recordErrorHandler, limiter)
	api.POST("/agents/:id/complete", s.completeTaskHandler, limiter)
	api.POST("/agents/:id/assign", s.assignTaskHandler, limiter)
	api.POST("/agents/:id/actions", s.actionHandler, limiter)

	api.POST("/linear/webhook", s.linearWebhookHandler, limiter)

	api.GET("/stream", s.streamHandler)

	api.GET("/settings/sleep-schedule", s.getSleepScheduleHandler)
	api.PUT("/settings/sleep-schedule", s.putSleepScheduleHandler, limiter)

	api.GET("/messages", s.listMessagesHandler)
	api.PATCH("/messages/:id/read", s.markMessageReadHandler, limiter)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"config": s.cfg.Stats(),
	})
}
