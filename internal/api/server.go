// Package api provides the HTTP/WebSocket request surface: accept a
// message (creating a job for user messages), poll a job by id, execute
// an analytics query synchronously, and upgrade live client channels
// that the Session Registry then fans events out to.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/splunk-chatops/dispatcher/internal/bus"
	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/metrics"
	"github.com/splunk-chatops/dispatcher/internal/pipeline"
	"github.com/splunk-chatops/dispatcher/internal/scheduler"
	"github.com/splunk-chatops/dispatcher/internal/session"
	"github.com/splunk-chatops/dispatcher/internal/store"
)

// maxMessageContentLength bounds a single chat message's content.
const maxMessageContentLength = 100_000

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	store      store.Store
	sched      *scheduler.Scheduler
	engine     *pipeline.Engine
	registry   *session.Registry
	bus        *bus.Bus
}

// NewServer creates the API server with Echo v5 and registers all routes.
func NewServer(cfg *config.Config, st store.Store, sched *scheduler.Scheduler, engine *pipeline.Engine, registry *session.Registry, b *bus.Bus) *Server {
	e := echo.New()

	s := &Server{
		echo:     e,
		cfg:      cfg,
		store:    st,
		sched:    sched,
		engine:   engine,
		registry: registry,
		bus:      b,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.cfg.CORS.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		}))
	}

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	v1 := s.echo.Group("/api/v1")
	v1.Use(s.authenticate())

	v1.POST("/conversations", s.createConversationHandler)
	v1.GET("/conversations/:id/messages", s.listMessagesHandler)
	v1.POST("/conversations/:id/messages", s.createMessageHandler)
	v1.DELETE("/conversations/:id", s.deleteConversationHandler)

	v1.GET("/jobs/:id", s.getJobHandler)

	v1.POST("/query", s.executeQueryHandler)

	// WebSocket endpoint for the live client channel.
	v1.GET("/ws", s.wsHandler)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler exposes the root handler for httptest-based tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Shutdown drains in-flight requests up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": s.registry.ActiveSessions(),
		"active_jobs":     len(s.sched.ActiveJobIDs()),
	})
}
