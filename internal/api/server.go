// Package api exposes the collector over HTTP: REST endpoints for hosts,
// sessions, alerts, and history, plus a websocket feed of live state changes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/alerts"
	"fleetwatch/internal/config"
	"fleetwatch/internal/distributor"
	"fleetwatch/internal/history"
	"fleetwatch/internal/logger"
)

// Controller is the slice of the daemon the API needs: manual refresh and
// confirmed session kills.
type Controller interface {
	Refresh()
	KillSession(ctx context.Context, id, confirm string) error
	Started() time.Time
}

// Server wires the HTTP routes to the live components.
type Server struct {
	cfg     config.ServerConfig
	version string
	engine  *alerts.Engine
	store   history.Store
	hub     *distributor.Hub
	control Controller
	log     logger.Logger
	router  *gin.Engine
}

// NewServer builds the router with all routes registered.
func NewServer(cfg config.ServerConfig, version string, engine *alerts.Engine, store history.Store, hub *distributor.Hub, control Controller, log logger.Logger) *Server {
	if log == nil {
		log = logger.Noop()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		version: version,
		engine:  engine,
		store:   store,
		hub:     hub,
		control: control,
		log:     log,
		router:  gin.New(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestLogger())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := s.router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.POST("/refresh", s.postRefresh)

		api.GET("/hosts", s.listHosts)
		api.GET("/hosts/:host", s.getHost)

		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/kill", s.killSession)

		api.GET("/alerts", s.listAlerts)
		api.POST("/alerts/:id/acknowledge", s.acknowledgeAlert)

		api.GET("/history/hosts/:host", s.getHostHistory)
		api.GET("/history/transitions", s.getTransitions)
	}

	s.router.GET("/ws", s.serveWS)
}

// requestLogger logs each request after it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http %s %s status=%d duration=%s client=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Microsecond), c.ClientIP())
	}
}

// Handler returns the router for serving or for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
